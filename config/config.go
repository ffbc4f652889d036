// Package config holds the engine's protocol defaults and the tunable
// settings a host can load from a YAML file.
package config

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultPort = "1935"
const DefaultTLSPort = "443"

// OutChunkSize is announced with a Set Chunk Size message right after the
// handshake so outbound media does not run at the 128-byte default.
const OutChunkSize uint32 = 4096

// WindowSize is the window acknowledgement size announced to the peer.
const WindowSize uint32 = 2500000

// QueueHighWater is the outbound queue depth at which producers block.
// Keeping it small bounds latency: media waits in the encoder, not here.
const QueueHighWater = 3

const ConnectTimeout = 15 * time.Second

// FlashVersion is the client version string sent in the connect command.
const FlashVersion = "FMLE/3.0 (compatible; FMS/3,5,7,7009)"

// Settings are the per-connection tunables. The zero value is not usable;
// start from Default.
type Settings struct {
	ChunkSize      uint32        `yaml:"chunk_size"`
	WindowSize     uint32        `yaml:"window_size"`
	QueueHighWater int           `yaml:"queue_high_water"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	FlashVersion   string        `yaml:"flash_version"`

	// Dial overrides the transport dialer. Hosts with custom networking
	// (SOCKS, in-process pipes in tests) set it; nil means net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error) `yaml:"-"`
}

func Default() Settings {
	return Settings{
		ChunkSize:      OutChunkSize,
		WindowSize:     WindowSize,
		QueueHighWater: QueueHighWater,
		ConnectTimeout: ConnectTimeout,
		FlashVersion:   FlashVersion,
	}
}

// Load reads settings from a YAML file, filling omitted fields with
// defaults.
func Load(path string) (Settings, error) {
	s := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrap(err, "read settings file")
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, errors.Wrap(err, "parse settings file")
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// UnmarshalYAML lets connect_timeout carry a duration string ("5s") and
// keeps the caller's defaults for omitted fields.
func (s *Settings) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ChunkSize      *uint32 `yaml:"chunk_size"`
		WindowSize     *uint32 `yaml:"window_size"`
		QueueHighWater *int    `yaml:"queue_high_water"`
		ConnectTimeout string  `yaml:"connect_timeout"`
		FlashVersion   *string `yaml:"flash_version"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.ChunkSize != nil {
		s.ChunkSize = *raw.ChunkSize
	}
	if raw.WindowSize != nil {
		s.WindowSize = *raw.WindowSize
	}
	if raw.QueueHighWater != nil {
		s.QueueHighWater = *raw.QueueHighWater
	}
	if raw.ConnectTimeout != "" {
		d, err := time.ParseDuration(raw.ConnectTimeout)
		if err != nil {
			return errors.Wrap(err, "parse connect_timeout")
		}
		s.ConnectTimeout = d
	}
	if raw.FlashVersion != nil {
		s.FlashVersion = *raw.FlashVersion
	}
	return nil
}

func (s *Settings) Validate() error {
	if s.ChunkSize < 128 {
		return errors.Errorf("chunk_size %d below protocol minimum 128", s.ChunkSize)
	}
	if s.QueueHighWater < 1 {
		return errors.Errorf("queue_high_water must be positive, got %d", s.QueueHighWater)
	}
	if s.ConnectTimeout <= 0 {
		return errors.Errorf("connect_timeout must be positive, got %s", s.ConnectTimeout)
	}
	return nil
}
