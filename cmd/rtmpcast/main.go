package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp"
	"github.com/tidalstream/rtmp/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	verbose    bool
	configPath string

	globalFlags = []cli.Flag{
		&cli.BoolFlag{
			Name:        "verbose",
			Aliases:     []string{"v"},
			Usage:       "enable debug logging",
			Destination: &verbose,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to a YAML settings file",
			Destination: &configPath,
		},
	}
)

func main() {
	app := &cli.App{
		Name:  "rtmpcast",
		Usage: "Publish FLV files to, and record FLV files from, RTMP servers.",
		Action: func(c *cli.Context) error {
			cli.ShowAppHelp(c)
			return nil
		},
		Flags: globalFlags,
		Commands: []*cli.Command{
			{
				Name:    "publish",
				Aliases: []string{"pub"},
				Usage:   "Publish an FLV file (or stdin) to an RTMP URL.",
				Flags:   globalFlags,
				Action: func(c *cli.Context) error {
					args := c.Args()
					if args.Len() < 1 || args.Len() > 2 {
						return errors.New("usage: rtmpcast publish <rtmp-url> [file.flv]")
					}
					return runPublish(args.Get(0), args.Get(1))
				},
			},
			{
				Name:  "play",
				Usage: "Play an RTMP URL and record it as FLV (file or stdout).",
				Flags: globalFlags,
				Action: func(c *cli.Context) error {
					args := c.Args()
					if args.Len() < 1 || args.Len() > 2 {
						return errors.New("usage: rtmpcast play <rtmp-url> [file.flv]")
					}
					return runPlay(args.Get(0), args.Get(1))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func loadSettings() (config.Settings, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func runPublish(rawURL, path string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	loc, err := rtmp.ParseLocation(rawURL)
	if err != nil {
		return err
	}
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	in := os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := rtmp.Publish(ctx, logger, loc, settings)
	if err != nil {
		return err
	}
	defer session.Close()

	return copyFLV(ctx, session, bufio.NewReaderSize(in, 64*1024))
}

// tagWriter is the session surface copyFLV needs; *rtmp.PublishSession
// satisfies it.
type tagWriter interface {
	Write(tag []byte) error
}

// copyFLV streams the FLV container at r into the session, one complete
// tag (header, payload and previous-tag-size footer) at a time. Send
// pacing comes from the connection's backpressure, not from tag
// timestamps.
func copyFLV(ctx context.Context, session tagWriter, r *bufio.Reader) error {
	header := make([]byte, 13)
	if _, err := io.ReadFull(r, header); err != nil {
		return errors.Wrap(err, "read flv file header")
	}
	if err := session.Write(header); err != nil {
		return err
	}

	tagHeader := make([]byte, 11)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := io.ReadFull(r, tagHeader); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "read flv tag header")
		}
		length := uint32(tagHeader[1])<<16 | uint32(tagHeader[2])<<8 | uint32(tagHeader[3])
		tag := make([]byte, 11+int(length)+4)
		copy(tag, tagHeader)
		if _, err := io.ReadFull(r, tag[11:]); err != nil {
			return errors.Wrap(err, "read flv tag payload")
		}
		if err := session.Write(tag); err != nil {
			return err
		}
	}
}

func runPlay(rawURL, path string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	loc, err := rtmp.ParseLocation(rawURL)
	if err != nil {
		return err
	}
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriterSize(out, 64*1024)
	defer w.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	handlers := rtmp.PlayHandlers{
		OnTag: func(tag []byte) {
			if _, err := w.Write(tag); err != nil {
				logger.Error("writing flv output", zap.Error(err))
			}
		},
		OnEnd: func() {
			close(done)
		},
	}

	session, err := rtmp.Play(ctx, logger, loc, settings, handlers)
	if err != nil {
		return err
	}
	defer session.Close()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}
