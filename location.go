package rtmp

import (
	"crypto/tls"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/config"
)

type Scheme string

const (
	SchemeRTMP  Scheme = "rtmp"
	SchemeRTMPS Scheme = "rtmps"
)

type AuthMode string

const (
	AuthNone  AuthMode = "none"
	AuthAuto  AuthMode = "auto"
	AuthAdobe AuthMode = "adobe"
)

var ErrInvalidScheme = errors.New("rtmp: invalid scheme in URL")
var ErrInvalidPath = errors.New("rtmp: URL path must contain an application and a stream name")

// Location identifies the remote endpoint and stream a connection targets.
// It is read-only once Connect starts; reconnecting with different
// parameters means a new Location and a new Connection.
type Location struct {
	Scheme      Scheme
	Host        string
	Port        string
	App         string
	Stream      string
	Username    string
	Password    string
	SecureToken string
	AuthMode    AuthMode

	// TLSConfig applies when Scheme is rtmps; nil means defaults.
	TLSConfig *tls.Config

	// Timeout bounds dialing and the handshake. Zero means use the
	// connect timeout from settings.
	Timeout time.Duration
}

// ParseLocation splits an rtmp:// or rtmps:// URL into a Location. The last
// path element is the stream name and everything before it is the
// application, so "rtmp://host/app/instance/key" yields app "app/instance"
// and stream "key".
func ParseLocation(addr string) (*Location, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, errors.Wrap(err, "parse location")
	}

	loc := &Location{
		AuthMode: AuthAuto,
	}
	switch Scheme(u.Scheme) {
	case SchemeRTMP:
		loc.Scheme = SchemeRTMP
	case SchemeRTMPS:
		loc.Scheme = SchemeRTMPS
	default:
		return nil, errors.Wrapf(ErrInvalidScheme, "%q", u.Scheme)
	}

	loc.Host = u.Hostname()
	loc.Port = u.Port()
	if loc.Port == "" {
		if loc.Scheme == SchemeRTMPS {
			loc.Port = config.DefaultTLSPort
		} else {
			loc.Port = config.DefaultPort
		}
	}

	if u.User != nil {
		loc.Username = u.User.Username()
		loc.Password, _ = u.User.Password()
	}

	path := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(path) < 2 || path[0] == "" {
		return nil, errors.Wrapf(ErrInvalidPath, "%q", u.Path)
	}
	loc.App = strings.Join(path[:len(path)-1], "/")
	loc.Stream = path[len(path)-1]
	return loc, nil
}

// Addr returns the dialable host:port.
func (l *Location) Addr() string {
	return net.JoinHostPort(l.Host, l.Port)
}

// TCURL returns the tcUrl value sent in the connect command. Credentials
// are never part of it.
func (l *Location) TCURL() string {
	return string(l.Scheme) + "://" + l.Addr() + "/" + l.App
}

// String renders the location without credentials, for logs.
func (l *Location) String() string {
	return l.TCURL() + "/" + l.Stream
}
