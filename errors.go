package rtmp

import "github.com/pkg/errors"

// Error kinds surfaced by the engine. Lower layers wrap one of these with
// github.com/pkg/errors so callers can classify failures with errors.Is.
var ErrHandshake = errors.New("rtmp: handshake failed")
var ErrDecode = errors.New("rtmp: malformed chunk stream")
var ErrTransport = errors.New("rtmp: transport error")
var ErrAuthDenied = errors.New("rtmp: authentication denied")
var ErrStreamAlreadyExists = errors.New("rtmp: stream is already being published")
var ErrPublishDenied = errors.New("rtmp: publish denied")
var ErrCommandFailed = errors.New("rtmp: command failed")
var ErrCancelled = errors.New("rtmp: operation cancelled")
var ErrClosed = errors.New("rtmp: connection closed")
var ErrAlreadyStarted = errors.New("rtmp: connection was already started")
