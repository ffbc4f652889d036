package rtmp

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/amf/amf0"
)

// Status codes the engine acts on. Servers send many more; unrecognized
// codes fall through to the generic command failure.
const (
	StatusConnectSuccess  = "NetConnection.Connect.Success"
	StatusConnectRejected = "NetConnection.Connect.Rejected"
	StatusConnectFailed   = "NetConnection.Connect.Failed"

	StatusPublishStart   = "NetStream.Publish.Start"
	StatusPublishBadName = "NetStream.Publish.BadName"
	StatusPublishDenied  = "NetStream.Publish.Denied"
	StatusPublishFailed  = "NetStream.Publish.Failed"

	StatusPlayStart          = "NetStream.Play.Start"
	StatusPlayReset          = "NetStream.Play.Reset"
	StatusPlayStreamNotFound = "NetStream.Play.StreamNotFound"
)

// Status is the decoded info object of an onStatus notification or a
// connect reply.
type Status struct {
	Level       string `mapstructure:"level"`
	Code        string `mapstructure:"code"`
	Description string `mapstructure:"description"`
}

// parseStatus decodes an info-object argument into a Status. A missing or
// non-string code field is an error: peers have been observed sending
// malformed info objects and the engine must not act on them.
func parseStatus(v interface{}) (*Status, error) {
	var m map[string]interface{}
	switch t := v.(type) {
	case map[string]interface{}:
		m = t
	case amf0.ECMAArray:
		m = t
	default:
		return nil, errors.Wrapf(ErrCommandFailed, "info object has type %T", v)
	}
	var status Status
	if err := mapstructure.Decode(m, &status); err != nil {
		return nil, errors.Wrapf(ErrCommandFailed, "malformed info object: %v", err)
	}
	if status.Code == "" {
		return nil, errors.Wrap(ErrCommandFailed, "info object has no status code")
	}
	return &status, nil
}
