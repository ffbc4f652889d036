package rtmp

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/amf/amf0"
	"go.uber.org/zap"
)

// Command is the decoded shape of an AMF0 command message: name,
// transaction id, the optional command object and any trailing arguments.
type Command struct {
	Name          string
	TransactionID float64
	Object        map[string]interface{}
	Args          []interface{}
}

// noReplyTransactionID marks a notification the peer is not expected to
// answer.
const noReplyTransactionID float64 = 0

func encodeCommand(cmd *Command) ([]byte, error) {
	values := make([]interface{}, 0, 3+len(cmd.Args))
	values = append(values, cmd.Name, cmd.TransactionID)
	if cmd.Object == nil {
		values = append(values, nil)
	} else {
		values = append(values, cmd.Object)
	}
	values = append(values, cmd.Args...)
	return amf0.EncodeAll(values...)
}

func decodeCommand(payload []byte) (*Command, error) {
	d := amf0.NewDecoder(payload)
	name, err := d.NextString()
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "command name: %v", err)
	}
	tid, err := d.NextNumber()
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "command %q transaction id: %v", name, err)
	}
	cmd := &Command{Name: name, TransactionID: tid}
	if d.More() {
		obj, err := d.Next()
		if err != nil {
			return nil, errors.Wrapf(ErrDecode, "command %q object: %v", name, err)
		}
		switch t := obj.(type) {
		case map[string]interface{}:
			cmd.Object = t
		case amf0.ECMAArray:
			cmd.Object = t
		case nil:
		default:
			return nil, errors.Wrapf(ErrDecode, "command %q object has type %T", name, obj)
		}
	}
	for d.More() {
		arg, err := d.Next()
		if err != nil {
			return nil, errors.Wrapf(ErrDecode, "command %q argument: %v", name, err)
		}
		cmd.Args = append(cmd.Args, arg)
	}
	return cmd, nil
}

type commandResult struct {
	cmd *Command
	err error
}

// pendingCommand is a one-shot registration: exactly one response or one
// cancellation is ever delivered to it.
type pendingCommand struct {
	name string
	ch   chan commandResult
}

func newPendingCommand(name string) *pendingCommand {
	return &pendingCommand{name: name, ch: make(chan commandResult, 1)}
}

func (p *pendingCommand) deliver(cmd *Command, err error) {
	select {
	case p.ch <- commandResult{cmd: cmd, err: err}:
	default:
	}
}

// call sends a command expecting a reply and blocks until the reply, the
// context's cancellation, or connection teardown.
func (c *Connection) call(ctx context.Context, streamID uint32, name string, object map[string]interface{}, args ...interface{}) (*Command, error) {
	p := newPendingCommand(name)
	c.mu.Lock()
	if c.state != StateReady {
		err := c.terminalErrLocked()
		c.mu.Unlock()
		return nil, err
	}
	c.nextTransactionID++
	tid := c.nextTransactionID
	c.pending[tid] = p
	c.mu.Unlock()

	cmd := &Command{Name: name, TransactionID: tid, Object: object, Args: args}
	if err := c.sendCommand(streamID, cmd); err != nil {
		c.mu.Lock()
		delete(c.pending, tid)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, tid)
		c.mu.Unlock()
		return nil, ErrCancelled
	case r := <-p.ch:
		return r.cmd, r.err
	}
}

// invoke sends a command whose reply, if any, arrives as an unsolicited
// notification rather than a transaction-correlated one.
func (c *Connection) invoke(streamID uint32, name string, object map[string]interface{}, args ...interface{}) error {
	c.mu.Lock()
	c.nextTransactionID++
	tid := c.nextTransactionID
	c.mu.Unlock()
	return c.sendCommand(streamID, &Command{Name: name, TransactionID: tid, Object: object, Args: args})
}

// notify sends a fire-and-forget command with transaction id 0.
func (c *Connection) notify(streamID uint32, name string, object map[string]interface{}, args ...interface{}) error {
	return c.sendCommand(streamID, &Command{Name: name, TransactionID: noReplyTransactionID, Object: object, Args: args})
}

func (c *Connection) sendCommand(streamID uint32, cmd *Command) error {
	payload, err := encodeCommand(cmd)
	if err != nil {
		return errors.Wrapf(err, "encode %q command", cmd.Name)
	}
	return c.Send(&Message{
		Type:          CommandMessageAMF0,
		ChunkStreamID: CommandChunkStream,
		StreamID:      streamID,
		Payload:       payload,
	})
}

// expect registers interest in the next unsolicited command with the given
// name. The registration is one-shot; awaitExpected or teardown consumes it.
func (c *Connection) expect(name string) *pendingCommand {
	p := newPendingCommand(name)
	c.mu.Lock()
	c.expects[name] = append(c.expects[name], p)
	c.mu.Unlock()
	return p
}

func (c *Connection) awaitExpected(ctx context.Context, p *pendingCommand) (*Command, error) {
	select {
	case <-ctx.Done():
		c.cancelExpect(p)
		return nil, ErrCancelled
	case r := <-p.ch:
		return r.cmd, r.err
	}
}

// cancelExpect withdraws an expect registration that will not be awaited,
// so later notifications with the same name are not swallowed by it.
func (c *Connection) cancelExpect(p *pendingCommand) {
	c.mu.Lock()
	waiting := c.expects[p.name]
	for i, other := range waiting {
		if other == p {
			c.expects[p.name] = append(waiting[:i], waiting[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// dispatchCommand routes an inbound command message: transaction-correlated
// replies to their pending callback, push notifications to an expect
// registration. Unknown or already-resolved transactions are dropped with a
// diagnostic, never escalated.
func (c *Connection) dispatchCommand(msg *Message) {
	cmd, err := decodeCommand(msg.Payload)
	if err != nil {
		c.logger.Warn("dropping undecodable command message", zap.Error(err))
		return
	}

	switch cmd.Name {
	case "_result", "_error":
		c.mu.Lock()
		p, ok := c.pending[cmd.TransactionID]
		delete(c.pending, cmd.TransactionID)
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("dropping reply for unknown transaction",
				zap.String("command", cmd.Name),
				zap.Float64("transaction_id", cmd.TransactionID))
			return
		}
		if cmd.Name == "_error" {
			p.deliver(nil, commandError(cmd))
			return
		}
		p.deliver(cmd, nil)
	default:
		c.mu.Lock()
		waiting := c.expects[cmd.Name]
		var p *pendingCommand
		if len(waiting) > 0 {
			p = waiting[0]
			c.expects[cmd.Name] = waiting[1:]
		}
		c.mu.Unlock()
		if p == nil {
			c.logger.Debug("ignoring unsolicited command",
				zap.String("command", cmd.Name),
				zap.Uint32("stream_id", msg.StreamID))
			return
		}
		p.deliver(cmd, nil)
	}
}

// commandError maps an _error reply to an engine error, classifying
// authentication rejections.
func commandError(cmd *Command) error {
	for _, arg := range cmd.Args {
		status, err := parseStatus(arg)
		if err != nil {
			continue
		}
		if status.Code == StatusConnectRejected {
			return errors.Wrap(ErrAuthDenied, status.Description)
		}
		return errors.Wrapf(ErrCommandFailed, "%s: %s", status.Code, status.Description)
	}
	return errors.Wrapf(ErrCommandFailed, "%q returned an error", cmd.Name)
}
