package rtmp

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/config"
	"github.com/tidalstream/rtmp/rand"
	"go.uber.org/zap"
)

type State uint8

const (
	StateIdle State = iota
	StateHandshaking
	StateReady
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "unknown"
}

const bufioSize = 64 * 1024

// MediaHandler receives demultiplexed inbound audio, video and data
// messages. It runs on the connection's read goroutine, so it must not
// block on the connection itself.
type MediaHandler func(msg *Message)

// UserControlHandler receives user control events (stream begin, stream
// EOF, and friends) with their associated stream ID.
type UserControlHandler func(event uint16, streamID uint32)

// Connection owns one socket and multiplexes messages over it: it drives
// the handshake, then a read loop that feeds the command channel and the
// media handler, and a write loop that drains the bounded outbound queue.
//
// A Connection is single-use. Connect may be called once; after Close or a
// fatal error the instance is spent and reconnecting means a new one.
type Connection struct {
	logger   *zap.Logger
	id       string
	loc      *Location
	settings config.Settings

	// dial is swappable so tests can connect the engine to an in-memory
	// pipe instead of a real socket.
	dial func(ctx context.Context) (net.Conn, error)

	conn   net.Conn
	reader *chunkReader
	writer *chunkWriter

	// mu guards every field below, plus the pending/expects tables in
	// command.go. It is held for bookkeeping only, never across I/O.
	mu       sync.Mutex
	sendCond *sync.Cond // producers waiting for queue room or readiness
	wakeCond *sync.Cond // write loop waiting for work
	state    State
	cause    error
	queue    []*Message

	nextTransactionID float64
	pending           map[float64]*pendingCommand
	expects           map[string][]*pendingCommand

	onMedia       MediaHandler
	onUserControl UserControlHandler

	peerWindowSize uint32
	ackedBytes     uint64

	wg sync.WaitGroup
}

func NewConnection(logger *zap.Logger, loc *Location, settings config.Settings) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := rand.NewID()
	c := &Connection{
		logger:   logger.With(zap.String("connection_id", id), zap.String("location", loc.String())),
		id:       id,
		loc:      loc,
		settings: settings,
		state:    StateIdle,
		pending:  make(map[float64]*pendingCommand),
		expects:  make(map[string][]*pendingCommand),
	}
	c.sendCond = sync.NewCond(&c.mu)
	c.wakeCond = sync.NewCond(&c.mu)
	c.dial = c.dialLocation
	return c
}

// ID returns the connection's unique identifier, used in log correlation.
func (c *Connection) ID() string {
	return c.id
}

// SetMediaHandler registers the inbound media callback. Must be called
// before Connect.
func (c *Connection) SetMediaHandler(h MediaHandler) {
	c.onMedia = h
}

// SetUserControlHandler registers the user control event callback. Must be
// called before Connect.
func (c *Connection) SetUserControlHandler(h UserControlHandler) {
	c.onUserControl = h
}

// connectTimeout is the deadline for dialing and the handshake. A timeout
// set on the location wins over the one from settings.
func (c *Connection) connectTimeout() time.Duration {
	if c.loc.Timeout > 0 {
		return c.loc.Timeout
	}
	return c.settings.ConnectTimeout
}

func (c *Connection) dialLocation(ctx context.Context) (net.Conn, error) {
	dial := c.settings.Dial
	if dial == nil {
		d := net.Dialer{Timeout: c.connectTimeout()}
		dial = d.DialContext
	}
	conn, err := dial(ctx, "tcp", c.loc.Addr())
	if err != nil {
		return nil, err
	}
	if c.loc.Scheme != SchemeRTMPS {
		return conn, nil
	}
	tlsConfig := c.loc.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: c.loc.Host}
	} else if tlsConfig.ServerName == "" {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.ServerName = c.loc.Host
	}
	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// Connect dials the location, performs the handshake, starts the read loop
// and the write scheduler, and completes the connect command exchange.
// It returns once the connection is Ready or terminally failed.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateHandshaking
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err = ErrCancelled
		} else {
			err = errors.Wrapf(ErrTransport, "dial %s: %v", c.loc.Addr(), err)
		}
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = newChunkReader(bufio.NewReaderSize(conn, bufioSize))
	c.writer = newChunkWriter(bufio.NewWriterSize(conn, bufioSize))
	c.mu.Unlock()

	if err := c.handshake(ctx, conn); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.state = StateReady
	c.sendCond.Broadcast()
	c.mu.Unlock()
	c.logger.Debug("handshake completed, starting read loop and write scheduler")

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	if err := c.connectCommand(ctx); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// handshake runs the wire handshake under the connect deadline, converting
// a caller cancellation into ErrCancelled rather than the transport error
// the aborted read produces.
func (c *Connection) handshake(ctx context.Context, conn net.Conn) error {
	if timeout := c.connectTimeout(); timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()
	err := clientHandshake(c.reader.r, c.writer.w)
	close(stop)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return err
	}
	return conn.SetDeadline(time.Time{})
}

// connectCommand announces our chunk size and window, issues connect, and
// interprets the reply.
func (c *Connection) connectCommand(ctx context.Context) error {
	if err := c.enqueueControl(newSetChunkSizeMessage(c.settings.ChunkSize)); err != nil {
		return err
	}
	if err := c.enqueueControl(newWindowAckSizeMessage(c.settings.WindowSize)); err != nil {
		return err
	}

	app := c.loc.App
	if c.loc.Username != "" && c.loc.AuthMode != AuthNone {
		// First round of the authmod exchange: announce the user. Servers
		// that require a digest respond with a rejection carrying the
		// challenge; plain servers accept or reject outright.
		app += "?authmod=" + string(AuthAdobe) + "&user=" + c.loc.Username
	}
	reply, err := c.call(ctx, 0, "connect", map[string]interface{}{
		"app":           app,
		"flashVer":      c.settings.FlashVersion,
		"tcUrl":         c.loc.TCURL(),
		"type":          "nonprivate",
		"fpad":          false,
		"capabilities":  15,
		"audioCodecs":   4071,
		"videoCodecs":   252,
		"videoFunction": 1,
	})
	if err != nil {
		return err
	}
	for _, arg := range reply.Args {
		status, serr := parseStatus(arg)
		if serr != nil {
			continue
		}
		if status.Code == StatusConnectSuccess {
			c.logger.Debug("connected", zap.String("description", status.Description))
			return nil
		}
		return errors.Wrapf(ErrCommandFailed, "connect refused: %s", status.Code)
	}
	// Some servers reply with an empty info object; a _result alone is
	// acceptance.
	return nil
}

// Send enqueues a message for transmission in FIFO order. It blocks while
// the initial connect is still pending or while the queue sits at its high
// water mark, and fails immediately once the connection is closing or dead.
func (c *Connection) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		switch c.state {
		case StateIdle, StateHandshaking:
		case StateReady:
			if len(c.queue) < c.settings.QueueHighWater {
				c.queue = append(c.queue, msg)
				c.wakeCond.Signal()
				return nil
			}
		default:
			return c.terminalErrLocked()
		}
		c.sendCond.Wait()
	}
}

// enqueueControl appends a control message regardless of the high water
// mark. Control messages are tiny and the read loop must be able to emit
// them (acks, ping replies) without risking a deadlock against a full
// queue.
func (c *Connection) enqueueControl(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return c.terminalErrLocked()
	}
	c.queue = append(c.queue, msg)
	c.wakeCond.Signal()
	return nil
}

// QueueDepth returns the number of messages awaiting transmission.
func (c *Connection) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// State returns the connection's lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) terminalErrLocked() error {
	if c.cause != nil {
		return c.cause
	}
	return ErrClosed
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && c.state == StateReady {
			c.wakeCond.Wait()
		}
		if c.state != StateReady {
			// Closing flushes nothing: drop whatever is still queued.
			c.queue = nil
			c.mu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.writer.write(msg); err != nil {
			c.fail(errors.Wrapf(ErrTransport, "write: %v", err))
			return
		}
		if msg.Type == SetChunkSize {
			c.writer.setChunkSize(binary.BigEndian.Uint32(msg.Payload))
		}

		// Confirmed sent: admit one waiting producer.
		c.mu.Lock()
		c.sendCond.Signal()
		c.mu.Unlock()
	}
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		msg, err := c.reader.next()
		if err != nil {
			c.fail(c.classifyReadError(err))
			return
		}
		c.maybeAck()

		switch {
		case msg.IsProtocolControl():
			c.handleProtocolControl(msg)
		case msg.Type == UserControl:
			c.handleUserControl(msg)
		case msg.Type == CommandMessageAMF0:
			c.dispatchCommand(msg)
		case msg.Type == CommandMessageAMF3:
			c.logger.Warn("ignoring AMF3 command message")
		case msg.IsMedia():
			if c.onMedia != nil {
				c.onMedia(msg)
			}
		default:
			c.logger.Debug("ignoring message", zap.Uint8("type", uint8(msg.Type)))
		}
	}
}

func (c *Connection) classifyReadError(err error) error {
	c.mu.Lock()
	closing := c.state == StateClosing || c.state == StateClosed
	c.mu.Unlock()
	if closing {
		return ErrClosed
	}
	if errors.Is(err, ErrDecode) {
		return err
	}
	return errors.Wrapf(ErrTransport, "read: %v", err)
}

// maybeAck sends an acknowledgement when the bytes received since the last
// one reach the window size the peer announced.
func (c *Connection) maybeAck() {
	if c.peerWindowSize == 0 {
		return
	}
	received := c.reader.bytesReceived()
	if received-c.ackedBytes >= uint64(c.peerWindowSize) {
		c.ackedBytes = received
		if err := c.enqueueControl(newAckMessage(uint32(received))); err != nil {
			c.logger.Debug("skipping ack", zap.Error(err))
		}
	}
}

func (c *Connection) handleProtocolControl(msg *Message) {
	if len(msg.Payload) < 4 {
		c.logger.Warn("ignoring short protocol control message", zap.Uint8("type", uint8(msg.Type)))
		return
	}
	value := binary.BigEndian.Uint32(msg.Payload[:4])
	switch msg.Type {
	case SetChunkSize:
		c.logger.Debug("peer set chunk size", zap.Uint32("size", value))
		c.reader.setChunkSize(value)
	case AbortMessage:
		c.logger.Debug("peer aborted chunk stream", zap.Uint32("chunk_stream_id", value))
		c.reader.abort(value)
	case Ack:
		c.logger.Debug("peer acknowledged", zap.Uint32("sequence", value))
	case WindowAckSize:
		c.logger.Debug("peer window ack size", zap.Uint32("size", value))
		c.peerWindowSize = value
	case SetPeerBandwidth:
		// Bandwidth limiting is the queue's job; record the request only.
		c.logger.Debug("peer set bandwidth", zap.Uint32("size", value))
	}
}

func (c *Connection) handleUserControl(msg *Message) {
	if len(msg.Payload) < 2 {
		c.logger.Warn("ignoring short user control message")
		return
	}
	event := binary.BigEndian.Uint16(msg.Payload[:2])
	var arg uint32
	if len(msg.Payload) >= 6 {
		arg = binary.BigEndian.Uint32(msg.Payload[2:6])
	}
	switch event {
	case EventPingRequest:
		if err := c.enqueueControl(newUserControlMessage(EventPingResponse, arg)); err != nil {
			c.logger.Debug("skipping ping response", zap.Error(err))
		}
	default:
		c.logger.Debug("user control event", zap.Uint16("event", event), zap.Uint32("stream_id", arg))
		if c.onUserControl != nil {
			c.onUserControl(event, arg)
		}
	}
}

// fail moves the connection to the absorbing Error state: every pending
// command and expect registration resolves with the cause, every blocked
// producer wakes with the same outcome, and the transport is released.
// Calls after the connection is already terminal are no-ops.
func (c *Connection) fail(cause error) {
	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed, StateError:
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.cause = cause
	c.queue = nil
	c.failWaitersLocked(cause)
	conn := c.conn
	c.mu.Unlock()

	c.logger.Debug("connection failed", zap.Error(cause))
	if conn != nil {
		conn.Close()
	}
}

// failWaitersLocked resolves every registered command waiter and wakes all
// blocked producers. Caller holds mu.
func (c *Connection) failWaitersLocked(cause error) {
	for tid, p := range c.pending {
		delete(c.pending, tid)
		p.deliver(nil, cause)
	}
	for name, waiting := range c.expects {
		delete(c.expects, name)
		for _, p := range waiting {
			p.deliver(nil, cause)
		}
	}
	c.sendCond.Broadcast()
	c.wakeCond.Broadcast()
}

// Close stops accepting sends, fails outstanding waiters, releases the
// transport and waits for both loops to exit. Closing an Idle, errored or
// already-closed connection is permitted and idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.state = StateClosed
		c.mu.Unlock()
		return nil
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return nil
	case StateError:
		c.state = StateClosed
		c.mu.Unlock()
		c.wg.Wait()
		return nil
	}
	c.state = StateClosing
	c.queue = nil
	c.failWaitersLocked(ErrClosed)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.logger.Debug("connection closed")
	return nil
}
