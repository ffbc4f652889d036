package rtmp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/config"
)

// pipeDial returns settings whose dialer hands the connection the client
// end of an in-memory pipe, plus the server end for the test to drive.
func pipeDial(settings config.Settings) (config.Settings, net.Conn) {
	client, server := net.Pipe()
	settings.Dial = func(context.Context, string, string) (net.Conn, error) {
		return client, nil
	}
	return settings, server
}

func TestSendBackpressure(t *testing.T) {
	settings := config.Default()
	settings.QueueHighWater = 3
	c := NewConnection(nil, testLocation(), settings)
	c.state = StateReady

	for i := 0; i < 3; i++ {
		if err := c.Send(&Message{Type: AudioMessage, ChunkStreamID: AudioChunkStream}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if depth := c.QueueDepth(); depth != 3 {
		t.Fatalf("expected queue depth 3, but got %d", depth)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- c.Send(&Message{Type: AudioMessage, ChunkStreamID: AudioChunkStream})
	}()

	select {
	case err := <-blocked:
		t.Fatalf("expected Send to block at the high water mark, but it returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Drain one message the way the write scheduler does.
	c.mu.Lock()
	c.queue = c.queue[1:]
	c.sendCond.Signal()
	c.mu.Unlock()

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("expected the blocked send to complete, but got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the blocked send to wake after a drain")
	}
}

func TestSendUnblocksOnFailure(t *testing.T) {
	settings := config.Default()
	settings.QueueHighWater = 1
	c := NewConnection(nil, testLocation(), settings)
	c.state = StateReady

	if err := c.Send(&Message{Type: AudioMessage, ChunkStreamID: AudioChunkStream}); err != nil {
		t.Fatal(err)
	}
	blocked := make(chan error, 1)
	go func() {
		blocked <- c.Send(&Message{Type: AudioMessage, ChunkStreamID: AudioChunkStream})
	}()
	time.Sleep(20 * time.Millisecond)

	cause := errors.Wrap(ErrTransport, "write: broken pipe")
	c.fail(cause)

	select {
	case err := <-blocked:
		if !errors.Is(err, ErrTransport) {
			t.Errorf("expected the failure cause, but got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the blocked send to wake on failure")
	}
}

func TestControlMessagesBypassHighWater(t *testing.T) {
	settings := config.Default()
	settings.QueueHighWater = 1
	c := NewConnection(nil, testLocation(), settings)
	c.state = StateReady

	if err := c.Send(&Message{Type: AudioMessage, ChunkStreamID: AudioChunkStream}); err != nil {
		t.Fatal(err)
	}
	// The read loop must always be able to emit acks and ping replies.
	if err := c.enqueueControl(newAckMessage(4096)); err != nil {
		t.Errorf("expected the control message to be accepted, but got %v", err)
	}
	if depth := c.QueueDepth(); depth != 2 {
		t.Errorf("expected queue depth 2, but got %d", depth)
	}
}

func TestSendAfterClose(t *testing.T) {
	c := NewConnection(nil, testLocation(), config.Default())
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(&Message{Type: AudioMessage}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, but got %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("expected the closed state, but got %v", c.State())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewConnection(nil, testLocation(), config.Default())
	for i := 0; i < 3; i++ {
		if err := c.Close(); err != nil {
			t.Errorf("close %d: %v", i, err)
		}
	}
}

func TestConnectDialFailure(t *testing.T) {
	settings := config.Default()
	settings.Dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	c := NewConnection(nil, testLocation(), settings)

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, but got %v", err)
	}
	if c.State() != StateError {
		t.Errorf("expected the error state, but got %v", c.State())
	}
	// The connection stays terminally failed with the original cause.
	if err := c.Send(&Message{Type: AudioMessage}); !errors.Is(err, ErrTransport) {
		t.Errorf("expected the failure cause, but got %v", err)
	}
}

func TestConnectRejectsBadServerVersion(t *testing.T) {
	settings, server := pipeDial(config.Default())
	c := NewConnection(nil, testLocation(), settings)

	go func() {
		io.ReadFull(server, make([]byte, 1+handshakeLength))
		response := make([]byte, 1+2*handshakeLength)
		response[0] = 0x06
		server.Write(response)
	}()

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrHandshake) {
		t.Errorf("expected ErrHandshake, but got %v", err)
	}
	if c.State() != StateError {
		t.Errorf("expected the error state, but got %v", c.State())
	}
}

func TestConnectCancelledMidHandshake(t *testing.T) {
	settings, server := pipeDial(config.Default())
	c := NewConnection(nil, testLocation(), settings)

	// The peer swallows C0C1 and never answers.
	go io.ReadFull(server, make([]byte, 1+handshakeLength))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := c.Connect(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, but got %v", err)
	}
	if c.State() != StateError {
		t.Errorf("expected the error state, but got %v", c.State())
	}
}

func TestConnectTimeoutFromSettings(t *testing.T) {
	settings, server := pipeDial(config.Default())
	settings.ConnectTimeout = 30 * time.Millisecond
	c := NewConnection(nil, testLocation(), settings)

	// The peer swallows C0C1 and never answers, so only the deadline
	// from settings can end the handshake.
	go io.ReadFull(server, make([]byte, 1+handshakeLength))

	start := time.Now()
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrHandshake) {
		t.Errorf("expected ErrHandshake, but got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("expected the connect timeout to apply, but waited %v", elapsed)
	}
}

func TestLocationTimeoutOverridesSettings(t *testing.T) {
	settings := config.Default()
	settings.ConnectTimeout = time.Minute
	loc := testLocation()
	loc.Timeout = 30 * time.Millisecond
	c := NewConnection(nil, loc, settings)
	if got := c.connectTimeout(); got != 30*time.Millisecond {
		t.Errorf("expected the location timeout, but got %v", got)
	}

	loc.Timeout = 0
	if got := c.connectTimeout(); got != time.Minute {
		t.Errorf("expected the settings timeout, but got %v", got)
	}
}

func TestWindowAcknowledgement(t *testing.T) {
	c := NewConnection(nil, testLocation(), config.Default())
	c.state = StateReady
	c.reader = newChunkReader(nil)

	// Nothing happens before the peer declares a window.
	c.reader.received = 10000
	c.maybeAck()
	if depth := c.QueueDepth(); depth != 0 {
		t.Fatalf("expected no ack without a declared window, but queued %d", depth)
	}

	c.peerWindowSize = 5000
	c.maybeAck()
	if depth := c.QueueDepth(); depth != 1 {
		t.Fatalf("expected one ack after crossing the window, but queued %d", depth)
	}
	ack := c.queue[0]
	if ack.Type != Ack {
		t.Errorf("expected an Ack message, but got type %v", ack.Type)
	}

	// The counter resets; the next window's worth must pass first.
	c.reader.received = 12000
	c.maybeAck()
	if depth := c.QueueDepth(); depth != 1 {
		t.Errorf("expected no second ack inside the window, but queued %d", depth)
	}
	c.reader.received = 15000
	c.maybeAck()
	if depth := c.QueueDepth(); depth != 2 {
		t.Errorf("expected a second ack at the next window, but queued %d", depth)
	}
}

func TestConnectIsSingleUse(t *testing.T) {
	settings := config.Default()
	settings.Dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	c := NewConnection(nil, testLocation(), settings)
	c.Connect(context.Background())

	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, but got %v", err)
	}
}
