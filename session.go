package rtmp

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/tidalstream/rtmp/amf/amf0"
	"github.com/tidalstream/rtmp/audio"
	"github.com/tidalstream/rtmp/config"
	"github.com/tidalstream/rtmp/video"
	"go.uber.org/zap"
)

type AudioCallback func(format audio.Format, sampleRate audio.SampleRate, sampleSize audio.SampleSize, channels audio.Channel, payload []byte, timestamp uint32)
type VideoCallback func(frameType video.FrameType, codec video.Codec, payload []byte, timestamp uint32)
type MetadataCallback func(metadata map[string]interface{})

// TagCallback receives play-path media re-wrapped as FLV tags. One
// synthetic FLV file header precedes the first tag.
type TagCallback func(tag []byte)

// Minimum payload sizes below which inbound media is unparseable and
// silently dropped.
const minAudioPayload = 2
const minVideoPayload = 6

// PublishSession is a live publish connection: the connect, createStream
// and publish exchange has succeeded and media may be written.
type PublishSession struct {
	logger   *zap.Logger
	conn     *Connection
	streamID uint32
	ts       timestampCorrector
}

// Publish runs the publish call sequence against the location: connect,
// best-effort releaseStream and FCPublish, createStream, then publish,
// resolving on the resulting onStatus notification. Cancelling ctx at any
// step aborts the remainder and returns ErrCancelled.
func Publish(ctx context.Context, logger *zap.Logger, loc *Location, settings config.Settings) (*PublishSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn := NewConnection(logger, loc, settings)
	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	// Servers that gate publishing expect these; their replies carry
	// nothing we need, so they go out as notifications.
	if err := conn.notify(0, "releaseStream", nil, loc.Stream); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.notify(0, "FCPublish", nil, loc.Stream); err != nil {
		conn.Close()
		return nil, err
	}

	streamID, err := createStream(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	status := conn.expect("onStatus")
	if err := conn.invoke(streamID, "publish", nil, loc.Stream, "live"); err != nil {
		conn.Close()
		return nil, err
	}
	reply, err := conn.awaitExpected(ctx, status)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := checkPublishStatus(reply); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("publishing", zap.String("location", loc.String()), zap.Uint32("stream_id", streamID))
	return &PublishSession{
		logger:   logger,
		conn:     conn,
		streamID: streamID,
	}, nil
}

// createStream asks the server for a message stream and returns its
// numeric ID.
func createStream(ctx context.Context, conn *Connection) (uint32, error) {
	reply, err := conn.call(ctx, 0, "createStream", nil)
	if err != nil {
		return 0, err
	}
	if len(reply.Args) == 0 {
		return 0, errors.Wrap(ErrCommandFailed, "createStream reply carries no stream id")
	}
	id, ok := reply.Args[0].(float64)
	if !ok || id <= 0 {
		return 0, errors.Wrapf(ErrCommandFailed, "createStream reply has invalid stream id %v", reply.Args[0])
	}
	return uint32(id), nil
}

func checkPublishStatus(reply *Command) error {
	var status *Status
	for _, arg := range reply.Args {
		if s, err := parseStatus(arg); err == nil {
			status = s
			break
		}
	}
	if status == nil {
		return errors.Wrap(ErrCommandFailed, "publish status carries no status code")
	}
	switch status.Code {
	case StatusPublishStart:
		return nil
	case StatusPublishBadName:
		return errors.Wrap(ErrStreamAlreadyExists, status.Description)
	case StatusPublishDenied, StatusPublishFailed:
		return errors.Wrap(ErrPublishDenied, status.Description)
	default:
		return errors.Wrapf(ErrCommandFailed, "publish refused: %s", status.Code)
	}
}

// Write forwards one FLV tag to the peer, blocking under backpressure. The
// leading FLV file header is recognized and stripped. Tag timestamps are
// widened through the rollover correction before hitting the wire.
func (p *PublishSession) Write(tag []byte) error {
	if isFLVFileHeader(tag) {
		p.logger.Debug("stripping flv file header")
		return nil
	}
	parsed, err := parseFLVTag(tag)
	if err != nil {
		return err
	}

	timestamp := uint32(p.ts.correct(parsed.timestamp))

	var csid uint32
	payload := parsed.payload
	switch parsed.typeID {
	case AudioMessage:
		csid = AudioChunkStream
	case VideoMessage:
		csid = VideoChunkStream
	case DataMessageAMF0:
		csid = DataChunkStream
		// Script data is forwarded as a @setDataFrame notification.
		prefix, err := amf0.Encode("@setDataFrame")
		if err != nil {
			return err
		}
		payload = append(prefix, payload...)
	}

	return p.conn.Send(&Message{
		Type:          parsed.typeID,
		ChunkStreamID: csid,
		StreamID:      p.streamID,
		Timestamp:     timestamp,
		Payload:       payload,
	})
}

// Conn exposes the underlying connection for state inspection.
func (p *PublishSession) Conn() *Connection {
	return p.conn
}

// Close announces the end of the stream and releases the connection.
func (p *PublishSession) Close() error {
	// Best effort; the peer learns about us either way once the socket
	// goes down.
	p.conn.notify(0, "FCUnpublish", nil, p.conn.loc.Stream)
	p.conn.notify(0, "deleteStream", nil, float64(p.streamID))
	return p.conn.Close()
}

// PlayHandlers are the host callbacks for the play path. All of them run on
// the connection's read goroutine.
type PlayHandlers struct {
	OnAudio    AudioCallback
	OnVideo    VideoCallback
	OnMetadata MetadataCallback
	OnTag      TagCallback
	// OnEnd fires when the server signals Stream EOF for the played
	// stream.
	OnEnd func()
}

// PlaySession is a live play connection delivering demultiplexed media.
type PlaySession struct {
	logger   *zap.Logger
	conn     *Connection
	handlers PlayHandlers

	streamID   uint32
	headerOnce sync.Once
}

// Play runs the play call sequence: connect, createStream, play, then
// resolves on the server starting the stream. Messages for other message
// stream IDs than the one created are dropped.
func Play(ctx context.Context, logger *zap.Logger, loc *Location, settings config.Settings, handlers PlayHandlers) (*PlaySession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ps := &PlaySession{logger: logger, handlers: handlers}
	conn := NewConnection(logger, loc, settings)
	conn.SetMediaHandler(ps.onMessage)
	conn.SetUserControlHandler(ps.onUserControl)
	ps.conn = conn

	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	streamID, err := createStream(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	ps.streamID = streamID

	// The server may send several onStatus notifications (reset, start);
	// register enough one-shot expectations up front to not miss any.
	var statuses []*pendingCommand
	for i := 0; i < 3; i++ {
		statuses = append(statuses, conn.expect("onStatus"))
	}

	if err := conn.invoke(streamID, "play", nil, loc.Stream, -2000); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.enqueueControl(newSetBufferLengthMessage(streamID, 3000)); err != nil {
		conn.Close()
		return nil, err
	}

	if err := awaitPlayStart(ctx, conn, statuses); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("playing", zap.String("location", loc.String()), zap.Uint32("stream_id", streamID))
	return ps, nil
}

func awaitPlayStart(ctx context.Context, conn *Connection, statuses []*pendingCommand) error {
	for i, status := range statuses {
		reply, err := conn.awaitExpected(ctx, status)
		if err != nil {
			cancelExpects(conn, statuses[i+1:])
			return err
		}
		var st *Status
		for _, arg := range reply.Args {
			if s, serr := parseStatus(arg); serr == nil {
				st = s
				break
			}
		}
		if st == nil {
			cancelExpects(conn, statuses[i+1:])
			return errors.Wrap(ErrCommandFailed, "play status carries no status code")
		}
		switch st.Code {
		case StatusPlayReset:
			continue
		case StatusPlayStart:
			cancelExpects(conn, statuses[i+1:])
			return nil
		case StatusPlayStreamNotFound:
			cancelExpects(conn, statuses[i+1:])
			return errors.Wrapf(ErrCommandFailed, "stream not found: %s", st.Description)
		default:
			cancelExpects(conn, statuses[i+1:])
			return errors.Wrapf(ErrCommandFailed, "play refused: %s", st.Code)
		}
	}
	return errors.Wrap(ErrCommandFailed, "server never started the stream")
}

// cancelExpects withdraws registrations the play start loop did not
// consume, so unsolicited onStatus notifications keep flowing afterwards.
func cancelExpects(conn *Connection, statuses []*pendingCommand) {
	for _, status := range statuses {
		conn.cancelExpect(status)
	}
}

func (ps *PlaySession) onMessage(msg *Message) {
	if msg.StreamID != ps.streamID {
		ps.logger.Debug("dropping message for foreign stream",
			zap.Uint32("stream_id", msg.StreamID), zap.Uint32("want", ps.streamID))
		return
	}

	switch msg.Type {
	case AudioMessage:
		if len(msg.Payload) < minAudioPayload {
			ps.logger.Debug("dropping undersized audio message", zap.Int("size", len(msg.Payload)))
			return
		}
		if ps.handlers.OnAudio != nil {
			format, rate, size, channels := audio.ParseHeader(msg.Payload[0])
			ps.handlers.OnAudio(format, rate, size, channels, msg.Payload, msg.Timestamp)
		}
	case VideoMessage:
		if len(msg.Payload) < minVideoPayload {
			ps.logger.Debug("dropping undersized video message", zap.Int("size", len(msg.Payload)))
			return
		}
		if ps.handlers.OnVideo != nil {
			frameType, codec := video.ParseHeader(msg.Payload[0])
			ps.handlers.OnVideo(frameType, codec, msg.Payload, msg.Timestamp)
		}
	case DataMessageAMF0:
		ps.onData(msg)
	default:
		return
	}

	if ps.handlers.OnTag != nil {
		ps.headerOnce.Do(func() {
			ps.handlers.OnTag(flvFileHeader)
		})
		ps.handlers.OnTag(makeFLVTag(msg.Type, msg.Timestamp, msg.Payload))
	}
}

func (ps *PlaySession) onData(msg *Message) {
	if ps.handlers.OnMetadata == nil {
		return
	}
	d := amf0.NewDecoder(msg.Payload)
	name, err := d.NextString()
	if err != nil {
		ps.logger.Debug("dropping undecodable data message", zap.Error(err))
		return
	}
	if name == "@setDataFrame" {
		if name, err = d.NextString(); err != nil {
			ps.logger.Debug("dropping undecodable data message", zap.Error(err))
			return
		}
	}
	if name != "onMetadata" && name != "onMetaData" {
		// Access-control notices and other markers are not metadata.
		return
	}
	value, err := d.Next()
	if err != nil {
		ps.logger.Debug("dropping undecodable metadata", zap.Error(err))
		return
	}
	switch t := value.(type) {
	case map[string]interface{}:
		ps.handlers.OnMetadata(t)
	case amf0.ECMAArray:
		ps.handlers.OnMetadata(t)
	}
}

func (ps *PlaySession) onUserControl(event uint16, streamID uint32) {
	if event == EventStreamEOF && streamID == ps.streamID {
		ps.logger.Info("stream ended by server")
		if ps.handlers.OnEnd != nil {
			ps.handlers.OnEnd()
		}
	}
}

// Conn exposes the underlying connection for state inspection.
func (ps *PlaySession) Conn() *Connection {
	return ps.conn
}

func (ps *PlaySession) Close() error {
	return ps.conn.Close()
}
