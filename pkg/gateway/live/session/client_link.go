package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-relay/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-relay/pkg/gateway/live/turn"
)

const outboundPriorityQueueSize = 16

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// ClientLink owns the browser websocket: a reader goroutine decodes inbound
// frames, and a single writer goroutine performs every outbound write.
type ClientLink struct {
	conn    *websocket.Conn
	cfg     Config
	limiter *inboundAudioLimiter

	priority chan outboundFrame
	normal   chan outboundFrame
	inbound  chan inboundFrame

	closing chan struct{}
	closed  atomic.Bool

	isSuperseded func(uint64) bool
	onDrop       func()
}

func newClientLink(conn *websocket.Conn, cfg Config, now func() time.Time) *ClientLink {
	return &ClientLink{
		conn:     conn,
		cfg:      cfg,
		limiter:  newInboundAudioLimiter(now, cfg.MaxAudioFPS, cfg.MaxAudioBytesPerSecond, cfg.InboundBurstSeconds),
		priority: make(chan outboundFrame, max(1, min(cfg.OutboundQueueSize, outboundPriorityQueueSize))),
		normal:   make(chan outboundFrame, cfg.OutboundQueueSize),
		inbound:  make(chan inboundFrame, 64),
		closing:  make(chan struct{}),
	}
}

func (l *ClientLink) startReader() {
	if l.cfg.MaxJSONMessageBytes > 0 {
		l.conn.SetReadLimit(l.cfg.MaxJSONMessageBytes)
	}
	if l.cfg.ReadTimeout > 0 {
		_ = l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		l.conn.SetPongHandler(func(string) error {
			return l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		})
	}
	go l.readLoop()
}

func (l *ClientLink) readLoop() {
	defer close(l.inbound)
	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case l.inbound <- inboundFrame{err: err}:
			case <-l.closing:
			}
			return
		}
		if l.cfg.ReadTimeout > 0 {
			_ = l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		}
		select {
		case l.inbound <- inboundFrame{messageType: messageType, data: data}:
		case <-l.closing:
			return
		}
	}
}

// Receive returns the next client event. A *protocol.DecodeError is
// recoverable; ErrClientDisconnected is terminal.
func (l *ClientLink) Receive(ctx context.Context) (turn.Event, error) {
	var frame inboundFrame
	var ok bool
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok = <-l.inbound:
	}
	if !ok {
		return nil, ErrClientDisconnected
	}
	if frame.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientDisconnected, frame.err)
	}
	if frame.messageType != websocket.TextMessage {
		return nil, protocol.NewDecodeError(protocol.CodeUnsupported, "binary frames are not supported", "")
	}

	msg, err := protocol.DecodeClientMessage(frame.data)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case protocol.ClientAudioData:
		if l.cfg.MaxAudioChunkBytes > 0 && len(m.PCM) > l.cfg.MaxAudioChunkBytes {
			return nil, protocol.NewDecodeError(protocol.CodeAudioTooLarge, "audio chunk exceeds limit", "audio")
		}
		if !l.limiter.Allow(len(m.PCM)) {
			return nil, protocol.NewDecodeError(protocol.CodeRateLimited, "inbound audio rate limit exceeded", "audio")
		}
		return turn.AudioData{PCM: m.PCM}, nil
	case protocol.ClientAudioEnd:
		return turn.AudioEnd{}, nil
	case protocol.ClientTextMessage:
		return turn.TextMessage{Text: m.Text}, nil
	case protocol.ClientInterrupt:
		return turn.Interrupt{}, nil
	default:
		return nil, protocol.NewDecodeError(protocol.CodeUnsupported, "unsupported message", "type")
	}
}

// Send queues msg on the ordered lane, blocking while the queue is full.
func (l *ClientLink) Send(ctx context.Context, generation uint64, msg any) error {
	if generation != 0 && l.isSuperseded != nil && l.isSuperseded(generation) {
		if l.onDrop != nil {
			l.onDrop()
		}
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case l.normal <- outboundFrame{generation: generation, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closing:
		return ErrClientDisconnected
	}
}

// SendPriority queues msg ahead of normal traffic. When the lane is full the
// oldest priority frames are evicted.
func (l *ClientLink) SendPriority(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	frame := outboundFrame{payload: payload}
	for i := 0; i < 4; i++ {
		select {
		case l.priority <- frame:
			return nil
		default:
		}
		select {
		case <-l.priority:
		default:
		}
	}
	return fmt.Errorf("session: priority queue full")
}

func (l *ClientLink) runWriter(ctx context.Context) error {
	w := outboundWriter{
		ws:           l.conn,
		ctx:          ctx,
		cfg:          l.cfg,
		priority:     l.priority,
		normal:       l.normal,
		isSuperseded: l.isSuperseded,
		onDrop:       l.onDrop,
	}
	return w.Run()
}

// Close releases the socket exactly once.
func (l *ClientLink) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.closing)
	return l.conn.Close()
}
