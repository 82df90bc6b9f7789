package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Comcast/automata/auth"
	"github.com/Comcast/automata/broadcast"
	"github.com/Comcast/automata/core"
)

var (
	// OutboundBuffer is the number of frames a websocket
	// connection can have queued before deliveries fail.
	OutboundBuffer = 64

	// WriteTimeout bounds each websocket write.
	WriteTimeout = 10 * time.Second

	// ErrBackpressure is a transient delivery failure: the
	// connection's queue is full.
	ErrBackpressure = errors.New("outbound queue full")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Tokens, not cookies, authenticate.
		return true
	},
}

// Frame is what a websocket client sends.
type Frame struct {
	Op         string      `json:"op"`
	RequestID  string      `json:"requestId,omitempty"`
	AutomataID string      `json:"automataId"`
	EventType  string      `json:"eventType,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	EventID    string      `json:"eventId,omitempty"`
}

// Reply is a response to a Frame.
type Reply struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Op        string      `json:"op,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// wsConn is the broadcast.Conn for a websocket.
//
// One goroutine writes everything from out.  Deliver never blocks:
// a full queue is a transient failure and a closed connection is
// broadcast.ErrGone.
type wsConn struct {
	id     string
	c      *websocket.Conn
	out    chan []byte
	done   chan struct{}
	closer sync.Once
	logger zerolog.Logger
}

func newWSConn(c *websocket.Conn) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:     id,
		c:      c,
		out:    make(chan []byte, OutboundBuffer),
		done:   make(chan struct{}),
		logger: log.With().Str("conn", id).Logger(),
	}
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Deliver(ctx context.Context, m *broadcast.Message) error {
	return c.send(m)
}

func (c *wsConn) send(x interface{}) error {
	js, err := json.Marshal(x)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return broadcast.ErrGone
	default:
	}
	select {
	case <-c.done:
		return broadcast.ErrGone
	case c.out <- js:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) close() {
	c.closer.Do(func() {
		close(c.done)
		c.c.Close()
	})
}

func (c *wsConn) writer() {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case js := <-c.out:
			c.c.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.c.WriteMessage(websocket.TextMessage, js); err != nil {
				c.logger.Debug().Err(err).Msg("write")
				return
			}
		}
	}
}

func (c *wsConn) reply(r *Reply) {
	if err := c.send(r); err != nil {
		c.logger.Warn().Err(err).Str("type", r.Type).Msg("reply dropped")
	}
}

func (c *wsConn) replyError(f *Frame, err error) {
	e := newAPIError(err)
	c.reply(&Reply{
		Type:      "error",
		RequestID: f.RequestID,
		Op:        f.Op,
		Code:      e.Body.Code,
		Message:   e.Body.Message,
	})
}

// serveWebsocket runs a session for an authenticated caller.  The
// session ends when the client goes away, and then all of its
// subscriptions are removed.
func (s *Service) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	conn := newWSConn(c)
	conn.logger.Info().Str("subject", id.SubjectID).Msg("websocket open")

	go conn.writer()

	ctx := conn.logger.WithContext(context.Background())

	defer func() {
		s.Registry.Disconnect(conn.id)
		conn.close()
		conn.logger.Info().Msg("websocket closed")
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			conn.logger.Debug().Err(err).Msg("read")
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			conn.replyError(&f, BadRequest)
			continue
		}

		s.do(ctx, conn, id, &f)
	}
}

func (s *Service) do(ctx context.Context, conn *wsConn, id *auth.Identity, f *Frame) {
	if f.AutomataID == "" {
		conn.replyError(f, BadRequest)
		return
	}

	switch f.Op {
	case "subscribe":
		if err := s.Subscribe(ctx, conn, id, f.AutomataID); err != nil {
			conn.replyError(f, err)
			return
		}
		conn.reply(&Reply{Type: "result", RequestID: f.RequestID, Op: f.Op})

	case "unsubscribe":
		s.Registry.Unsubscribe(conn.id, f.AutomataID)
		conn.reply(&Reply{Type: "result", RequestID: f.RequestID, Op: f.Op})

	case "event":
		r, err := s.Apply(ctx, id, &EventRequest{
			AutomataID: f.AutomataID,
			EventType:  f.EventType,
			Data:       f.Data,
			EventID:    f.EventID,
		})
		if err != nil {
			conn.replyError(f, err)
			return
		}
		conn.reply(&Reply{Type: "result", RequestID: f.RequestID, Op: f.Op, Result: r})

	default:
		conn.replyError(f, core.NewCodedError("BadRequest", "unknown op "+f.Op))
	}
}
