// Package ws serves exercises over websockets and provides the matching
// client.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"manvsim.ai/internal/protocol"
	"manvsim.ai/internal/sim/exercise"
	"manvsim.ai/internal/sim/model"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	joinWait   = 5 * time.Second

	maxMessageSize = 4 << 20
)

// Exercises resolves exercise ids; *exercise.Manager implements it.
type Exercises interface {
	Lookup(ctx context.Context, id string) (*exercise.Exercise, model.Role, error)
}

type Server struct {
	exercises Exercises
	queueSize int
	log       *zap.Logger

	upgrader websocket.Upgrader
}

func NewServer(ex Exercises, queueSize int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Server{
		exercises: ex,
		queueSize: queueSize,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// session is one connection. Every frame to the peer goes through out and
// is written by a single goroutine, so responses and broadcasts keep the
// order in which the exercise produced them.
type session struct {
	s      *Server
	conn   *websocket.Conn
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	ex       *exercise.Exercise
	clientID model.UUID
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxMessageSize)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		sess := &session{s: s, conn: conn, out: make(chan []byte, s.queueSize), ctx: ctx, cancel: cancel}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.writeLoop()
		}()

		sess.readLoop()
		cancel()
		if sess.ex != nil {
			sess.ex.Leave(sess.clientID)
		}
		wg.Wait()
	}
}

func (c *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()
	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "disconnected"), time.Now().Add(time.Second))
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *session) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !c.handle(msg) {
			return
		}
	}
}

// handle processes one frame and reports whether the connection stays open.
func (c *session) handle(msg []byte) bool {
	base, err := protocol.Validate(msg)
	if err != nil {
		c.s.log.Debug("invalid frame", zap.String("type", base.Type), zap.Error(err))
		return c.reply(protocol.Fail(base.RequestID, protocol.ErrProtoBadRequest, err.Error(), false))
	}

	if base.Type == protocol.TypeJoinExercise {
		var m protocol.JoinExerciseMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return c.reply(protocol.Fail(base.RequestID, protocol.ErrProtoBadRequest, err.Error(), false))
		}
		return c.join(m)
	}
	if c.ex == nil {
		return c.reply(protocol.Fail(base.RequestID, protocol.ErrNotJoined, "join an exercise first", false))
	}

	switch base.Type {
	case protocol.TypeProposeAction:
		var m protocol.ProposeActionMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return c.reply(protocol.Fail(base.RequestID, protocol.ErrProtoBadRequest, err.Error(), false))
		}
		err = c.ex.Propose(c.clientID, m.RequestID, m.Action)
	case protocol.TypeGetState:
		err = c.ex.RequestState(c.clientID, base.RequestID)
	case protocol.TypeGetPartialState:
		var m protocol.GetPartialStateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return c.reply(protocol.Fail(base.RequestID, protocol.ErrProtoBadRequest, err.Error(), false))
		}
		err = c.ex.RequestPartialState(c.clientID, m.RequestID, m.SimulatedRegionID)
	default:
		return c.reply(protocol.Fail(base.RequestID, protocol.ErrProtoBadRequest, "unexpected message type "+base.Type, false))
	}
	if errors.Is(err, exercise.ErrStopped) {
		c.reply(protocol.Fail(base.RequestID, protocol.ErrExerciseNotFound, err.Error(), false))
		return false
	}
	if err != nil {
		return c.reply(protocol.Fail(base.RequestID, protocol.ErrInternal, err.Error(), false))
	}
	return true
}

func (c *session) join(m protocol.JoinExerciseMsg) bool {
	if m.ProtocolVersion != protocol.Version {
		c.reply(protocol.Fail(m.RequestID, protocol.ErrProtoBadRequest, "unsupported protocol version "+m.ProtocolVersion, false))
		return false
	}
	if c.ex != nil {
		return c.reply(protocol.Fail(m.RequestID, protocol.ErrBadRequest, "already joined", false))
	}

	ctx, cancel := context.WithTimeout(c.ctx, joinWait)
	defer cancel()
	ex, role, err := c.s.exercises.Lookup(ctx, m.ExerciseID)
	if errors.Is(err, exercise.ErrNotFound) {
		return c.reply(protocol.Fail(m.RequestID, protocol.ErrExerciseNotFound, "no exercise with id "+m.ExerciseID, false))
	}
	if err != nil {
		c.s.log.Error("lookup exercise", zap.String("exercise_id", m.ExerciseID), zap.Error(err))
		return c.reply(protocol.Fail(m.RequestID, protocol.ErrInternal, "could not load exercise", false))
	}
	id, err := ex.Join(ctx, exercise.JoinRequest{Name: m.ClientName, Role: role, Out: c.out, Kick: c.cancel})
	if err != nil {
		return c.reply(protocol.Fail(m.RequestID, protocol.ErrExerciseNotFound, err.Error(), false))
	}
	c.ex, c.clientID = ex, id
	resp, err := protocol.OK(m.RequestID, id)
	if err != nil {
		return false
	}
	return c.reply(resp)
}

// reply queues a response. A full queue closes the connection.
func (c *session) reply(resp protocol.ResponseMsg) bool {
	if resp.Message == "" && !resp.Success {
		resp.Message = resp.Code
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return false
	}
	select {
	case c.out <- b:
		return true
	default:
		c.s.log.Warn("connection queue full", zap.String("client_id", c.clientID))
		return false
	}
}
