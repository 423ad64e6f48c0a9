package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"manvsim.ai/internal/protocol"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/standin"
)

var ErrClosed = errors.New("ws: connection closed")

// ResponseError is a failed response from the server.
type ResponseError struct {
	Code     string
	Message  string
	Expected bool
}

func (e *ResponseError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Action is one performAction frame. Seq counts performAction frames on
// this connection; ClientID is the proposer, empty for server actions.
type Action struct {
	Seq      uint64
	ClientID model.UUID
	Raw      json.RawMessage
}

type reply struct {
	msg protocol.ResponseMsg
	seq uint64
}

// Client speaks the exercise protocol. Actions must be drained by the
// caller; the read loop blocks while the actions channel is full.
type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan reply
	err     error

	actions chan Action
	done    chan struct{}
	once    sync.Once
}

func Dial(ctx context.Context, url string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(64 << 20)
	c := &Client{
		conn:    conn,
		log:     log,
		pending: map[string]chan reply{},
		actions: make(chan Action, 1024),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Actions delivers broadcast actions in server order.
func (c *Client) Actions() <-chan Action { return c.actions }

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	c.shutdown(ErrClosed)
	return err
}

func (c *Client) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) readLoop() {
	defer close(c.actions)
	var seq uint64
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			c.log.Warn("undecodable frame", zap.Error(err))
			continue
		}
		switch base.Type {
		case protocol.TypePerformAction:
			var m protocol.PerformActionMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				c.log.Warn("bad performAction", zap.Error(err))
				continue
			}
			seq++
			select {
			case c.actions <- Action{Seq: seq, ClientID: m.ClientID, Raw: m.Action}:
			case <-c.done:
				return
			}
		case protocol.TypeResponse:
			var m protocol.ResponseMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				c.log.Warn("bad response", zap.Error(err))
				continue
			}
			c.mu.Lock()
			ch := c.pending[m.RequestID]
			delete(c.pending, m.RequestID)
			c.mu.Unlock()
			if ch != nil {
				ch <- reply{msg: m, seq: seq}
			}
		}
	}
}

func (c *Client) newRequestID() string {
	return strconv.FormatUint(c.nextID.Add(1), 10)
}

// request sends a frame and waits for its response. v must carry requestID.
func (c *Client) request(ctx context.Context, requestID string, v any) (reply, error) {
	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return reply{}, err
	}
	c.pending[requestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	}
	err := c.conn.WriteJSON(v)
	c.writeMu.Unlock()
	if err != nil {
		return reply{}, err
	}

	select {
	case r := <-ch:
		if !r.msg.Success {
			return r, &ResponseError{Code: r.msg.Code, Message: r.msg.Message, Expected: r.msg.Expected}
		}
		return r, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return reply{}, c.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// Join joins an exercise with its participant or trainer id and returns the
// client id.
func (c *Client) Join(ctx context.Context, exerciseID, name string) (model.UUID, error) {
	id := c.newRequestID()
	r, err := c.request(ctx, id, protocol.JoinExerciseMsg{
		Type:            protocol.TypeJoinExercise,
		ProtocolVersion: protocol.Version,
		RequestID:       id,
		ExerciseID:      exerciseID,
		ClientName:      name,
	})
	if err != nil {
		return "", err
	}
	var clientID model.UUID
	if err := json.Unmarshal(r.msg.Payload, &clientID); err != nil {
		return "", fmt.Errorf("join response: %w", err)
	}
	return clientID, nil
}

func (c *Client) Propose(ctx context.Context, action json.RawMessage) error {
	id := c.newRequestID()
	_, err := c.request(ctx, id, protocol.ProposeActionMsg{Type: protocol.TypeProposeAction, RequestID: id, Action: action})
	return err
}

// GetState returns the exercise state and the sequence number of the last
// action it contains; actions with a higher Seq apply on top of it.
func (c *Client) GetState(ctx context.Context) (*model.ExerciseState, uint64, error) {
	id := c.newRequestID()
	r, err := c.request(ctx, id, protocol.GetStateMsg{Type: protocol.TypeGetState, RequestID: id})
	if err != nil {
		return nil, 0, err
	}
	var s model.ExerciseState
	if err := json.Unmarshal(r.msg.Payload, &s); err != nil {
		return nil, 0, fmt.Errorf("state payload: %w", err)
	}
	s.Normalize()
	return &s, r.seq, nil
}

// GetPartialState returns the closure of one region and, like GetState, the
// sequence number of the last action it reflects.
func (c *Client) GetPartialState(ctx context.Context, regionID model.UUID) (*standin.AssociatedElements, uint64, error) {
	id := c.newRequestID()
	r, err := c.request(ctx, id, protocol.GetPartialStateMsg{Type: protocol.TypeGetPartialState, RequestID: id, SimulatedRegionID: regionID})
	if err != nil {
		return nil, 0, err
	}
	var out standin.AssociatedElements
	if err := json.Unmarshal(r.msg.Payload, &out); err != nil {
		return nil, 0, fmt.Errorf("partial state payload: %w", err)
	}
	return &out, r.seq, nil
}
