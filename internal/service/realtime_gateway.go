package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/middleware"
	"github.com/noah-isme/sayit-api/internal/observability"
)

const realtimeKeepAlive = 30 * time.Second

var errForeignJoin = errors.New("cannot join another user's channel")

// RealtimeConn is the subset of a websocket connection used by the gateway.
type RealtimeConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// RealtimeSession carries what was learnt about the client during the HTTP upgrade.
type RealtimeSession struct {
	UserID        string
	CorrelationID string
	Context       context.Context
}

// RealtimeGateway runs the action protocol of one websocket connection until it closes.
type RealtimeGateway interface {
	ServeConnection(conn RealtimeConn, session RealtimeSession)
}

type realtimeGateway struct {
	bus       RealtimeBus
	presence  PresenceTracker
	validator *validator.Validate
	logger    zerolog.Logger
	keepAlive time.Duration
}

type gatewayConn struct {
	id      string
	conn    RealtimeConn
	client  *RealtimeClient
	session RealtimeSession
	gateway *realtimeGateway
	ctx     context.Context
	logger  zerolog.Logger

	mu     sync.Mutex
	joined string
	closed bool
	once   sync.Once
}

// NewRealtimeGateway wires connections to the bus and the presence tracker.
func NewRealtimeGateway(bus RealtimeBus, presence PresenceTracker, validate *validator.Validate, logger zerolog.Logger) RealtimeGateway {
	return &realtimeGateway{
		bus:       bus,
		presence:  presence,
		validator: validate,
		logger:    logger.With().Str("component", "realtime_gateway").Logger(),
		keepAlive: realtimeKeepAlive,
	}
}

func (g *realtimeGateway) ServeConnection(conn RealtimeConn, session RealtimeSession) {
	base := session.Context
	if base == nil {
		base = context.Background()
	}
	correlation := session.CorrelationID
	if correlation == "" {
		correlation = middleware.CorrelationIDFromContext(base)
	}

	id := uuid.NewString()
	c := &gatewayConn{
		id:      id,
		conn:    conn,
		client:  NewRealtimeClient(realtimeSendBufferSize),
		session: session,
		gateway: g,
		// The upgrade request's context ends before the connection does.
		ctx:    middleware.ContextWithCorrelation(context.WithoutCancel(base), correlation),
		logger: g.logger.With().Str("connection_id", id).Str("user_id", session.UserID).Str("correlation_id", correlation).Logger(),
	}

	g.bus.Register(c.client)
	observability.RealtimeConnections().Inc()
	c.logger.Debug().Msg("realtime connection opened")

	go c.writer()
	c.reader()
}

func (c *gatewayConn) reader() {
	defer c.close()

	for {
		var action dto.RealtimeAction
		if err := c.conn.ReadJSON(&action); err != nil {
			c.logger.Debug().Err(err).Msg("realtime read loop ended")
			return
		}
		if err := c.gateway.validator.Struct(action); err != nil {
			c.reply(dto.EventError, dto.RealtimeError{Action: action.Action, Message: "invalid action"})
			continue
		}

		switch action.Action {
		case dto.ActionJoin:
			if err := c.join(action.UserID); err != nil {
				c.reply(dto.EventError, dto.RealtimeError{Action: action.Action, Message: err.Error()})
				continue
			}
			c.reply(dto.EventPresenceState, c.gateway.presence.Snapshot())
		case dto.ActionLeave:
			c.leave()
		case dto.ActionPresenceRequest:
			c.reply(dto.EventPresenceState, c.gateway.presence.Snapshot())
		case dto.ActionPing:
			c.reply(dto.EventPong, map[string]string{"id": c.id})
		}
	}
}

func (c *gatewayConn) writer() {
	defer c.close()

	ticker := time.NewTicker(c.gateway.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.client.Frames():
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug().Err(err).Msg("realtime write loop terminated")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug().Err(err).Msg("realtime ping failed")
				return
			}
		case <-c.client.Done():
			return
		}
	}
}

// join subscribes the connection to its own user channel. Repeated joins are no-ops.
func (c *gatewayConn) join(userID string) error {
	if userID == "" {
		userID = c.session.UserID
	}
	if userID != c.session.UserID {
		return errForeignJoin
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.joined != "" {
		return nil
	}
	c.joined = userID

	c.gateway.bus.Join(c.client, userID)
	if err := c.gateway.presence.Connect(c.ctx, userID); err != nil {
		c.logger.Warn().Err(err).Msg("presence connect failed")
	}
	return nil
}

func (c *gatewayConn) leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveLocked()
}

// leaveLocked drops the channel membership at most once per join.
func (c *gatewayConn) leaveLocked() {
	if c.joined == "" {
		return
	}
	userID := c.joined
	c.joined = ""

	c.gateway.bus.Leave(c.client, userID)
	if err := c.gateway.presence.Disconnect(c.ctx, userID); err != nil {
		c.logger.Warn().Err(err).Msg("presence disconnect failed")
	}
}

func (c *gatewayConn) reply(event string, payload interface{}) {
	if !c.client.deliver(dto.RealtimeFrame{Event: event, Data: payload}) {
		observability.RealtimeEventsDropped().WithLabelValues(event).Inc()
		c.logger.Warn().Str("event", event).Msg("dropping realtime reply for slow client")
	}
}

func (c *gatewayConn) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.leaveLocked()
		c.mu.Unlock()

		c.gateway.bus.Unregister(c.client)
		c.client.Close()
		_ = c.conn.Close()
		observability.RealtimeConnections().Dec()
		c.logger.Debug().Msg("realtime connection closed")
	})
}
