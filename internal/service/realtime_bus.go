package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/observability"
)

const realtimeSendBufferSize = 32

// RealtimeBus delivers events to the connections joined to a user channel, or to every
// connection. Delivery is best-effort: events for absent users are dropped.
type RealtimeBus interface {
	SendToUser(ctx context.Context, userID, event string, payload interface{})
	Broadcast(ctx context.Context, event string, payload interface{})
	Register(client *RealtimeClient)
	Join(client *RealtimeClient, userID string)
	Leave(client *RealtimeClient, userID string)
	Unregister(client *RealtimeClient)
	Start(ctx context.Context)
}

// RealtimeClient is one connection's outbound queue.
type RealtimeClient struct {
	send   chan dto.RealtimeFrame
	closed chan struct{}
	once   sync.Once
}

// NewRealtimeClient creates a client with a buffered outbound queue.
func NewRealtimeClient(buffer int) *RealtimeClient {
	if buffer <= 0 {
		buffer = realtimeSendBufferSize
	}
	return &RealtimeClient{
		send:   make(chan dto.RealtimeFrame, buffer),
		closed: make(chan struct{}),
	}
}

// Frames returns the queue of frames waiting to be written.
func (c *RealtimeClient) Frames() <-chan dto.RealtimeFrame {
	return c.send
}

// Done is closed once the client has been closed.
func (c *RealtimeClient) Done() <-chan struct{} {
	return c.closed
}

// Close marks the client as gone. Safe to call more than once.
func (c *RealtimeClient) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

func (c *RealtimeClient) deliver(frame dto.RealtimeFrame) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

type realtimeBus struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	hub          *realtimeHub
	nodeID       string
}

type realtimeHub struct {
	mu      sync.RWMutex
	clients map[*RealtimeClient]struct{}
	users   map[string]map[*RealtimeClient]struct{}
	log     zerolog.Logger
}

type realtimeEvent struct {
	Source string          `json:"source"`
	UserID string          `json:"user_id,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sent_at"`
}

// NewRealtimeBus creates the per-user push channel. Cross-node fan-out uses Redis pub/sub
// when a client is given, otherwise NATS; with neither the bus is node-local.
func NewRealtimeBus(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) RealtimeBus {
	redisChannel := ""
	natsSubject := ""
	if channelBase != "" {
		redisChannel = channelBase + ":realtime"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".realtime"
	}

	return &realtimeBus{
		redis:        redisClient,
		redisChannel: redisChannel,
		nats:         natsConn,
		natsSubject:  natsSubject,
		logger:       logger.With().Str("component", "realtime_bus").Logger(),
		hub: &realtimeHub{
			clients: make(map[*RealtimeClient]struct{}),
			users:   make(map[string]map[*RealtimeClient]struct{}),
			log:     logger.With().Str("component", "realtime_hub").Logger(),
		},
		nodeID: uuid.NewString(),
	}
}

func (b *realtimeBus) Start(ctx context.Context) {
	switch {
	case b.redis != nil && b.redisChannel != "":
		go b.consumeRedis(ctx)
	case b.nats != nil && b.natsSubject != "":
		go b.consumeNATS(ctx)
	}
}

func (b *realtimeBus) SendToUser(ctx context.Context, userID, event string, payload interface{}) {
	if userID == "" {
		return
	}
	b.hub.sendToUser(userID, dto.RealtimeFrame{Event: event, Data: payload})
	b.publish(ctx, userID, event, payload)
}

func (b *realtimeBus) Broadcast(ctx context.Context, event string, payload interface{}) {
	b.hub.broadcast(dto.RealtimeFrame{Event: event, Data: payload})
	b.publish(ctx, "", event, payload)
}

func (b *realtimeBus) Register(client *RealtimeClient) {
	b.hub.register(client)
}

func (b *realtimeBus) Join(client *RealtimeClient, userID string) {
	b.hub.join(client, userID)
}

func (b *realtimeBus) Leave(client *RealtimeClient, userID string) {
	b.hub.leave(client, userID)
}

func (b *realtimeBus) Unregister(client *RealtimeClient) {
	b.hub.unregister(client)
}

func (b *realtimeBus) publish(ctx context.Context, userID, event string, payload interface{}) {
	redisEnabled := b.redis != nil && b.redisChannel != ""
	natsEnabled := b.nats != nil && b.natsSubject != ""
	if !redisEnabled && !natsEnabled {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("event", event).Msg("failed to marshal realtime payload")
		return
	}
	envelope, err := json.Marshal(realtimeEvent{
		Source: b.nodeID,
		UserID: userID,
		Event:  event,
		Data:   data,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("event", event).Msg("failed to marshal realtime event")
		return
	}

	if redisEnabled {
		if err := b.redis.Publish(ctx, b.redisChannel, envelope).Err(); err != nil {
			b.logger.Warn().Err(err).Str("event", event).Msg("failed to publish realtime event to redis")
		}
		return
	}
	if err := b.nats.Publish(b.natsSubject, envelope); err != nil {
		b.logger.Warn().Err(err).Str("event", event).Msg("failed to publish realtime event to nats")
	}
}

func (b *realtimeBus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisChannel)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			b.logger.Error().Err(err).Msg("realtime redis subscription closed")
			return
		}
		b.handleEvent([]byte(msg.Payload))
	}
}

func (b *realtimeBus) consumeNATS(ctx context.Context) {
	// Every node must see every event, so no queue group here.
	sub, err := b.nats.Subscribe(b.natsSubject, func(msg *nats.Msg) {
		b.handleEvent(msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats realtime subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain realtime nats subscription")
		}
	}()
}

func (b *realtimeBus) handleEvent(data []byte) {
	var event realtimeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		b.logger.Warn().Err(err).Msg("invalid realtime event")
		return
	}
	if event.Source == b.nodeID {
		return
	}

	frame := dto.RealtimeFrame{Event: event.Event, Data: event.Data}
	if event.UserID == "" {
		b.hub.broadcast(frame)
		return
	}
	b.hub.sendToUser(event.UserID, frame)
}

func (h *realtimeHub) register(client *RealtimeClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
}

func (h *realtimeHub) join(client *RealtimeClient, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = struct{}{}
	members, ok := h.users[userID]
	if !ok {
		members = make(map[*RealtimeClient]struct{})
		h.users[userID] = members
	}
	members[client] = struct{}{}
	h.log.Debug().Str("user_id", userID).Int("connections", len(members)).Msg("client joined user channel")
}

func (h *realtimeHub) leave(client *RealtimeClient, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeMember(client, userID)
}

func (h *realtimeHub) unregister(client *RealtimeClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, client)
	for userID := range h.users {
		h.removeMember(client, userID)
	}
}

func (h *realtimeHub) removeMember(client *RealtimeClient, userID string) {
	members, ok := h.users[userID]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.users, userID)
	}
}

func (h *realtimeHub) sendToUser(userID string, frame dto.RealtimeFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.users[userID] {
		if !client.deliver(frame) {
			observability.RealtimeEventsDropped().WithLabelValues(frame.Event).Inc()
			h.log.Warn().Str("user_id", userID).Str("event", frame.Event).Msg("dropping realtime event for slow client")
		}
	}
}

func (h *realtimeHub) broadcast(frame dto.RealtimeFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.deliver(frame) {
			observability.RealtimeEventsDropped().WithLabelValues(frame.Event).Inc()
			h.log.Warn().Str("event", frame.Event).Msg("dropping realtime broadcast for slow client")
		}
	}
}
