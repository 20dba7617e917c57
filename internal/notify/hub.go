// Package notify multiplexes job-scoped notifications to connected observers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	"github.com/JakeFAU/docsynapse-crawler/internal/metrics"
)

const (
	defaultHeartbeat   = 30 * time.Second
	defaultSendTimeout = 5 * time.Second
)

// Observer is one connected client. Send must be safe for concurrent use.
type Observer interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Stream is an Observer that can also receive client messages.
type Stream interface {
	Observer
	Read() ([]byte, error)
}

// Handle identifies a connected observer.
type Handle string

// Config controls hub timing.
type Config struct {
	HeartbeatInterval time.Duration
	SendTimeout       time.Duration
}

// Stats summarizes the hub's registry.
type Stats struct {
	ActiveConnections int  `json:"active_connections"`
	JobSubscriptions  int  `json:"job_subscriptions"`
	HeartbeatActive   bool `json:"heartbeat_active"`
}

// Hub holds strong references to observers and drops them on explicit
// disconnect or the first failed send.
type Hub struct {
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger

	mu        sync.RWMutex
	observers map[Handle]Observer
	jobs      map[string]map[Handle]struct{}
	interests map[Handle]map[string]struct{}

	heartbeatActive atomic.Bool
	stopHeartbeat   context.CancelFunc
	heartbeatDone   chan struct{}
	startOnce       sync.Once
}

// Option customizes a Hub.
type Option func(*Hub)

// WithClock overrides the time source stamped on messages.
func WithClock(c crawler.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// NewHub builds an idle hub. Call Start to run the heartbeat loop.
func NewHub(cfg Config, logger *zap.Logger, opts ...Option) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:       cfg,
		clock:     crawler.SystemClock{},
		logger:    logger,
		observers: make(map[Handle]Observer),
		jobs:      make(map[string]map[Handle]struct{}),
		interests: make(map[Handle]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start launches the heartbeat loop. It stops when ctx ends or Close is called.
func (h *Hub) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		h.stopHeartbeat = cancel
		h.heartbeatDone = make(chan struct{})
		h.heartbeatActive.Store(true)
		go h.heartbeatLoop(ctx)
	})
}

// Close stops the heartbeat and disconnects every observer.
func (h *Hub) Close() {
	if h.stopHeartbeat != nil {
		h.stopHeartbeat()
		<-h.heartbeatDone
	}
	h.mu.RLock()
	handles := make([]Handle, 0, len(h.observers))
	for id := range h.observers {
		handles = append(handles, id)
	}
	h.mu.RUnlock()
	for _, id := range handles {
		h.Disconnect(id)
	}
}

func (h *Hub) heartbeatLoop(ctx context.Context) {
	defer close(h.heartbeatDone)
	defer h.heartbeatActive.Store(false)
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.Stats().ActiveConnections == 0 {
				continue
			}
			h.Broadcast(ctx, Heartbeat(h.clock.Now()))
		}
	}
}

// Connect registers o and returns its handle.
func (h *Hub) Connect(o Observer) Handle {
	id := Handle(uuid.NewString())
	h.mu.Lock()
	h.observers[id] = o
	h.interests[id] = make(map[string]struct{})
	count := len(h.observers)
	h.mu.Unlock()
	metrics.SetObservers(count)
	h.logger.Debug("observer connected", zap.String("observer", string(id)), zap.Int("connections", count))
	return id
}

// Subscribe adds a job subscription for a connected observer.
func (h *Hub) Subscribe(id Handle, jobID string) bool {
	if jobID == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[id]; !ok {
		return false
	}
	subs, ok := h.jobs[jobID]
	if !ok {
		subs = make(map[Handle]struct{})
		h.jobs[jobID] = subs
	}
	subs[id] = struct{}{}
	h.interests[id][jobID] = struct{}{}
	return true
}

// Disconnect removes id from every subscription set and closes its
// transport. It is idempotent.
func (h *Hub) Disconnect(id Handle) {
	h.mu.Lock()
	o, ok := h.observers[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.observers, id)
	for jobID := range h.interests[id] {
		if subs, exists := h.jobs[jobID]; exists {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.jobs, jobID)
			}
		}
	}
	delete(h.interests, id)
	count := len(h.observers)
	h.mu.Unlock()

	metrics.SetObservers(count)
	if err := o.Close(); err != nil {
		h.logger.Debug("observer close failed", zap.String("observer", string(id)), zap.Error(err))
	}
}

// PublishToJob delivers msg to the subscribers of jobID.
func (h *Hub) PublishToJob(ctx context.Context, jobID string, msg Message) {
	h.mu.RLock()
	subs := h.jobs[jobID]
	targets := make(map[Handle]Observer, len(subs))
	for id := range subs {
		targets[id] = h.observers[id]
	}
	h.mu.RUnlock()
	h.deliver(ctx, targets, msg)
}

// Broadcast delivers msg to every connected observer.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	h.mu.RLock()
	targets := make(map[Handle]Observer, len(h.observers))
	for id, o := range h.observers {
		targets[id] = o
	}
	h.mu.RUnlock()
	h.deliver(ctx, targets, msg)
}

// Send delivers msg to a single observer.
func (h *Hub) Send(ctx context.Context, id Handle, msg Message) bool {
	h.mu.RLock()
	o, ok := h.observers[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.send(ctx, id, o, msg)
}

// deliver sends to each target concurrently. Sends happen outside the lock.
func (h *Hub) deliver(ctx context.Context, targets map[Handle]Observer, msg Message) {
	if len(targets) == 0 {
		return
	}
	var wg sync.WaitGroup
	for id, o := range targets {
		wg.Add(1)
		go func(id Handle, o Observer) {
			defer wg.Done()
			h.send(ctx, id, o, msg)
		}(id, o)
	}
	wg.Wait()
}

func (h *Hub) send(ctx context.Context, id Handle, o Observer, msg Message) bool {
	sendCtx, cancel := context.WithTimeout(ctx, h.cfg.SendTimeout)
	defer cancel()
	if err := o.Send(sendCtx, msg); err != nil {
		h.logger.Warn("evicting observer after failed send",
			zap.String("observer", string(id)),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
		metrics.ObserveEviction()
		h.Disconnect(id)
		return false
	}
	metrics.ObserveNotification(string(msg.Type))
	return true
}

// Stats reports registry sizes.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		ActiveConnections: len(h.observers),
		JobSubscriptions:  len(h.jobs),
		HeartbeatActive:   h.heartbeatActive.Load(),
	}
}

// HandleClientMessage answers subscribe and ping requests from observer id.
func (h *Hub) HandleClientMessage(ctx context.Context, id Handle, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.Send(ctx, id, Error(SystemJobID, CodeInvalidMessage, "message is not valid JSON", nil, false, h.clock.Now()))
		return
	}
	switch msg.Type {
	case "subscribe":
		if !h.Subscribe(id, msg.JobID) {
			h.Send(ctx, id, Error(SystemJobID, CodeInvalidMessage, "subscribe requires job_id", nil, false, h.clock.Now()))
		}
	case "ping":
		h.Send(ctx, id, Pong(h.clock.Now()))
	default:
		h.Send(ctx, id, Error(SystemJobID, CodeUnknownMessage,
			fmt.Sprintf("unknown message type %q", msg.Type), nil, false, h.clock.Now()))
	}
}

// Serve registers s, subscribes it to jobID when set, calls onConnect, and
// processes client messages until the stream fails. The observer is always
// disconnected on return.
func (h *Hub) Serve(ctx context.Context, s Stream, jobID string, onConnect func(Handle)) {
	id := h.Connect(s)
	defer h.Disconnect(id)
	if jobID != "" {
		h.Subscribe(id, jobID)
	}
	if onConnect != nil {
		onConnect(id)
	}
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := s.Read()
		if err != nil {
			h.logger.Debug("observer stream closed", zap.String("observer", string(id)), zap.Error(err))
			return
		}
		h.HandleClientMessage(ctx, id, raw)
	}
}
