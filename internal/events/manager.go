package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unalkalkan/bookcast/internal/logger"
)

const (
	defaultHeartbeat = 30 * time.Second
	eventBuffer      = 1000
	clientBuffer     = 100
)

// Client is one connected subscriber.
type Client struct {
	ID          string
	JobID       string // empty receives every job
	Events      chan Event
	Done        chan struct{}
	ConnectedAt time.Time
}

// Manager broadcasts events to subscribed clients.
type Manager struct {
	clients           map[string]*Client
	events            chan Event
	logger            *slog.Logger
	heartbeatInterval time.Duration
	mu                sync.RWMutex

	running  atomic.Bool
	stopped  chan struct{}
	dropped  atomic.Int64
	shutdown bool
	// shutdownMu is held for reading across every send on events so
	// Shutdown can close the channel safely.
	shutdownMu sync.RWMutex
}

// NewManager creates a manager. A zero heartbeat uses 30 seconds.
func NewManager(log *slog.Logger, heartbeat time.Duration) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Manager{
		clients:           make(map[string]*Client),
		events:            make(chan Event, eventBuffer),
		logger:            logger.Component(log, "events"),
		heartbeatInterval: heartbeat,
		stopped:           make(chan struct{}),
	}
}

// Start runs the broadcast loop until ctx is done or Shutdown closes the
// queue. Call it once, in its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.running.Store(true)
	defer close(m.stopped)

	m.logger.Info("event manager starting")

	heartbeat := time.NewTicker(m.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-m.events:
			if !ok {
				m.closeAllClients()
				return
			}
			m.broadcast(event)

		case <-heartbeat.C:
			m.broadcast(NewHeartbeatEvent())

		case <-ctx.Done():
			m.logger.Info("event manager stopping")
			m.closeAllClients()
			return
		}
	}
}

// Shutdown stops accepting events, delivers what is queued and closes all
// clients.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownMu.Lock()
	if m.shutdown {
		m.shutdownMu.Unlock()
		return nil
	}
	m.shutdown = true
	close(m.events)
	m.shutdownMu.Unlock()

	if !m.running.Load() {
		for event := range m.events {
			m.broadcast(event)
		}
		m.closeAllClients()
		return nil
	}

	select {
	case <-m.stopped:
		return nil
	case <-ctx.Done():
		m.logger.Warn("event drain timed out, some events may be lost")
		return ctx.Err()
	}
}

// Emit queues an event without blocking. Events emitted after Shutdown or
// while the queue is full are dropped.
func (m *Manager) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.shutdownMu.RLock()
	defer m.shutdownMu.RUnlock()

	if m.shutdown {
		return
	}

	select {
	case m.events <- event:
	default:
		m.dropped.Add(1)
		m.logger.Error("event queue full, dropping event", "event_type", event.Type)
	}
}

// Subscribe registers a client for jobID's events, or all events when
// jobID is empty.
func (m *Manager) Subscribe(jobID string) *Client {
	client := &Client{
		ID:          uuid.NewString(),
		JobID:       jobID,
		Events:      make(chan Event, clientBuffer),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	m.clients[client.ID] = client
	total := len(m.clients)
	m.mu.Unlock()

	m.logger.Debug("client subscribed", "client_id", client.ID, "job_id", jobID, "total_clients", total)
	return client
}

// Unsubscribe removes a client and closes its channels.
func (m *Manager) Unsubscribe(clientID string) {
	m.mu.Lock()
	client, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, clientID)
	total := len(m.clients)
	m.mu.Unlock()

	close(client.Done)
	close(client.Events)

	m.logger.Debug("client unsubscribed",
		"client_id", clientID,
		"duration", time.Since(client.ConnectedAt),
		"total_clients", total)
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Dropped returns how many events were discarded, queue and per-client.
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

func (m *Manager) broadcast(event Event) {
	var delivered, dropped int

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, client := range m.clients {
		if event.Type != EventHeartbeat && client.JobID != "" && client.JobID != event.JobID {
			continue
		}

		// Slow clients lose events rather than stalling everyone.
		select {
		case client.Events <- event:
			delivered++
		default:
			dropped++
			m.dropped.Add(1)
			m.logger.Warn("dropped event for slow client", "client_id", client.ID, "event_type", event.Type)
		}
	}

	if event.Type != EventHeartbeat {
		m.logger.Debug("event broadcast",
			"event_type", event.Type,
			"job_id", event.JobID,
			"delivered", delivered,
			"dropped", dropped)
	}
}

func (m *Manager) closeAllClients() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, client := range m.clients {
		close(client.Done)
		close(client.Events)
	}
	m.clients = make(map[string]*Client)
}
