// Package websocket implements the live-reload hub of the dev server.
//
// Browsers connect to the hub's endpoint and receive one text message per
// finished build generation: {"type":"reload"} after a publish, or
// {"type":"error","message":...} after a failure. Delivery is best effort;
// a client whose buffer is full or whose connection has failed is dropped
// on the next broadcast without affecting the others.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/conneroisu/tramline/internal/logging"
	"github.com/conneroisu/tramline/internal/metrics"
	"github.com/conneroisu/tramline/internal/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// sendBuffer is how many messages may queue for a slow client.
	sendBuffer = 16
)

// Manager handles all live-reload connections and broadcasting
type Manager struct {
	clients      map[string]*Client
	failed       map[string]bool
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan string

	originValidator OriginValidator
	logger          logging.Logger
	recorder        metrics.Recorder

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	hubDone      chan struct{}
}

// NewManager creates a manager and starts its hub. A nil validator admits
// every origin.
func NewManager(originValidator OriginValidator, logger logging.Logger, recorder metrics.Recorder) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		clients:         make(map[string]*Client),
		failed:          make(map[string]bool),
		broadcast:       make(chan []byte, 64),
		register:        make(chan *Client, 32),
		unregister:      make(chan string, 32),
		originValidator: originValidator,
		logger:          logger.WithComponent("live_reload"),
		recorder:        metrics.OrNoop(recorder),
		ctx:             ctx,
		cancel:          cancel,
		hubDone:         make(chan struct{}),
	}

	go m.runHub()
	return m
}

// ServeHTTP upgrades the request to a live-reload connection.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if m.originValidator != nil && origin != "" && !m.originValidator.IsAllowedOrigin(origin) {
		m.logger.Warn(r.Context(), nil, "Live-reload connection rejected", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins are validated above.
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		m.logger.Warn(r.Context(), err, "Live-reload upgrade failed", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		connectedAt: time.Now(),
	}

	select {
	case m.register <- client:
	case <-m.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go m.writeToClient(client)
	m.readFromClient(client)
}

func (m *Manager) runHub() {
	defer close(m.hubDone)
	for {
		select {
		case client := <-m.register:
			m.registerClient(client)

		case id := <-m.unregister:
			m.markFailed(id)

		case message := <-m.broadcast:
			m.broadcastToClients(message)

		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.id] = client
	count := len(m.clients)
	m.clientsMutex.Unlock()

	m.recorder.SetReloadClients(count)
	m.logger.Debug(m.ctx, "Live-reload client connected", "client", client.id, "clients", count)
}

// markFailed flags a client whose connection ended. It is removed by the
// next broadcast.
func (m *Manager) markFailed(id string) {
	m.clientsMutex.Lock()
	if _, ok := m.clients[id]; ok {
		m.failed[id] = true
	}
	m.clientsMutex.Unlock()
}

// broadcastToClients delivers message to every healthy client and prunes
// failed or saturated ones.
func (m *Manager) broadcastToClients(message []byte) {
	m.clientsMutex.Lock()
	var pruned []*Client
	for id, client := range m.clients {
		if m.failed[id] {
			pruned = append(pruned, client)
			continue
		}
		select {
		case client.send <- message:
		default:
			pruned = append(pruned, client)
		}
	}
	for _, client := range pruned {
		delete(m.clients, client.id)
		delete(m.failed, client.id)
		close(client.send)
	}
	count := len(m.clients)
	m.clientsMutex.Unlock()

	for _, client := range pruned {
		_ = client.conn.Close(websocket.StatusGoingAway, "")
		m.logger.Debug(m.ctx, "Live-reload client dropped", "client", client.id)
	}
	m.recorder.SetReloadClients(count)
}

// readFromClient blocks until the peer goes away. Browsers never send
// anything meaningful; reading keeps control frames flowing.
func (m *Manager) readFromClient(client *Client) {
	defer func() {
		select {
		case m.unregister <- client.id:
		case <-m.ctx.Done():
		}
	}()

	for {
		if _, _, err := client.conn.Read(m.ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && m.ctx.Err() == nil {
				m.logger.Debug(m.ctx, "Live-reload read ended", "client", client.id, "error", err.Error())
			}
			return
		}
	}
}

func (m *Manager) writeToClient(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(m.ctx, writeWait)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()

			if err != nil {
				m.logger.Debug(m.ctx, "Live-reload write failed", "client", client.id, "error", err.Error())
				m.markFailed(client.id)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(m.ctx, writeWait)
			err := client.conn.Ping(ctx)
			cancel()

			if err != nil {
				m.markFailed(client.id)
				return
			}

		case <-m.ctx.Done():
			return
		}
	}
}

// Broadcast queues msg for every connected client. It never blocks: when
// the queue is full the message is dropped.
func (m *Manager) Broadcast(msg ReloadMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error(m.ctx, err, "Failed to marshal live-reload message")
		return
	}

	select {
	case m.broadcast <- data:
		m.recorder.IncBroadcast(string(msg.Type))
	case <-m.ctx.Done():
	default:
		m.logger.Warn(m.ctx, nil, "Live-reload queue full, dropping message", "type", string(msg.Type))
	}
}

// NotifyReload broadcasts a reload for a published generation.
func (m *Manager) NotifyReload(gen uint64) {
	m.Broadcast(ReloadMessage{Type: MessageReload, Generation: gen})
}

// NotifyError broadcasts a build failure.
func (m *Manager) NotifyError(gen uint64, message string) {
	m.Broadcast(ReloadMessage{Type: MessageError, Message: validation.SanitizeInput(message), Generation: gen})
}

// ClientCount returns the number of registered clients, including failed
// ones not yet pruned.
func (m *Manager) ClientCount() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

// Shutdown stops the hub and closes every connection.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.cancel()

		select {
		case <-m.hubDone:
		case <-ctx.Done():
		}

		m.clientsMutex.Lock()
		clients := m.clients
		m.clients = make(map[string]*Client)
		m.failed = make(map[string]bool)
		m.clientsMutex.Unlock()

		for _, client := range clients {
			_ = client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		m.recorder.SetReloadClients(0)
	})
	return ctx.Err()
}

// HostValidator admits origins whose host matches one of Allowed.
type HostValidator struct {
	Allowed []string
}

// IsAllowedOrigin implements OriginValidator.
func (v HostValidator) IsAllowedOrigin(origin string) bool {
	return validation.ValidateOrigin(origin, v.Allowed) == nil
}
