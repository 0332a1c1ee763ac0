// Package livefeed streams fused pose+velocity telemetry to WebSocket
// viewers, adapted from the teacher's flight-telemetry broadcaster:
// same client registry/broadcast-channel architecture, a
// tracker-shaped message body.
package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/survivekalman/posetrack/pkg/utils"
)

// Streamer broadcasts telemetry to WebSocket clients.
type Streamer struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	broadcast chan *TelemetryMessage

	upgrader websocket.Upgrader
	logger   *logrus.Entry

	messagesSent   uint64
	clientsServed  uint64
	currentClients int
}

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan *TelemetryMessage
	id   string
}

// TelemetryMessage is the fused pose estimate pushed to viewers.
type TelemetryMessage struct {
	Device    string     `json:"device"`
	Timestamp time.Time  `json:"timestamp"`
	Time      float64    `json:"time"`
	Position  [3]float64 `json:"position"`
	Rotation  [4]float64 `json:"rotation"`
	Velocity  [3]float64 `json:"velocity"`
	AngularV  [3]float64 `json:"angular_velocity"`

	Confidence float64 `json:"confidence"`
	Alerts     []Alert `json:"alerts,omitempty"`
}

// Alert is a tracker-health notice (late-dropped samples, lost
// position lock, non-finite Jacobian) surfaced alongside telemetry.
type Alert struct {
	Type     string    `json:"type"`
	Severity string    `json:"severity"` // info, warning, critical
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// New creates a Streamer.
func New() *Streamer {
	return &Streamer{
		clients:   make(map[*Client]bool),
		broadcast: make(chan *TelemetryMessage, 100),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: utils.Component("livefeed"),
	}
}

// HandleWebSocket upgrades an HTTP request and registers the client.
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("failed to upgrade websocket")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan *TelemetryMessage, 50),
		id:   r.RemoteAddr,
	}
	s.RegisterClient(client)
	s.logger.WithField("client", client.id).Info("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	go client.WritePump(ctx, s)
	go client.ReadPump(ctx, cancel, s)
}

// RegisterClient adds a new WebSocket client.
func (s *Streamer) RegisterClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
	s.clientsServed++
	s.currentClients++
}

// UnregisterClient removes a client.
func (s *Streamer) UnregisterClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
		s.currentClients--
		s.logger.WithField("client", client.id).Info("client disconnected")
	}
}

// Broadcast queues a telemetry message for delivery, dropping the
// oldest queued message if the buffer is full rather than blocking
// the tracker's hot path.
func (s *Streamer) Broadcast(msg *TelemetryMessage) {
	select {
	case s.broadcast <- msg:
	default:
		select {
		case <-s.broadcast:
		default:
		}
		s.broadcast <- msg
	}
}

// Run drains the broadcast channel until ctx is canceled.
func (s *Streamer) Run(ctx context.Context) error {
	s.logger.Info("livefeed streamer started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("livefeed streamer stopping")
			s.closeAllClients()
			return ctx.Err()
		case msg := <-s.broadcast:
			s.sendToClients(msg)
		}
	}
}

func (s *Streamer) sendToClients(msg *TelemetryMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- msg:
			s.messagesSent++
		default:
		}
	}
}

func (s *Streamer) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.conn.Close()
		close(client.send)
		delete(s.clients, client)
	}
}

// Stats returns streaming statistics.
func (s *Streamer) Stats() (clients int, sent, served uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentClients, s.messagesSent, s.clientsServed
}

// WritePump sends queued messages and periodic pings to the client.
func (c *Client) WritePump(ctx context.Context, s *Streamer) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump drains inbound frames (clients don't send commands today,
// but the pong handler needs somewhere to read from).
func (c *Client) ReadPump(ctx context.Context, cancel context.CancelFunc, s *Streamer) {
	defer func() {
		cancel()
		s.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithError(err).Error("websocket read error")
			}
			return
		}
	}
}
