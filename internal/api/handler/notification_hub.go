package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
)

const (
	defaultRecent = 50
	clientBuffer  = 16
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	pongTimeout   = 2 * pingInterval
)

// NotificationHub is the last delivery hop for notifications: it keeps a
// short list of recent ones and pushes each to every connected websocket.
// Only notifications raised for the current audience are kept or pushed.
type NotificationHub struct {
	mu       sync.Mutex
	recent   []domain.Notification
	limit    int
	clients  map[*hubClient]struct{}
	audience func() string
	log      zerolog.Logger
}

var _ ports.NotificationSink = (*NotificationHub)(nil)

type hubClient struct {
	audience string
	send     chan domain.Notification
	done     chan struct{}
	once     sync.Once
}

func (cl *hubClient) close() {
	cl.once.Do(func() { close(cl.done) })
}

type HubOption func(*NotificationHub)

// WithAudience sets how the hub learns the current audience, normally the
// CacheKey of the session identity.
func WithAudience(current func() string) HubOption {
	return func(h *NotificationHub) { h.audience = current }
}

// NewNotificationHub keeps up to recent notifications for late readers.
func NewNotificationHub(recent int, log zerolog.Logger, opts ...HubOption) *NotificationHub {
	if recent <= 0 {
		recent = defaultRecent
	}
	h := &NotificationHub{
		limit:    recent,
		clients:  make(map[*hubClient]struct{}),
		audience: func() string { return "" },
		log:      log.With().Str("component", "notification_hub").Logger(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Deliver records n and fans it out to the clients of its audience.
// Notifications for an audience other than the current one are dropped.
// Clients that cannot keep up miss it.
func (h *NotificationHub) Deliver(_ context.Context, n domain.Notification) error {
	if n.Audience != h.audience() {
		h.log.Debug().Str("notification_id", n.ID).Msg("dropping notification for previous identity")
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, n)
	if over := len(h.recent) - h.limit; over > 0 {
		h.recent = append(h.recent[:0:0], h.recent[over:]...)
	}

	for cl := range h.clients {
		if cl.audience != n.Audience {
			continue
		}
		select {
		case cl.send <- n:
		default:
			h.log.Warn().Str("notification_id", n.ID).Msg("websocket client lagging, notification skipped")
		}
	}
	return nil
}

// Recent returns the retained notifications of the current audience,
// newest first.
func (h *NotificationHub) Recent() []domain.Notification {
	audience := h.audience()

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.Notification, 0, len(h.recent))
	for i := len(h.recent) - 1; i >= 0; i-- {
		if h.recent[i].Audience == audience {
			out = append(out, h.recent[i])
		}
	}
	return out
}

// Reset forgets retained notifications and disconnects every client. Call
// it whenever the session identity changes.
func (h *NotificationHub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = nil
	for cl := range h.clients {
		cl.close()
		delete(h.clients, cl)
	}
}

func (h *NotificationHub) register() *hubClient {
	cl := &hubClient{
		audience: h.audience(),
		send:     make(chan domain.Notification, clientBuffer),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	return cl
}

func (h *NotificationHub) unregister(cl *hubClient) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
}

// Clients returns the number of connected websocket clients.
func (h *NotificationHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// serve pumps notifications to ws until the peer goes away or ctx ends.
func (h *NotificationHub) serve(ctx context.Context, ws *websocket.Conn) {
	cl := h.register()
	defer h.unregister(cl)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reader: keeps pong handling alive and notices the peer closing.
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case <-cl.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session identity changed"),
				time.Now().Add(writeTimeout))
			return
		case n := <-cl.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(n); err != nil {
				h.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
