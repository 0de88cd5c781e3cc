// Package stream carries committed ledger events over websockets: a Hub that
// fans batches out to connected clients, and a reconnecting Client.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"agent-market/internal/domain"
	"agent-market/internal/observability"
	"agent-market/internal/storage"
)

// HubOptions configures a Hub.
type HubOptions struct {
	// Backlog, when set, replays events after the requested sequence before
	// the live feed starts.
	Backlog      storage.EventStore
	BacklogLimit int           // default: 10000
	BufferSize   int           // per-client queue (default: 256)
	WriteTimeout time.Duration // default: 10s
	PingInterval time.Duration // default: 30s
	Logger       zerolog.Logger
}

// Hub is an events.Sink that forwards every batch to subscribed clients.
// A client whose queue is full is disconnected; it resumes from its last
// sequence on reconnect.
type Hub struct {
	opts     HubOptions
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	filter domain.EventFilter
	send   chan domain.Event
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// NewHub creates a hub.
func NewHub(opts HubOptions) *Hub {
	if opts.BacklogLimit <= 0 {
		opts.BacklogLimit = 10000
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     opts.Logger,
		clients: make(map[*subscriber]struct{}),
	}
}

// Publish forwards batch to every matching client without blocking.
func (h *Hub) Publish(_ context.Context, batch []domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.clients {
		for i := range batch {
			if !sub.filter.Match(&batch[i]) {
				continue
			}
			select {
			case sub.send <- batch[i]:
			default:
				h.log.Warn().Uint64("seq", batch[i].Seq).Msg("stream client too slow, disconnecting")
				h.removeLocked(sub)
			}
			if _, ok := h.clients[sub]; !ok {
				break
			}
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.clients {
		h.removeLocked(sub)
	}
}

func (h *Hub) add(sub *subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("stream hub closed")
	}
	h.clients[sub] = struct{}{}
	observability.SetStreamClients(len(h.clients))
	return nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *subscriber) {
	if _, ok := h.clients[sub]; !ok {
		return
	}
	delete(h.clients, sub)
	sub.close()
	observability.SetStreamClients(len(h.clients))
}

// ParseFilter reads kind, provider, user and after_seq query parameters.
func ParseFilter(r *http.Request) (domain.EventFilter, error) {
	q := r.URL.Query()
	f := domain.EventFilter{
		Kind:     q.Get("kind"),
		Provider: domain.Address(q.Get("provider")),
		User:     domain.Address(q.Get("user")),
	}
	if s := q.Get("after_seq"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return f, fmt.Errorf("after_seq: %w", err)
		}
		f.AfterSeq = n
	}
	return f, nil
}

// ServeHTTP upgrades the request and streams matching events as JSON text
// frames until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	sub := &subscriber{filter: filter, send: make(chan domain.Event, h.opts.BufferSize)}
	if err := h.add(sub); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(time.Second))
		return
	}
	defer h.remove(sub)

	// Drain client frames so control messages are processed; a read error
	// means the peer is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastSeq, lastIndex, err := h.replay(r.Context(), conn, filter, r.URL.Query().Has("after_seq"))
	if err != nil {
		h.log.Warn().Err(err).Msg("stream backlog replay")
		return
	}

	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case e, ok := <-sub.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "slow consumer"), time.Now().Add(time.Second))
				return
			}
			if lastSeq > 0 && !after(e, lastSeq, lastIndex) {
				continue
			}
			if err := h.write(conn, e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// replay writes the stored events after filter.AfterSeq when the client asked
// to resume, and returns the position of the last one written.
func (h *Hub) replay(ctx context.Context, conn *websocket.Conn, filter domain.EventFilter, resume bool) (uint64, uint32, error) {
	if h.opts.Backlog == nil || !resume {
		return 0, 0, nil
	}
	filter.Limit = h.opts.BacklogLimit
	backlog, err := h.opts.Backlog.List(ctx, filter)
	if err != nil {
		return 0, 0, err
	}
	var seq uint64
	var idx uint32
	for _, e := range backlog {
		if err := h.write(conn, *e); err != nil {
			return 0, 0, err
		}
		seq, idx = e.Seq, e.Index
	}
	return seq, idx, nil
}

// after reports whether e comes strictly after position (seq, index).
func after(e domain.Event, seq uint64, index uint32) bool {
	return e.Seq > seq || (e.Seq == seq && e.Index > index)
}

func (h *Hub) write(conn *websocket.Conn, e domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	return conn.WriteJSON(e)
}
