package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"lendcore/core/events"
	"lendcore/observability"
)

const (
	effectHistoryLimit = 2048
	wsWriteTimeout     = 10 * time.Second
)

// EffectUpdate is one committed effect as delivered to stream subscribers.
type EffectUpdate struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Height     uint64            `json:"height"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func cloneUpdate(update EffectUpdate) EffectUpdate {
	cloned := update
	if update.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// Hub keeps a bounded history of committed effects and broadcasts new ones to
// subscribers. Slow subscribers miss live updates rather than block the
// engine; they can resume from their last cursor.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	history []EffectUpdate
	subs    map[uint64]chan EffectUpdate
	height  func() uint64
	now     func() time.Time
}

// NewHub constructs a Hub. height reports the block height stamped on each
// update.
func NewHub(height func() uint64) *Hub {
	if height == nil {
		height = func() uint64 { return 0 }
	}
	return &Hub{subs: make(map[uint64]chan EffectUpdate), height: height, now: time.Now}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	generic := evt.Event()
	if generic == nil {
		return
	}
	update := EffectUpdate{
		Type:       generic.Type,
		Height:     h.height(),
		Attributes: generic.Attributes,
		Timestamp:  h.now().Unix(),
	}

	h.mu.Lock()
	h.seq++
	update.Sequence = h.seq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	h.history = append(h.history, cloneUpdate(update))
	if len(h.history) > effectHistoryLimit {
		excess := len(h.history) - effectHistoryLimit
		trimmed := make([]EffectUpdate, effectHistoryLimit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	subscribers := make([]chan EffectUpdate, 0, len(h.subs))
	for _, ch := range h.subs {
		subscribers = append(subscribers, ch)
	}
	h.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cloneUpdate(update):
		default:
			observability.Events().RecordDropped("stream")
		}
	}
}

// Subscribe registers a subscriber and returns the retained updates after
// cursor. The cancel func must be called when the subscriber goes away.
func (h *Hub) Subscribe(cursor string) (<-chan EffectUpdate, func(), []EffectUpdate) {
	updates := make(chan EffectUpdate, 64)
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	backlog := make([]EffectUpdate, 0, len(h.history))
	for _, entry := range h.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
	return updates, cancel, backlog
}

func (s *Server) handleEffectsWS(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	filter := typeFilter(r.URL.Query().Get("types"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEffects(ctx, conn, cursor, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEffects(ctx context.Context, conn *websocket.Conn, cursor string, filter map[string]struct{}) error {
	updates, cancel, backlog := s.hub.Subscribe(cursor)
	defer cancel()

	for _, update := range backlog {
		if err := writeUpdate(ctx, conn, update, filter); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if err := writeUpdate(ctx, conn, update, filter); err != nil {
				return err
			}
		}
	}
}

func typeFilter(raw string) map[string]struct{} {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}

func writeUpdate(ctx context.Context, conn *websocket.Conn, update EffectUpdate, filter map[string]struct{}) error {
	if filter != nil {
		if _, ok := filter[update.Type]; !ok {
			return nil
		}
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
