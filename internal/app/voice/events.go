package voice

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventJoined          EventType = "joined"
	EventLeft            EventType = "left"
	EventParticipants    EventType = "participants"
	EventVoiceState      EventType = "voice_state"
	EventSpeaking        EventType = "speaking"
	EventActivation      EventType = "activation"
	EventConnection      EventType = "connection"
	EventConnectionError EventType = "connection_error"
)

// Event is what UI subscribers receive. Payload is JSON friendly.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// hub fans events out to subscribers without blocking the controller.
// A subscriber that does not keep up loses events.
type hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

func (h *hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("module", "voice").Int("subscriber", id).Str("event", string(ev.Type)).Msg("subscriber slow, event dropped")
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
