package rest

import (
	"sync"

	"github.com/dfryer1193/photofeed/api"
	"github.com/dfryer1193/photofeed/gallery/domain"
)

// EventHub is the synchronizer's sink: it converts view events into API
// payloads and fans them out to every connected event stream.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan api.ViewEvent]struct{}
}

// NewEventHub returns a hub with no subscribers.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan api.ViewEvent]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be
// called when the listener goes away.
func (h *EventHub) Subscribe() (<-chan api.ViewEvent, func()) {
	ch := make(chan api.ViewEvent, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *EventHub) ViewAdded(key domain.ImageKey, rec *domain.ImageRecord, profile *domain.OwnerProfile) {
	h.broadcast(api.ViewEvent{
		Type:       "added",
		Owner:      key.Owner,
		Visibility: string(key.Visibility),
		Filename:   key.Filename,
		Card:       cardFrom(rec, profile),
	})
}

func (h *EventHub) ViewUpdated(key domain.ImageKey, rec *domain.ImageRecord) {
	h.broadcast(api.ViewEvent{
		Type:       "updated",
		Owner:      key.Owner,
		Visibility: string(key.Visibility),
		Filename:   key.Filename,
		Card:       cardFrom(rec, nil),
	})
}

func (h *EventHub) ViewRemoved(key domain.ImageKey) {
	h.broadcast(api.ViewEvent{
		Type:       "removed",
		Owner:      key.Owner,
		Visibility: string(key.Visibility),
		Filename:   key.Filename,
	})
}

// broadcast never blocks the synchronizer: a listener that cannot keep
// up misses events and is expected to re-list on reconnect.
func (h *EventHub) broadcast(e api.ViewEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func cardFrom(rec *domain.ImageRecord, profile *domain.OwnerProfile) *api.ImageCard {
	card := &api.ImageCard{
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		Visibility:  string(rec.Visibility),
		Src:         rec.Src,
		UploadDate:  rec.UploadDate,
		Owner:       rec.Owner,
	}
	if profile != nil {
		card.OwnerName = profile.DisplayName
		card.OwnerAvatar = profile.AvatarURL
	}
	return card
}
