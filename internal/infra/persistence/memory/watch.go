package memory

import (
	"sync"

	"thesisgen/pkg/domain"
)

// subscriberBuffer bounds the per-subscriber event queue. A subscriber that
// stops draining has its channel closed rather than stalling commits.
const subscriberBuffer = 64

type subscriber struct {
	hub       *watchHub
	entity    domain.EntityType
	projectID string
	events    chan domain.WatchEvent
	once      sync.Once
}

// Events returns the subscription channel. The channel closes after Cancel.
func (s *subscriber) Events() <-chan domain.WatchEvent {
	return s.events
}

// Cancel detaches the subscription and closes its channel. Safe to call more
// than once.
func (s *subscriber) Cancel() {
	s.hub.remove(s)
}

type watchHub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[*subscriber]struct{})}
}

func (h *watchHub) subscribe(entity domain.EntityType, projectID string) domain.WatchHandle {
	sub := &subscriber{
		hub:       h,
		entity:    entity,
		projectID: projectID,
		events:    make(chan domain.WatchEvent, subscriberBuffer),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *watchHub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		sub.once.Do(func() { close(sub.events) })
	}
	h.mu.Unlock()
}

// publishChanges fans committed changes out to matching subscribers in commit
// order. Called after the store lock is released so slow consumers cannot
// block writers.
func (h *watchHub) publishChanges(changes []Change) {
	if len(changes) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, change := range changes {
		event, scope, ok := eventFromChange(change)
		if !ok {
			continue
		}
		for sub := range h.subs {
			if sub.entity != change.Entity {
				continue
			}
			if sub.projectID != "" && sub.projectID != scope {
				continue
			}
			select {
			case sub.events <- event:
			default:
				delete(h.subs, sub)
				sub.once.Do(func() { close(sub.events) })
			}
		}
	}
}

// eventFromChange flattens a change record into a wire event plus the project
// scope used for filtering. Deletes carry no payload.
func eventFromChange(change Change) (domain.WatchEvent, string, bool) {
	event := domain.WatchEvent{Entity: change.Entity, Action: change.Action}
	payload := change.After
	if change.Action == domain.ActionDelete {
		payload = change.Before
	}
	var scope string
	switch record := payload.(type) {
	case Project:
		event.ID = record.ID
		scope = record.ID
	case Source:
		event.ID = record.ID
		scope = record.ProjectID
	case Task:
		event.ID = record.ID
		scope = record.ProjectID
	default:
		return domain.WatchEvent{}, "", false
	}
	if change.Action != domain.ActionDelete {
		event.After = payload
	}
	return event, scope, true
}
