package builder

import "time"

// EventType identifies a builder notification.
type EventType string

const (
	EventBuildStarted    EventType = "build_started"
	EventBuildCompleted  EventType = "build_completed"
	EventUpdateCompleted EventType = "update_completed"
	EventFileRemoved     EventType = "file_removed"
	EventParseError      EventType = "parse_error"
	EventCacheLoaded     EventType = "cache_loaded"
	EventCacheMiss       EventType = "cache_miss"
	EventCacheSaved      EventType = "cache_saved"
	EventCacheError      EventType = "cache_error"
)

// Event is published to subscribers after builder state changes. Consumers
// holding search indices re-bind to Builder.Tree on EventBuildCompleted,
// EventUpdateCompleted and EventFileRemoved.
type Event struct {
	Type     EventType
	Path     string   // parse error, file removed
	Updated  []string // update completed
	Removed  []string // update completed
	Files    int
	Symbols  int
	Duration time.Duration
	Err      error
}

// TreeChanged reports whether the event follows a change of the tree.
func (e Event) TreeChanged() bool {
	switch e.Type {
	case EventBuildCompleted, EventUpdateCompleted, EventFileRemoved, EventCacheLoaded:
		return true
	}
	return false
}

// Subscribe returns a channel receiving every subsequent event. Publishing
// never blocks: events are dropped for subscribers whose buffer is full.
// The channel is closed by Close.
func (b *Builder) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.subsClosed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Builder) publish(e Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.subsClosed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropping builder event for slow subscriber", "type", e.Type)
		}
	}
}

func (b *Builder) closeSubscribers() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.subsClosed {
		return
	}
	b.subsClosed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
