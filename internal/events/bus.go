// Package events is the in-process event stream between backend components
// and connected UI clients.
package events

import (
	"sync"
)

// Event names.
const (
	ExportProgress  = "export-progress"
	ProgressChanged = "analysis-progress"
	FilesDropped    = "files-dropped"
	Notice          = "notice"
	RecordsChanged  = "records-changed"
)

// Progress is the payload of the progress events.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

// FilesDroppedPayload is the payload of FilesDropped.
type FilesDroppedPayload struct {
	Paths []string `json:"paths"`
}

// RecordsChangedPayload is the payload of RecordsChanged. Clients reload the
// table on receipt.
type RecordsChangedPayload struct {
	Count         int  `json:"count"`
	InsertAllowed bool `json:"insertAllowed"`
}

// Level of a notice shown to the operator.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// NoticePayload is a user-visible message.
type NoticePayload struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Handler receives one published event.
type Handler func(name string, payload any)

type subscription struct {
	name    string
	handler Handler
}

// Bus is a synchronous publish/subscribe hub. Handlers run on the publishing
// goroutine and must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]subscription)}
}

// Subscribe registers h for events named name. The returned function removes
// the subscription and is safe to call more than once.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	return b.add(subscription{name: name, handler: h})
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.add(subscription{handler: h})
}

func (b *Bus) add(s subscription) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers payload to every matching subscriber.
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == "" || s.name == name {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(name, payload)
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Notify publishes a notice.
func (b *Bus) Notify(level Level, message string) {
	b.Publish(Notice, NoticePayload{Level: level, Message: message})
}
