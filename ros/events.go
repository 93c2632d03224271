package ros

import "sync"

// MessageEvent accompanies every message delivered to a Subscription
// observer, alongside the raw bytes as received off the wire: the decoded
// Message (nil if no MessageDefinitionParser was configured; a frame that
// fails to decode is reported as an error and not delivered), and metadata
// about the connection header the publisher sent on handshake (spec §3 Subscription / §4.D AwaitingHeader->Streaming: "emits
// message(decoded, raw_bytes)").
type MessageEvent struct {
	PublisherName    string
	ConnectionHeader headerMap
	Decoded          Message
}

// Design Notes §9: event-based upward notifications are modeled as small
// listener registries rather than a language-runtime event mixin (Go has
// none). Each registry is independently mutex-guarded so a slow or panicking
// observer on one kind of event cannot corrupt another.

type headerListeners struct {
	mu        sync.Mutex
	listeners []func(headerMap)
}

func (l *headerListeners) add(fn func(headerMap)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *headerListeners) emit(h headerMap) {
	l.mu.Lock()
	fns := append([]func(headerMap){}, l.listeners...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(h)
	}
}

type messageListeners struct {
	mu        sync.Mutex
	listeners []func([]byte, MessageEvent)
}

func (l *messageListeners) add(fn func([]byte, MessageEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *messageListeners) emit(raw []byte, evt MessageEvent) {
	l.mu.Lock()
	fns := append([]func([]byte, MessageEvent){}, l.listeners...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(raw, evt)
	}
}

type errorListeners struct {
	mu        sync.Mutex
	listeners []func(error)
}

func (l *errorListeners) add(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *errorListeners) emit(err error) {
	l.mu.Lock()
	fns := append([]func(error){}, l.listeners...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// paramUpdateListeners backs Node's paramUpdate event (spec §4.F).
type paramUpdateListeners struct {
	mu        sync.Mutex
	listeners []func(key string, prev, next interface{})
}

func (l *paramUpdateListeners) add(fn func(key string, prev, next interface{})) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *paramUpdateListeners) emit(key string, prev, next interface{}) {
	l.mu.Lock()
	fns := append([]func(string, interface{}, interface{}){}, l.listeners...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(key, prev, next)
	}
}

// subscribeListeners backs a Publication's "subscribe" event, fired when a
// SubscriberConnection reaches Responded/Serving (spec §4.E).
type subscribeListeners struct {
	mu        sync.Mutex
	listeners []func(*SubscriberConnection)
}

func (l *subscribeListeners) add(fn func(*SubscriberConnection)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *subscribeListeners) emit(c *SubscriberConnection) {
	l.mu.Lock()
	fns := append([]func(*SubscriberConnection){}, l.listeners...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
