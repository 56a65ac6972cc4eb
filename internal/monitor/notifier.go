package monitor

import (
	"sync"

	"go.uber.org/zap"
)

// Listener receives activation notifications.
type Listener func(Activation)

// Notifier is the activation notification channel. Views that care about a
// configuration's active flag subscribe here instead of being reached into.
type Notifier struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]Listener
	logger    *zap.Logger
}

// NewNotifier constructs an empty Notifier.
func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		listeners: make(map[uint64]Listener),
		logger:    logger,
	}
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is idempotent.
func (n *Notifier) Subscribe(fn Listener) func() {
	if n == nil || fn == nil {
		return func() {}
	}
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

// Publish delivers a to every current listener, synchronously and outside the
// registry lock. A panicking listener is logged and skipped.
func (n *Notifier) Publish(a Activation) {
	if n == nil {
		return
	}
	n.mu.RLock()
	targets := make([]Listener, 0, len(n.listeners))
	for _, fn := range n.listeners {
		targets = append(targets, fn)
	}
	n.mu.RUnlock()

	for _, fn := range targets {
		n.deliver(fn, a)
	}
}

// Len reports the number of registered listeners.
func (n *Notifier) Len() int {
	if n == nil {
		return 0
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

func (n *Notifier) deliver(fn Listener, a Activation) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("activation listener panicked",
				zap.String("config_code", a.ConfigCode),
				zap.Any("panic", r),
			)
		}
	}()
	fn(a)
}
