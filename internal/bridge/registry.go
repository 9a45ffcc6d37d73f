package bridge

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// drainTimeout bounds how long shutdown waits for sessions to finish
// their close handshakes.
const drainTimeout = 5 * time.Second

// Registry tracks the set of active bridge sessions. It holds handles
// only; it never touches socket payloads, so the per-session isolation
// invariant is preserved.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge
	logger  *zap.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		bridges: make(map[string]*Bridge),
		logger:  logger,
	}
}

func (r *Registry) register(b *Bridge) {
	r.mu.Lock()
	r.bridges[b.ID] = b
	r.mu.Unlock()
	r.logger.Info("Session registered", zap.String("session_id", b.ID))
}

func (r *Registry) unregister(b *Bridge) {
	r.mu.Lock()
	delete(r.bridges, b.ID)
	r.mu.Unlock()
	r.logger.Info("Session unregistered", zap.String("session_id", b.ID))
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bridges)
}

// Sessions returns a snapshot of the active bridges.
func (r *Registry) Sessions() []*Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, b)
	}
	return out
}

// CloseAll tears down every active session and waits for each to reach
// the terminal state, used during shutdown. The drain is bounded so a
// wedged session cannot stall the process exit.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	active := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		active = append(active, b)
	}
	r.mu.RUnlock()

	for _, b := range active {
		b.Close(reason)
	}

	timeout := time.After(drainTimeout)
	for _, b := range active {
		select {
		case <-b.Done():
		case <-timeout:
			r.logger.Warn("Shutdown drain timed out", zap.Int("remaining", r.Count()))
			return
		}
	}
}
