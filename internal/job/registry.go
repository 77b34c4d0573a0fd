package job

import (
	"sync"
	"sync/atomic"
)

// Registry admits at most one active job per user.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Token
}

func NewRegistry() *Registry {
	return &Registry{active: map[string]*Token{}}
}

// Token is the admission slot and cancellation handle of one job.
type Token struct {
	UserID string

	cancelled atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
	relOnce   sync.Once
}

// Cancelled is the poll flag read by the extractor.
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

// Done is closed when the job is cancelled.
func (t *Token) Done() <-chan struct{} { return t.done }

func (t *Token) cancel() {
	t.stopOnce.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// TryAdmit atomically checks and inserts a slot for userID.
func (r *Registry) TryAdmit(userID string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[userID]; busy {
		return nil, false
	}
	t := &Token{UserID: userID, done: make(chan struct{})}
	r.active[userID] = t
	return t, true
}

// Cancel flags the user's active job. The slot stays held until the job
// itself releases it.
func (r *Registry) Cancel(userID string) bool {
	r.mu.Lock()
	t, ok := r.active[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	return true
}

// Release frees t's slot. Safe to call more than once.
func (r *Registry) Release(t *Token) {
	if t == nil {
		return
	}
	t.relOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.active[t.UserID]; ok && cur == t {
			delete(r.active, t.UserID)
		}
	})
}

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// IsActive reports whether userID currently holds a slot.
func (r *Registry) IsActive(userID string) bool {
	r.mu.Lock()
	_, ok := r.active[userID]
	r.mu.Unlock()
	return ok
}
