package session

import (
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// ViewTracker records which conversation each client session is looking at.
// Reads and switches are atomic per client session and never block generation.
// A client session that is neither switched nor delivered to for the idle period is forgotten.
type ViewTracker struct {
	views *cache.Cache // client session id -> *atomic.Pointer[string]
}

func NewViewTracker(idle, cleanupInterval time.Duration) *ViewTracker {
	return &ViewTracker{views: cache.New(idle, cleanupInterval)}
}

func (v *ViewTracker) load(clientSessionID string, refresh bool) (*atomic.Pointer[string], bool) {
	x, ok := v.views.Get(clientSessionID)
	if !ok {
		return nil, false
	}
	p := x.(*atomic.Pointer[string])
	if refresh {
		v.views.SetDefault(clientSessionID, p)
	}
	return p, true
}

func (v *ViewTracker) slot(clientSessionID string) *atomic.Pointer[string] {
	if p, ok := v.load(clientSessionID, true); ok {
		return p
	}
	p := new(atomic.Pointer[string])
	if err := v.views.Add(clientSessionID, p, cache.DefaultExpiration); err != nil {
		if existing, ok := v.load(clientSessionID, true); ok {
			return existing
		}
	}
	return p
}

// Activate makes conversationID the visible conversation of the client session
func (v *ViewTracker) Activate(clientSessionID, conversationID string) {
	if clientSessionID == "" {
		return
	}
	id := conversationID
	v.slot(clientSessionID).Store(&id)
}

// Active returns the visible conversation, if one was activated
func (v *ViewTracker) Active(clientSessionID string) (string, bool) {
	return v.active(clientSessionID, false)
}

func (v *ViewTracker) active(clientSessionID string, refresh bool) (string, bool) {
	p, ok := v.load(clientSessionID, refresh)
	if !ok {
		return "", false
	}
	id := p.Load()
	if id == nil {
		return "", false
	}
	return *id, true
}

// IsActive reports whether events for conversationID may be shown to the client session.
// Requests without a client session are always delivered. A check keeps the session alive.
func (v *ViewTracker) IsActive(clientSessionID, conversationID string) bool {
	if clientSessionID == "" {
		return true
	}
	active, ok := v.active(clientSessionID, true)
	return !ok || active == conversationID
}

// Forget drops a client session
func (v *ViewTracker) Forget(clientSessionID string) {
	v.views.Delete(clientSessionID)
}

// Len returns the number of tracked client sessions, expired ones included until cleanup
func (v *ViewTracker) Len() int {
	return v.views.ItemCount()
}
