package security

import (
	"sync"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

// NonceSize is the length of an S0 nonce
const NonceSize = 8

const (
	// DefaultNonceTTL bounds how long an issued or received nonce stays usable.
	// S0 receivers keep nonces for between 3 and 20 seconds.
	DefaultNonceTTL = 10 * time.Second

	// DefaultNonceRate and DefaultNonceBurst bound local nonce issuance per peer
	DefaultNonceRate  = rate.Limit(10)
	DefaultNonceBurst = 10

	minCleanupInterval = time.Second
)

// Nonce is a single-use 8-byte value. Its first byte identifies it on the wire.
type Nonce [NonceSize]byte

// ID returns the nonce identifier byte
func (n Nonce) ID() byte {
	return n[0]
}

// NonceSource issues and tracks nonces in both directions.
//
// A local nonce is handed to the peer and consumed when the peer's next
// encrypted frame references it. A peer nonce was received from the peer and is
// consumed by the next frame sent to it.
type NonceSource interface {
	IssueLocalNonce(peer NodeID) (Nonce, error)
	ConsumeLocalNonce(peer NodeID, id byte) (Nonce, error)
	StorePeerNonce(peer NodeID, n Nonce)
	ConsumePeerNonce(peer NodeID) (Nonce, error)
}

type nonceEntry struct {
	nonce  Nonce
	issued time.Time
}

// NonceStore is a thread-safe NonceSource holding at most one local and one
// peer nonce per node. Entries older than the TTL are refused on lookup and
// evicted by a background goroutine. Call Close() when the store is no longer
// needed.
type NonceStore struct {
	mu       sync.Mutex
	local    map[NodeID]nonceEntry
	peer     map[NodeID]nonceEntry
	limiters map[NodeID]*rate.Limiter

	ttl   time.Duration
	limit rate.Limit
	burst int
	now   func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

var _ NonceSource = (*NonceStore)(nil)

// NonceStoreOption configures a NonceStore
type NonceStoreOption func(*NonceStore)

// WithNonceTTL sets the nonce lifetime
func WithNonceTTL(ttl time.Duration) NonceStoreOption {
	return func(s *NonceStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIssueRate limits how fast local nonces are issued to a single peer.
// rate.Inf disables the limit.
func WithIssueRate(limit rate.Limit, burst int) NonceStoreOption {
	return func(s *NonceStore) {
		s.limit = limit
		s.burst = burst
	}
}

func withClock(now func() time.Time) NonceStoreOption {
	return func(s *NonceStore) {
		s.now = now
	}
}

// NewNonceStore creates a nonce store and starts its cleanup goroutine
func NewNonceStore(opts ...NonceStoreOption) *NonceStore {
	s := &NonceStore{
		local:    make(map[NodeID]nonceEntry),
		peer:     make(map[NodeID]nonceEntry),
		limiters: make(map[NodeID]*rate.Limiter),
		ttl:      DefaultNonceTTL,
		limit:    DefaultNonceRate,
		burst:    DefaultNonceBurst,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

// IssueLocalNonce generates a fresh nonce for peer, replacing any nonce still
// outstanding for it. The id byte is never zero.
func (s *NonceStore) IssueLocalNonce(peer NodeID) (Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.limiterFor(peer).Allow() {
		log.WithFields(logger.Fields{
			"at":     "NonceStore.IssueLocalNonce",
			"reason": "rate_limited",
			"peer":   peer,
		}).Warn("refusing nonce request")
		return Nonce{}, ErrNonceRateLimited
	}

	var n Nonce
	for n[0] == 0 {
		if _, err := rand.Read(n[:]); err != nil {
			return Nonce{}, oops.Wrapf(err, "failed to generate nonce")
		}
	}
	if prev, ok := s.local[peer]; ok {
		log.WithFields(logger.Fields{
			"at":     "NonceStore.IssueLocalNonce",
			"reason": "replaced_outstanding",
			"peer":   peer,
			"old_id": prev.nonce.ID(),
			"new_id": n.ID(),
		}).Debug("replacing outstanding local nonce")
	}
	s.local[peer] = nonceEntry{nonce: n, issued: s.now()}
	return n, nil
}

// ConsumeLocalNonce returns and removes the outstanding local nonce for peer
// if its id matches. A mismatched id leaves the outstanding nonce in place.
func (s *NonceStore) ConsumeLocalNonce(peer NodeID, id byte) (Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.local[peer]
	if !ok || e.nonce.ID() != id {
		return Nonce{}, oops.Wrapf(ErrNonceNotFound, "peer %d id 0x%02x", peer, id)
	}
	delete(s.local, peer)
	if s.expired(e) {
		return Nonce{}, oops.Wrapf(ErrNonceExpired, "local nonce for peer %d", peer)
	}
	return e.nonce, nil
}

// StorePeerNonce records the nonce peer most recently reported
func (s *NonceStore) StorePeerNonce(peer NodeID, n Nonce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer[peer] = nonceEntry{nonce: n, issued: s.now()}
}

// ConsumePeerNonce returns and removes the nonce held for peer
func (s *NonceStore) ConsumePeerNonce(peer NodeID) (Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.peer[peer]
	if !ok {
		return Nonce{}, ErrNoPeerNonce
	}
	delete(s.peer, peer)
	if s.expired(e) {
		return Nonce{}, oops.Wrapf(ErrNonceExpired, "peer nonce for peer %d", peer)
	}
	return e.nonce, nil
}

// Size returns the number of local and peer nonces currently held
func (s *NonceStore) Size() (local, peer int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.local), len(s.peer)
}

// Close stops the background cleanup goroutine
func (s *NonceStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *NonceStore) limiterFor(peer NodeID) *rate.Limiter {
	l, ok := s.limiters[peer]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[peer] = l
	}
	return l
}

func (s *NonceStore) expired(e nonceEntry) bool {
	return s.now().Sub(e.issued) >= s.ttl
}

// cleanupLoop periodically evicts expired entries
func (s *NonceStore) cleanupLoop() {
	interval := max(s.ttl/2, minCleanupInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

// evictExpired removes every entry older than the TTL
func (s *NonceStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for peer, e := range s.local {
		if s.expired(e) {
			delete(s.local, peer)
		}
	}
	for peer, e := range s.peer {
		if s.expired(e) {
			delete(s.peer, peer)
		}
	}
}
