package ratelimit

import (
	"sync"
	"time"

	"github.com/verax-io/verax/internal/metrics"
)

// idleThreshold is how long a client limiter may sit unused before the
// cleanup loop drops it.
const idleThreshold = 5 * time.Minute

// Limiter represents a token bucket rate limiter
type Limiter struct {
	rate       float64   // tokens per second
	burst      int       // maximum burst size
	tokens     float64   // current tokens
	lastUpdate time.Time // last token update time
	mu         sync.Mutex
}

// NewLimiter creates a new rate limiter with the given rate and burst
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow checks if a request is allowed based on the rate limit
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()

	// Add tokens based on elapsed time
	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	l.lastUpdate = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true
	}

	return false
}

// Tokens returns the current number of tokens
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens
}

// Reset resets the limiter to full capacity
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = float64(l.burst)
	l.lastUpdate = time.Now()
}

// Store manages rate limiters for multiple clients of one scope. scope
// names the limiter dimension ("ip" or "org") in metrics.
type Store struct {
	limiters map[string]*Limiter
	scope    string
	rate     float64
	burst    int
	mu       sync.RWMutex
	cleanup  time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a new rate limiter store. A zero cleanup interval
// disables the cleanup loop.
func NewStore(scope string, rate float64, burst int, cleanupInterval time.Duration) *Store {
	store := &Store{
		limiters: make(map[string]*Limiter),
		scope:    scope,
		rate:     rate,
		burst:    burst,
		cleanup:  cleanupInterval,
		stop:     make(chan struct{}),
	}

	go store.cleanupLoop()

	return store
}

// GetLimiter gets or creates a limiter for the given key
func (s *Store) GetLimiter(key string) *Limiter {
	s.mu.RLock()
	limiter, exists := s.limiters[key]
	s.mu.RUnlock()

	if exists {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, exists := s.limiters[key]; exists {
		return limiter
	}

	limiter = NewLimiter(s.rate, s.burst)
	s.limiters[key] = limiter
	metrics.RateLimitActiveClients.WithLabelValues(s.scope).Set(float64(len(s.limiters)))
	return limiter
}

// Allow checks if a request from the given key is allowed
func (s *Store) Allow(key string) bool {
	allowed := s.GetLimiter(key).Allow()
	if allowed {
		metrics.RateLimitRequestsTotal.WithLabelValues(s.scope, "allowed").Inc()
	} else {
		metrics.RateLimitRequestsTotal.WithLabelValues(s.scope, "limited").Inc()
		metrics.RateLimitExceeded.WithLabelValues(s.scope).Inc()
	}
	return allowed
}

// Reset drops the limiter for the given key
func (s *Store) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limiters, key)
	metrics.RateLimitActiveClients.WithLabelValues(s.scope).Set(float64(len(s.limiters)))
}

// ResetAll drops all limiters
func (s *Store) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters = make(map[string]*Limiter)
	metrics.RateLimitActiveClients.WithLabelValues(s.scope).Set(0)
}

// Count returns the number of tracked limiters
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// Close stops the cleanup loop
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// cleanupLoop periodically removes idle limiters
func (s *Store) cleanupLoop() {
	if s.cleanup == 0 {
		return
	}

	ticker := time.NewTicker(s.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, limiter := range s.limiters {
		limiter.mu.Lock()
		idle := now.Sub(limiter.lastUpdate)
		limiter.mu.Unlock()

		if idle > idleThreshold {
			delete(s.limiters, key)
		}
	}
	metrics.RateLimitActiveClients.WithLabelValues(s.scope).Set(float64(len(s.limiters)))
}

// Config represents rate limiter configuration
type Config struct {
	Enabled         bool
	RequestsPerSec  float64
	Burst           int
	ByIP            bool
	ByOrg           bool
	CleanupInterval time.Duration
}

// Service limits request rates per client IP, per organization, or
// both. Each organization gets its own bucket, so one noisy tenant
// cannot starve the others' audit writes.
type Service struct {
	config   Config
	ipStore  *Store
	orgStore *Store
}

// NewService creates a new rate limiting service
func NewService(config Config) *Service {
	var ipStore, orgStore *Store

	if config.ByIP {
		ipStore = NewStore("ip", config.RequestsPerSec, config.Burst, config.CleanupInterval)
	}
	if config.ByOrg {
		orgStore = NewStore("org", config.RequestsPerSec, config.Burst, config.CleanupInterval)
	}

	return &Service{
		config:   config,
		ipStore:  ipStore,
		orgStore: orgStore,
	}
}

// AllowIP checks if a request from the given IP is allowed
func (s *Service) AllowIP(ip string) bool {
	if !s.config.ByIP || s.ipStore == nil {
		return true
	}
	return s.ipStore.Allow(ip)
}

// AllowOrg checks if a request for the given organization is allowed
func (s *Service) AllowOrg(orgID string) bool {
	if !s.config.ByOrg || s.orgStore == nil || orgID == "" {
		return true
	}
	return s.orgStore.Allow(orgID)
}

// ResetIP resets the rate limit for a specific IP
func (s *Service) ResetIP(ip string) {
	if s.ipStore != nil {
		s.ipStore.Reset(ip)
	}
}

// ResetOrg resets the rate limit for a specific organization
func (s *Service) ResetOrg(orgID string) {
	if s.orgStore != nil {
		s.orgStore.Reset(orgID)
	}
}

// Stats returns rate limiting statistics
func (s *Service) Stats() map[string]interface{} {
	stats := make(map[string]interface{})

	if s.ipStore != nil {
		stats["ip_limiters"] = s.ipStore.Count()
	}
	if s.orgStore != nil {
		stats["org_limiters"] = s.orgStore.Count()
	}

	return stats
}

// GetConfig returns the current rate limit configuration
func (s *Service) GetConfig() Config {
	return s.config
}

// Close stops the cleanup loops
func (s *Service) Close() {
	if s.ipStore != nil {
		s.ipStore.Close()
	}
	if s.orgStore != nil {
		s.orgStore.Close()
	}
}
