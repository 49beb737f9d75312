package ratelimit

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out requests to the same host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
	RecordSuccess(rawURL string)
	RecordError(rawURL string)
}

type Config struct {
	// PerHost is the steady request rate per host, in requests per second.
	PerHost float64
	Burst   int
	// MaxJitter adds a random pause of up to this long after each token.
	MaxJitter time.Duration
	// MinRate is the floor the adaptive backoff never goes below.
	MinRate float64
}

// hostState pairs a token bucket with the adaptive counters for one host.
type hostState struct {
	limiter      *rate.Limiter
	errorCount   int
	successCount int
}

// HostLimiter is a per-host token bucket that slows down after repeated
// failures and recovers after a run of successes.
type HostLimiter struct {
	mu            sync.Mutex
	hosts         map[string]*hostState
	baseRate      rate.Limit
	minRate       rate.Limit
	burst         int
	maxJitter     time.Duration
	maxErrorCount int
	backoffFactor float64
}

func NewHostLimiter(cfg Config) *HostLimiter {
	if cfg.PerHost <= 0 {
		cfg.PerHost = 0.2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MinRate <= 0 || cfg.MinRate > cfg.PerHost {
		cfg.MinRate = cfg.PerHost / 8
	}

	return &HostLimiter{
		hosts:         make(map[string]*hostState),
		baseRate:      rate.Limit(cfg.PerHost),
		minRate:       rate.Limit(cfg.MinRate),
		burst:         cfg.Burst,
		maxJitter:     cfg.MaxJitter,
		maxErrorCount: 3,
		backoffFactor: 1.5,
	}
}

// Wait blocks until the host of rawURL may be requested again. URLs without
// a host are not limited.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	if host == "" {
		return nil
	}

	if err := l.state(host).limiter.Wait(ctx); err != nil {
		return err
	}

	if l.maxJitter <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(l.maxJitter)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// RecordSuccess counts a good response; every sixth in a row raises the
// host's rate back toward the configured one.
func (l *HostLimiter) RecordSuccess(rawURL string) {
	host := hostOf(rawURL)
	if host == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateLocked(host)
	s.successCount++
	s.errorCount = 0

	if s.successCount > 5 {
		next := s.limiter.Limit() * 1.1
		if next > l.baseRate {
			next = l.baseRate
		}
		s.limiter.SetLimit(next)
		s.successCount = 0
	}
}

// RecordError counts a failure; after maxErrorCount in a row the host's
// rate is divided by the backoff factor, never below the floor.
func (l *HostLimiter) RecordError(rawURL string) {
	host := hostOf(rawURL)
	if host == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateLocked(host)
	s.errorCount++
	s.successCount = 0

	if s.errorCount >= l.maxErrorCount {
		next := rate.Limit(float64(s.limiter.Limit()) / l.backoffFactor)
		if next < l.minRate {
			next = l.minRate
		}
		s.limiter.SetLimit(next)
		s.errorCount = 0
	}
}

// Limit reports the current rate for the host of rawURL.
func (l *HostLimiter) Limit(rawURL string) rate.Limit {
	host := hostOf(rawURL)
	if host == "" {
		return rate.Inf
	}
	return l.state(host).limiter.Limit()
}

func (l *HostLimiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(host)
}

func (l *HostLimiter) stateLocked(host string) *hostState {
	s, ok := l.hosts[host]
	if !ok {
		s = &hostState{limiter: rate.NewLimiter(l.baseRate, l.burst)}
		l.hosts[host] = s
	}
	return s
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
