package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketQuotas = []byte("provider_quotas")

// ErrQuotaExceeded is returned when a provider has used up its send quota
var ErrQuotaExceeded = errors.New("send quota exceeded")

// Level represents the level of rate limiting
type Level string

const (
	LevelGlobal   Level = "global"
	LevelProvider Level = "provider"
)

// Config contains rate limit configuration
type Config struct {
	// Limit across all providers
	Global *LimitConfig `yaml:"global,omitempty"`

	// Limits for providers without specific config
	DefaultProvider *LimitConfig `yaml:"default_provider,omitempty"`

	// Per-provider limits keyed by provider id
	Providers map[string]*LimitConfig `yaml:"providers,omitempty"`

	// Persistence settings
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// LimitConfig contains rate limit values. Zero means unlimited.
type LimitConfig struct {
	MessagesPerHour int `yaml:"messages_per_hour" json:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day" json:"messages_per_day"`
}

// Quota tracks the send counters of one provider
type Quota struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// LastReset returns the most recent window reset
func (q *Quota) LastReset() time.Time {
	if q.HourStart.After(q.DayStart) {
		return q.HourStart
	}
	return q.DayStart
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	Window     string // "hourly" or "daily"
	RetryAfter time.Duration
}

// Stats contains quota statistics for one key
type Stats struct {
	Level       Level     `json:"level"`
	Key         string    `json:"key"`
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourlyLimit int       `json:"hourly_limit"`
	DailyLimit  int       `json:"daily_limit"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
	LastReset   time.Time `json:"last_reset"`
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// Limiter enforces hourly and daily send quotas per provider
type Limiter struct {
	db       *bolt.DB
	config   *Config
	quotas   map[string]*Quota // key -> quota
	mu       sync.Mutex
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a new rate limiter persisting counters to db
func NewLimiter(db *bolt.DB, cfg *Config, opts ...Option) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQuotas)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quotas bucket: %w", err)
	}

	l := &Limiter{
		db:     db,
		config: cfg,
		quotas: make(map[string]*Quota),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.loadQuotas(); err != nil {
		return nil, fmt.Errorf("failed to load quotas: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// Allow reports whether provider may send now. Expired hour and day
// windows are reset as part of the check. Counters are not incremented.
func (l *Limiter) Allow(ctx context.Context, provider string) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, check := range l.checks(provider) {
		q := l.getOrCreateQuota(check.key, now)
		resetExpired(q, now)

		if check.limit.MessagesPerHour > 0 && q.HourlyCount >= check.limit.MessagesPerHour {
			return &Result{
				DeniedBy:   check.level,
				DeniedKey:  check.key,
				Window:     "hourly",
				RetryAfter: q.HourStart.Add(time.Hour).Sub(now),
			}, nil
		}

		if check.limit.MessagesPerDay > 0 && q.DailyCount >= check.limit.MessagesPerDay {
			return &Result{
				DeniedBy:   check.level,
				DeniedKey:  check.key,
				Window:     "daily",
				RetryAfter: q.DayStart.Add(24 * time.Hour).Sub(now),
			}, nil
		}
	}

	return &Result{Allowed: true}, nil
}

// RecordSend counts one successful send for provider
func (l *Limiter) RecordSend(ctx context.Context, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, check := range l.checks(provider) {
		q := l.getOrCreateQuota(check.key, now)
		resetExpired(q, now)
		q.HourlyCount++
		q.DailyCount++
	}
	return nil
}

// ProviderStats returns the current counters of a provider
func (l *Limiter) ProviderStats(ctx context.Context, provider string) *Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stats(LevelProvider, provider, l.limitFor(provider))
}

// Stats returns counters for the global level and every known provider
func (l *Limiter) Stats(ctx context.Context, providers []string) []*Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*Stats
	if l.config.Global != nil {
		out = append(out, l.stats(LevelGlobal, "global", l.config.Global))
	}

	seen := make(map[string]bool)
	names := append([]string(nil), providers...)
	for name := range l.config.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, l.stats(LevelProvider, name, l.limitFor(name)))
	}
	return out
}

// Stop stops the rate limiter and persists counters
func (l *Limiter) Stop() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	return l.persistQuotas()
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) checks(provider string) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}

	if limit := l.limitFor(provider); provider != "" && limit != nil {
		checks = append(checks, limitCheck{
			level: LevelProvider,
			key:   makeKey(LevelProvider, provider),
			limit: limit,
		})
	}

	return checks
}

func (l *Limiter) limitFor(provider string) *LimitConfig {
	if limit, ok := l.config.Providers[provider]; ok && limit != nil {
		return limit
	}
	return l.config.DefaultProvider
}

func (l *Limiter) stats(level Level, key string, limit *LimitConfig) *Stats {
	s := &Stats{Level: level, Key: key}
	if limit != nil {
		s.HourlyLimit = limit.MessagesPerHour
		s.DailyLimit = limit.MessagesPerDay
	}

	q, exists := l.quotas[makeKey(level, key)]
	if !exists {
		return s
	}

	now := l.now()
	s.HourStart = q.HourStart
	s.DayStart = q.DayStart
	s.LastReset = q.LastReset()
	if now.Sub(q.HourStart) < time.Hour {
		s.HourlyCount = q.HourlyCount
	}
	if now.Sub(q.DayStart) < 24*time.Hour {
		s.DailyCount = q.DailyCount
	}
	return s
}

func (l *Limiter) getOrCreateQuota(key string, now time.Time) *Quota {
	q, exists := l.quotas[key]
	if !exists {
		q = &Quota{
			HourStart: now,
			DayStart:  now,
		}
		l.quotas[key] = q
	}
	return q
}

func resetExpired(q *Quota, now time.Time) {
	if now.Sub(q.HourStart) >= time.Hour {
		q.HourlyCount = 0
		q.HourStart = now
	}
	if now.Sub(q.DayStart) >= 24*time.Hour {
		q.DailyCount = 0
		q.DayStart = now
	}
}

func (l *Limiter) loadQuotas() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuotas)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var q Quota
			if err := json.Unmarshal(v, &q); err != nil {
				return nil // Skip invalid entries
			}
			l.quotas[string(k)] = &q
			return nil
		})
	})
}

func (l *Limiter) persistQuotas() error {
	l.mu.Lock()
	snapshot := make(map[string][]byte, len(l.quotas))
	for key, q := range l.quotas {
		data, err := json.Marshal(q)
		if err != nil {
			continue
		}
		snapshot[key] = data
	}
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuotas)
		if bucket == nil {
			return nil
		}

		for key, data := range snapshot {
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistQuotas()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
