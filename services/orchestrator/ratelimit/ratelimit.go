// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit implements per-client, per-endpoint admission
// control with sliding time windows. One Limiter is constructed per
// process and handed to request handlers by reference; there is no
// package-level mutable state.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Types
// =============================================================================

// Reason names the window a rejected request violated.
type Reason string

const (
	ReasonMinute Reason = "minute"
	ReasonDaily  Reason = "daily"
)

// Endpoint selects which window policy applies.
type Endpoint string

const (
	// EndpointUpload is a single sliding 60s window.
	EndpointUpload Endpoint = "upload"

	// EndpointChat nests a trailing-24h daily cap around a trailing-60s
	// burst cap. The daily check runs first so a client who exhausted
	// their daily quota always sees the daily reason, even while
	// bursting.
	EndpointChat Endpoint = "chat"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool

	// RetryAfter is how long until the oldest timestamp inside the
	// violated window leaves it. Zero when Allowed.
	RetryAfter time.Duration

	// Reason is set only on rejection.
	Reason Reason
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Config holds the window caps. Zero values fall back to defaults.
type Config struct {
	// UploadPerMinute caps upload requests in a trailing 60s window.
	UploadPerMinute int

	// ChatBurstPerMinute caps chat requests in a trailing 60s window.
	ChatBurstPerMinute int

	// ChatPerDay caps chat requests in a trailing 24h window.
	ChatPerDay int

	// SweepInterval is how often the background sweep prunes expired
	// timestamps and collects empty entries.
	SweepInterval time.Duration
}

// DefaultConfig returns the production caps.
func DefaultConfig() Config {
	return Config{
		UploadPerMinute:    10,
		ChatBurstPerMinute: 10,
		ChatPerDay:         200,
		SweepInterval:      5 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.UploadPerMinute <= 0 {
		c.UploadPerMinute = d.UploadPerMinute
	}
	if c.ChatBurstPerMinute <= 0 {
		c.ChatBurstPerMinute = d.ChatBurstPerMinute
	}
	if c.ChatPerDay <= 0 {
		c.ChatPerDay = d.ChatPerDay
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
}

const (
	minuteWindow = time.Minute
	dailyWindow  = 24 * time.Hour
)

// =============================================================================
// Limiter
// =============================================================================

// entryKey identifies one rate-limit entry.
type entryKey struct {
	Endpoint  Endpoint
	ClientKey string
}

// entry holds the admitted-request timestamps of one (endpoint, client)
// pair. stamps are monotonically non-decreasing. Each entry has its own
// mutex so concurrent admission checks for the same key serialize their
// read-modify-write without blocking unrelated clients.
type entry struct {
	mu     sync.Mutex
	stamps []time.Time

	// gone is set under mu when Sweep removes the entry from the
	// table. A caller holding a stale pointer must re-fetch instead of
	// recording on an orphaned entry.
	gone bool
}

// Limiter is the shared admission table. Safe for concurrent use.
type Limiter struct {
	cfg   Config
	clock Clock

	mu      sync.RWMutex
	entries map[entryKey]*entry

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Limiter. Pass nil clock for the system clock.
func New(cfg Config, clock Clock) *Limiter {
	cfg.applyDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	return &Limiter{
		cfg:     cfg,
		clock:   clock,
		entries: make(map[entryKey]*entry),
		done:    make(chan struct{}),
	}
}

// Admit checks and, when allowed, records one request for the client on
// the endpoint. The check-then-record step runs under the entry's own
// mutex: two concurrent requests racing for the last slot cannot both
// be admitted.
func (l *Limiter) Admit(clientKey string, endpoint Endpoint) Decision {
	now := l.clock.Now()
	key := entryKey{Endpoint: endpoint, ClientKey: clientKey}

	e := l.entry(key)
	e.mu.Lock()
	for e.gone {
		// Sweep collected this entry between lookup and lock. Records
		// must land on the live entry, not the orphan.
		e.mu.Unlock()
		e = l.entry(key)
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	// Lazy prune: drop timestamps older than the longest window this
	// endpoint cares about. Never removes a timestamp still inside any
	// relevant window.
	e.stamps = pruneBefore(e.stamps, now.Add(-l.horizon(endpoint)))

	switch endpoint {
	case EndpointChat:
		// Daily before burst, so an exhausted daily quota reports
		// "daily" even while the client is also bursting.
		if d := l.violation(e.stamps, now, dailyWindow, l.cfg.ChatPerDay, ReasonDaily); !d.Allowed {
			return d
		}
		if d := l.violation(e.stamps, now, minuteWindow, l.cfg.ChatBurstPerMinute, ReasonMinute); !d.Allowed {
			return d
		}
	default:
		if d := l.violation(e.stamps, now, minuteWindow, l.cfg.UploadPerMinute, ReasonMinute); !d.Allowed {
			return d
		}
	}

	e.stamps = append(e.stamps, now)
	return Decision{Allowed: true}
}

// violation evaluates one window. RetryAfter derives from the oldest
// timestamp inside the violated window, not the global oldest.
func (l *Limiter) violation(stamps []time.Time, now time.Time, window time.Duration, cap int, reason Reason) Decision {
	cutoff := now.Add(-window)
	inWindow := stamps[firstAtOrAfter(stamps, cutoff):]
	if len(inWindow) < cap {
		return Decision{Allowed: true}
	}
	retry := inWindow[0].Add(window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return Decision{Allowed: false, RetryAfter: retry, Reason: reason}
}

// horizon is the longest window an endpoint's policy evaluates.
func (l *Limiter) horizon(endpoint Endpoint) time.Duration {
	if endpoint == EndpointChat {
		return dailyWindow
	}
	return minuteWindow
}

// entry returns the entry for key, creating it under the write lock on
// first use.
func (l *Limiter) entry(key entryKey) *entry {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[key]; ok {
		return e
	}
	e = &entry{}
	l.entries[key] = e
	return e
}

// =============================================================================
// Background Sweep
// =============================================================================

// Start launches the periodic sweep goroutine. Call Stop to end it.
func (l *Limiter) Start() {
	go l.runLoop()
}

// Stop terminates the sweep goroutine. Idempotent.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Limiter) runLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			slog.Debug("rate limit sweep stopped")
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Sweep prunes expired timestamps from every entry and garbage-collects
// entries with no timestamp left inside their endpoint's longest
// window.
func (l *Limiter) Sweep() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		e.mu.Lock()
		e.stamps = pruneBefore(e.stamps, now.Add(-l.horizon(key.Endpoint)))
		if len(e.stamps) == 0 {
			e.gone = true
			delete(l.entries, key)
			removed++
		}
		e.mu.Unlock()
	}
	if removed > 0 {
		slog.Debug("rate limit sweep collected entries", "removed", removed)
	}
}

// EntryCount reports the live entry count, for tests and metrics.
func (l *Limiter) EntryCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// =============================================================================
// Timestamp Helpers
// =============================================================================

// firstAtOrAfter returns the index of the first timestamp not before
// cutoff. Stamps are non-decreasing so a binary search would do, but
// entries are short-lived and small; linear scan keeps it simple.
func firstAtOrAfter(stamps []time.Time, cutoff time.Time) int {
	for i, ts := range stamps {
		if !ts.Before(cutoff) {
			return i
		}
	}
	return len(stamps)
}

// pruneBefore drops timestamps strictly before cutoff, reusing the
// backing array.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := firstAtOrAfter(stamps, cutoff)
	if i == 0 {
		return stamps
	}
	n := copy(stamps, stamps[i:])
	return stamps[:n]
}
