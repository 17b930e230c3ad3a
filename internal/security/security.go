// Package security guards the coupon validation endpoint against brute-force
// code guessing. It counts validation attempts per (IP, user) pair in a
// rolling window and flags suspicious patterns without blocking them.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store counts attempts within expiring windows. Implementations must be
// safe for concurrent use. RedisStore is the production implementation;
// MemoryStore serves tests and single-node deployments.
type Store interface {
	// Incr increments the counter for key and returns the new count and the
	// time the window resets. The window starts on the first increment.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
	// AddDistinct records member under key and returns the number of
	// distinct members seen within the window.
	AddDistinct(ctx context.Context, key, member string, window time.Duration) (int64, error)
}

// Checks is the security verdict attached to every validation result.
// Passed=false rejects the attempt outright; Suspicious is advisory only.
type Checks struct {
	Passed     bool     `json:"passed"`
	Suspicious bool     `json:"suspicious"`
	Warnings   []string `json:"warnings,omitempty"`
}

// RateLimitInfo tells callers how many attempts remain and when the
// window resets, so they can show backoff guidance.
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Attempt describes a single coupon validation attempt.
type Attempt struct {
	IP        string
	UserID    string
	Code      string
	UserAgent string
}

// Config tunes the assessor thresholds.
type Config struct {
	// MaxAttempts is the attempt budget per (IP, user) pair per window.
	MaxAttempts int
	// Window is the rolling window duration.
	Window time.Duration
	// DistinctCodeThreshold marks an IP suspicious once it has tried more
	// than this many distinct codes within the window.
	DistinctCodeThreshold int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:           10,
		Window:                time.Hour,
		DistinctCodeThreshold: 5,
	}
}

// Assessor evaluates attempts against the configured budget and heuristics.
type Assessor struct {
	store Store
	cfg   Config
}

// NewAssessor creates an Assessor backed by the given store. Zero config
// fields fall back to DefaultConfig values.
func NewAssessor(store Store, cfg Config) *Assessor {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.DistinctCodeThreshold <= 0 {
		cfg.DistinctCodeThreshold = def.DistinctCodeThreshold
	}
	return &Assessor{store: store, cfg: cfg}
}

// Assess records the attempt and returns the security verdict. Exhausting
// the attempt budget flips Passed to false; heuristic hits only append
// warnings and set Suspicious. An error is returned solely for store
// failures, which the caller treats as a transport-level problem.
func (a *Assessor) Assess(ctx context.Context, at Attempt) (Checks, RateLimitInfo, error) {
	count, resetAt, err := a.store.Incr(ctx, attemptKey(at), a.cfg.Window)
	if err != nil {
		return Checks{}, RateLimitInfo{}, fmt.Errorf("count attempts: %w", err)
	}

	info := RateLimitInfo{
		Limit:     a.cfg.MaxAttempts,
		Remaining: remaining(a.cfg.MaxAttempts, count),
		ResetAt:   resetAt,
	}

	checks := Checks{Passed: count <= int64(a.cfg.MaxAttempts)}

	if at.Code != "" {
		distinct, err := a.store.AddDistinct(ctx, codesKey(at.IP), at.Code, a.cfg.Window)
		if err != nil {
			return Checks{}, RateLimitInfo{}, fmt.Errorf("track distinct codes: %w", err)
		}
		if distinct > int64(a.cfg.DistinctCodeThreshold) {
			checks.Suspicious = true
			checks.Warnings = append(checks.Warnings,
				"unusually many distinct codes attempted from this address")
		}
	}

	if w, ok := userAgentWarning(at.UserAgent); ok {
		checks.Suspicious = true
		checks.Warnings = append(checks.Warnings, w)
	}

	return checks, info, nil
}

func attemptKey(at Attempt) string {
	user := at.UserID
	if user == "" {
		user = "anonymous"
	}
	return "promo:attempts:" + at.IP + ":" + user
}

func codesKey(ip string) string {
	return "promo:codes:" + ip
}

func remaining(limit int, count int64) int {
	r := limit - int(count)
	if r < 0 {
		return 0
	}
	return r
}

// userAgentWarning flags empty or script-like user agents. Advisory only:
// legitimate service-to-service calls may trip it.
func userAgentWarning(ua string) (string, bool) {
	if strings.TrimSpace(ua) == "" {
		return "request carries no user agent", true
	}
	lower := strings.ToLower(ua)
	for _, marker := range []string{"curl/", "python-requests", "wget/", "bot"} {
		if strings.Contains(lower, marker) {
			return "automated client user agent detected", true
		}
	}
	return "", false
}
