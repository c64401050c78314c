// Package costguard enforces per-request and daily spend ceilings against
// metered AI providers.
package costguard

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pantry-gpt/internal/scanerr"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the costguard package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// dayFormat keys the ledger by UTC calendar date.
const dayFormat = "2006-01-02"

// epsilon absorbs float drift so that spending exactly the limit is allowed.
const epsilon = 1e-9

// Ledger is a snapshot of the current day's spend.
type Ledger struct {
	Day            string  `json:"day"`
	Total          float64 `json:"total"`
	DailyLimit     float64 `json:"daily_limit"`
	RequestLimit   float64 `json:"request_limit"`
	Remaining      float64 `json:"remaining"`
	LimitsEnforced bool    `json:"limits_enforced"`
}

// Guard tracks estimated spend. It is safe for concurrent use. A limit of
// zero or less disables that ceiling.
type Guard struct {
	mu            sync.Mutex
	maxPerRequest float64
	dailyLimit    float64
	day           string
	total         float64
	store         LedgerStore
	now           func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithStore persists reservations so the daily total survives restarts.
func WithStore(store LedgerStore) Option {
	return func(g *Guard) {
		g.store = store
	}
}

// WithClock overrides the time source used for day rollover.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// New creates a Guard and loads today's total from the store.
func New(ctx context.Context, maxPerRequest, dailyLimit float64, opts ...Option) *Guard {
	g := &Guard{
		maxPerRequest: maxPerRequest,
		dailyLimit:    dailyLimit,
		store:         NewMemoryStore(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.mu.Lock()
	g.rollover(ctx)
	g.mu.Unlock()
	return g
}

// rollover resets the running total when the UTC day changed. Callers hold mu.
func (g *Guard) rollover(ctx context.Context) {
	today := g.now().UTC().Format(dayFormat)
	if today == g.day {
		return
	}
	total, err := g.store.Load(ctx, today)
	if err != nil {
		log.WithError(err).WithField("day", today).Warn("Failed to load cost ledger, starting from zero")
		total = 0
	}
	if g.day != "" {
		log.WithFields(logrus.Fields{
			"previous_day":   g.day,
			"previous_total": g.total,
			"day":            today,
		}).Info("Cost ledger rolled over")
	}
	g.day = today
	g.total = total
}

func (g *Guard) check(estimated float64) error {
	if estimated < 0 {
		return scanerr.Validation("negative cost estimate %.4f", estimated)
	}
	if g.maxPerRequest > 0 && estimated > g.maxPerRequest+epsilon {
		return &scanerr.BudgetExceededError{
			Scope:     scanerr.ScopeRequest,
			Estimated: estimated,
			Spent:     g.total,
			Limit:     g.maxPerRequest,
		}
	}
	if g.dailyLimit > 0 && g.total+estimated > g.dailyLimit+epsilon {
		return &scanerr.BudgetExceededError{
			Scope:     scanerr.ScopeDaily,
			Estimated: estimated,
			Spent:     g.total,
			Limit:     g.dailyLimit,
		}
	}
	return nil
}

// Check reports whether estimated could be spent now without recording it.
func (g *Guard) Check(ctx context.Context, estimated float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(ctx)
	return g.check(estimated)
}

// Reserve checks estimated against both ceilings and, when allowed, adds it
// to the day's total. A denied reservation records nothing.
func (g *Guard) Reserve(ctx context.Context, estimated float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(ctx)

	if err := g.check(estimated); err != nil {
		log.WithFields(logrus.Fields{
			"estimated": estimated,
			"spent":     g.total,
			"day":       g.day,
		}).WithError(err).Warn("Cost reservation denied")
		return err
	}

	g.total += estimated
	if err := g.store.Add(ctx, g.day, estimated); err != nil {
		log.WithError(err).Warn("Failed to persist cost reservation, keeping in-memory total")
	}
	log.WithFields(logrus.Fields{
		"estimated": estimated,
		"spent":     g.total,
		"day":       g.day,
	}).Debug("Cost reserved")
	return nil
}

// Spent returns today's running total.
func (g *Guard) Spent(ctx context.Context) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(ctx)
	return g.total
}

// Snapshot returns the current ledger.
func (g *Guard) Snapshot(ctx context.Context) Ledger {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(ctx)

	l := Ledger{
		Day:            g.day,
		Total:          g.total,
		DailyLimit:     g.dailyLimit,
		RequestLimit:   g.maxPerRequest,
		LimitsEnforced: g.dailyLimit > 0 || g.maxPerRequest > 0,
	}
	if g.dailyLimit > 0 {
		l.Remaining = g.dailyLimit - g.total
		if l.Remaining < 0 {
			l.Remaining = 0
		}
	}
	return l
}
