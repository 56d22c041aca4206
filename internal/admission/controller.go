package admission

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Limits configures one bucket tier.
type Limits struct {
	Capacity   float64
	RefillRate float64 // tokens per second
}

// Config holds the controller's bucket limits and sweep threshold.
type Config struct {
	Identity      Limits            // default per-identity limits
	Global        Limits            // shared across all identities
	IdleThreshold time.Duration     // identity buckets idle longer than this are swept
	Overrides     map[string]Limits // per-identity limit overrides
}

// DefaultConfig returns the stock limits: 30 requests per identity
// refilling at 0.5/s, 100 requests globally refilling at 100/min, and
// a one hour idle threshold.
func DefaultConfig() Config {
	return Config{
		Identity:      Limits{Capacity: 30, RefillRate: 0.5},
		Global:        Limits{Capacity: 100, RefillRate: 100.0 / 60.0},
		IdleThreshold: time.Hour,
	}
}

// Decision is the outcome of an admission check. WaitTime is the delay
// until the constraining bucket frees a token; RetryAfter is the
// caller-facing hint derived from it (whole seconds, at least one).
type Decision struct {
	Admitted   bool
	WaitTime   time.Duration
	RetryAfter time.Duration
}

// Status is a read-only snapshot of an identity's standing against both
// tiers.
type Status struct {
	IdentityTokens     float64
	GlobalTokens       float64
	IdentityRefillRate float64
	GlobalRefillRate   float64
}

// Controller meters work against a per-identity bucket and a shared
// global bucket. Identity buckets are created lazily on first check and
// swept once idle past the configured threshold. The controller owns
// every bucket it creates.
type Controller struct {
	mu         sync.Mutex
	cfg        Config
	global     *Bucket
	identities map[string]*identityState
	now        func() time.Time
}

type identityState struct {
	bucket     *Bucket
	lastAccess time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the controller's time source. Buckets created by
// the controller share it.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a controller from cfg, filling in defaults for
// any zero limits.
func NewController(cfg Config, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.Identity.Capacity <= 0 {
		cfg.Identity.Capacity = def.Identity.Capacity
	}
	if cfg.Identity.RefillRate <= 0 {
		cfg.Identity.RefillRate = def.Identity.RefillRate
	}
	if cfg.Global.Capacity <= 0 {
		cfg.Global.Capacity = def.Global.Capacity
	}
	if cfg.Global.RefillRate <= 0 {
		cfg.Global.RefillRate = def.Global.RefillRate
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = def.IdleThreshold
	}

	c := &Controller{
		cfg:        cfg,
		identities: make(map[string]*identityState),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.global = newBucketAt(cfg.Global.Capacity, cfg.Global.RefillRate, c.now)
	return c
}

// Check decides whether one unit of work from identity may proceed.
// Both buckets are peeked first and spent together only when each has a
// token, so a denial never consumes from either tier. A panic inside
// bucket bookkeeping is converted to a denial instead of reaching the
// request path.
func (c *Controller) Check(identity string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("identity", identity).Msg("admission_metering_fault")
			d = Decision{Admitted: false, WaitTime: time.Second, RetryAfter: time.Second}
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.identityLocked(identity)
	st.lastAccess = c.now()

	identityWait := st.bucket.TimeUntil(1)
	globalWait := c.global.TimeUntil(1)
	if identityWait > 0 || globalWait > 0 {
		wait := identityWait
		if globalWait > wait {
			wait = globalWait
		}
		return Decision{WaitTime: wait, RetryAfter: retryAfter(wait)}
	}

	st.bucket.TryConsume(1)
	c.global.TryConsume(1)
	return Decision{Admitted: true}
}

// Status reports the identity's standing without mutating any bucket.
// An identity with no live bucket reports its configured capacity; no
// bucket is created on its behalf.
func (c *Controller) Status(identity string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	lim := c.limitsFor(identity)
	s := Status{
		GlobalTokens:       c.global.Available(),
		GlobalRefillRate:   c.cfg.Global.RefillRate,
		IdentityRefillRate: lim.RefillRate,
		IdentityTokens:     lim.Capacity,
	}
	if st, ok := c.identities[identity]; ok {
		s.IdentityTokens = st.bucket.Available()
	}
	return s
}

// Sweep removes identity buckets idle longer than the threshold and
// reports how many were dropped. lastAccess is read under the same lock
// Check writes it, so an identity seen during the sweep window always
// survives.
func (c *Controller) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.cfg.IdleThreshold)
	removed := 0
	for identity, st := range c.identities {
		if st.lastAccess.Before(cutoff) {
			delete(c.identities, identity)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("admission_sweep")
	}
	return removed
}

// Tracked reports how many identities currently hold a bucket.
func (c *Controller) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.identities)
}

func (c *Controller) identityLocked(identity string) *identityState {
	st, ok := c.identities[identity]
	if !ok {
		lim := c.limitsFor(identity)
		st = &identityState{bucket: newBucketAt(lim.Capacity, lim.RefillRate, c.now)}
		c.identities[identity] = st
	}
	return st
}

func (c *Controller) limitsFor(identity string) Limits {
	if lim, ok := c.cfg.Overrides[identity]; ok {
		if lim.Capacity <= 0 {
			lim.Capacity = c.cfg.Identity.Capacity
		}
		if lim.RefillRate <= 0 {
			lim.RefillRate = c.cfg.Identity.RefillRate
		}
		return lim
	}
	return c.cfg.Identity
}

// retryAfter converts a wait into the caller-facing hint: whole
// seconds, rounded up, never below one second.
func retryAfter(wait time.Duration) time.Duration {
	secs := time.Duration(math.Ceil(wait.Seconds())) * time.Second
	if secs < time.Second {
		secs = time.Second
	}
	return secs
}
