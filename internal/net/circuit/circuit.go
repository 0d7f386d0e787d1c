package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain"
)

// ErrCircuitOpen is returned when the breaker short-circuits a call without
// contacting the upstream.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds for one upstream source.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive transport failures to open
	Cooldown         time.Duration `yaml:"cooldown"`          // open duration before a probe is allowed
	CooldownGrowth   float64       `yaml:"cooldown_growth"`   // cooldown multiplier after a failed probe (>= 1)
	MaxCooldown      time.Duration `yaml:"max_cooldown"`      // cap on grown cooldown
	RequestTimeout   time.Duration `yaml:"request_timeout"`   // per-call timeout applied to fn
}

// DefaultConfig matches the reference transport budget: open after 3
// consecutive failures, 30s cooldown doubling up to 5 minutes, 10s per call.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		CooldownGrowth:   2.0,
		MaxCooldown:      5 * time.Minute,
		RequestTimeout:   10 * time.Second,
	}
}

// Breaker is a three-state circuit breaker for one upstream source.
//
// CLOSED passes calls through and counts consecutive transport failures.
// OPEN short-circuits every call until the cooldown elapses. HALF_OPEN admits
// exactly one probe: success closes the breaker and resets the cooldown,
// failure re-opens it with an equal-or-longer cooldown.
//
// Data-insufficiency results (domain.DataInsufficiencyError) are successes as
// far as the breaker is concerned: the upstream answered, it just had thin
// history. Only transport failures move the state machine.
type Breaker struct {
	mu            sync.Mutex
	name          string
	config        Config
	state         State
	failures      int
	cooldown      time.Duration
	openedAt      time.Time
	probeInFlight bool
	onTransition  func(name string, from, to State)
}

// NewBreaker creates a breaker for the named source.
func NewBreaker(name string, config Config) *Breaker {
	if config.CooldownGrowth < 1 {
		config.CooldownGrowth = 1
	}
	return &Breaker{
		name:     name,
		config:   config,
		state:    StateClosed,
		cooldown: config.Cooldown,
	}
}

// OnTransition registers a callback invoked on every state change, for
// telemetry. Must be set before the breaker is shared.
func (b *Breaker) OnTransition(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Call runs fn under the breaker. The context handed to fn carries the
// configured request timeout. Returns ErrCircuitOpen without invoking fn when
// the breaker is open or a probe is already in flight.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.config.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = &domain.TransportError{Source: b.name, Message: "request timeout"}
	}
	b.record(err)
	return err
}

// admit decides whether a call may proceed, transitioning OPEN -> HALF_OPEN
// when the cooldown has elapsed.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(StateHalfOpen)
		b.probeInFlight = true
		return true
	case StateHalfOpen:
		// One probe at a time.
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// record applies the call outcome to the state machine. Insufficient-data
// errors count as upstream success.
func (b *Breaker) record(err error) {
	transportFailure := err != nil && !domain.IsInsufficient(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if transportFailure {
			b.failures++
			if b.failures >= b.config.FailureThreshold {
				b.openedAt = time.Now()
				b.setState(StateOpen)
			}
		} else {
			b.failures = 0
		}
	case StateHalfOpen:
		b.probeInFlight = false
		if transportFailure {
			b.growCooldown()
			b.openedAt = time.Now()
			b.setState(StateOpen)
		} else {
			b.failures = 0
			b.cooldown = b.config.Cooldown
			b.setState(StateClosed)
		}
	}
}

// growCooldown lengthens the open period after a failed probe (lock held).
func (b *Breaker) growCooldown() {
	grown := time.Duration(float64(b.cooldown) * b.config.CooldownGrowth)
	if b.config.MaxCooldown > 0 && grown > b.config.MaxCooldown {
		grown = b.config.MaxCooldown
	}
	if grown < b.cooldown {
		grown = b.cooldown
	}
	b.cooldown = grown
}

// setState transitions the breaker and fires the telemetry hook (lock held).
func (b *Breaker) setState(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	log.Info().Str("source", b.name).Str("from", prev.String()).Str("to", next.String()).Msg("circuit breaker state change")
	if b.onTransition != nil {
		b.onTransition(b.name, prev, next)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Cooldown returns the current cooldown duration, including growth from
// failed probes.
func (b *Breaker) Cooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}

// Manager keeps one breaker per upstream source.
type Manager struct {
	mu           sync.RWMutex
	breakers     map[string]*Breaker
	config       Config
	onTransition func(name string, from, to State)
}

// NewManager creates a manager that lazily builds breakers with the given
// config.
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// OnTransition sets the telemetry hook applied to every breaker the manager
// creates.
func (m *Manager) OnTransition(fn func(name string, from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
	for _, b := range m.breakers {
		b.OnTransition(fn)
	}
}

// Breaker returns (creating if needed) the breaker for a source.
func (m *Manager) Breaker(source string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[source]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[source]; ok {
		return b
	}
	b = NewBreaker(source, m.config)
	if m.onTransition != nil {
		b.OnTransition(m.onTransition)
	}
	m.breakers[source] = b
	return b
}

// Call runs fn under the named source's breaker.
func (m *Manager) Call(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	return m.Breaker(source).Call(ctx, fn)
}

// States returns a snapshot of every breaker state, for the health endpoint.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.State().String()
	}
	return out
}
