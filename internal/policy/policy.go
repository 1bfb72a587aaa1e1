// Package policy turns a cycle's candidates into at most one action.
package policy

import (
	"fmt"
	"image"
	"math/rand"
	"strings"
	"sync"
	"time"

	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/input"
	"jordanella.com/aimloop/internal/logging"
)

// Selection picks one candidate out of a cycle's set.
type Selection string

const (
	SelectFirst   Selection = "first"
	SelectRandom  Selection = "random"
	SelectHighest Selection = "highest_score"
)

// Config holds the timing and randomisation constants.
type Config struct {
	Cooldown  time.Duration `mapstructure:"cooldown"`
	MissRate  float64       `mapstructure:"miss_rate"`
	MissSleep time.Duration `mapstructure:"miss_sleep"`
	Jitter    int           `mapstructure:"jitter"`
	HoldMin   time.Duration `mapstructure:"hold_min"`
	HoldMax   time.Duration `mapstructure:"hold_max"`
	// Keys are interchangeable confirm keys; one is tapped at random before the click.
	Keys   []string     `mapstructure:"keys"`
	Click  bool         `mapstructure:"click"`
	Button input.Button `mapstructure:"button"`
	Select Selection    `mapstructure:"select"`
}

func DefaultConfig() Config {
	return Config{
		Cooldown:  2 * time.Second,
		MissRate:  0.05,
		MissSleep: 50 * time.Millisecond,
		Jitter:    5,
		HoldMin:   10 * time.Millisecond,
		HoldMax:   30 * time.Millisecond,
		Keys:      []string{"z", "x"},
		Click:     true,
		Button:    input.ButtonLeft,
		Select:    SelectFirst,
	}
}

// Validate rejects configurations Decide cannot honour.
func (c Config) Validate() error {
	switch {
	case c.Cooldown < 0:
		return fmt.Errorf("cooldown must not be negative")
	case c.MissRate < 0 || c.MissRate > 1:
		return fmt.Errorf("miss_rate %.2f outside [0,1]", c.MissRate)
	case c.Jitter < 0:
		return fmt.Errorf("jitter must not be negative")
	case c.HoldMax < c.HoldMin:
		return fmt.Errorf("hold_max %s is below hold_min %s", c.HoldMax, c.HoldMin)
	case !c.Click && len(c.Keys) == 0:
		return fmt.Errorf("policy needs keys or click enabled")
	}
	switch c.Select {
	case SelectFirst, SelectRandom, SelectHighest, "":
	default:
		return fmt.Errorf("unknown selection %q", c.Select)
	}
	return nil
}

// Kind is the outcome of one decision.
type Kind int

const (
	NoAction Kind = iota
	Miss
	Act
)

func (k Kind) String() string {
	switch k {
	case Miss:
		return "miss"
	case Act:
		return "act"
	}
	return "none"
}

// Decision is what the worker should do this cycle. Sleep is set for misses.
type Decision struct {
	Kind      Kind
	Intent    input.Intent
	Candidate cv.Candidate
	Sleep     time.Duration
}

// Policy owns the cooldown clock and the random source. It is used by the
// worker only; SetConfig may be called from a config watcher.
type Policy struct {
	mu         sync.Mutex
	cfg        Config
	rng        *rand.Rand
	lastAction time.Time
	log        *logging.Logger
}

// New creates a policy. A nil rng seeds from the clock.
func New(cfg Config, rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Select == "" {
		cfg.Select = SelectFirst
	}
	return &Policy{cfg: cfg, rng: rng, log: logging.NewLogger("policy")}
}

// SetConfig swaps the constants; the cooldown clock is kept.
func (p *Policy) SetConfig(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.Select == "" {
		cfg.Select = SelectFirst
	}
	p.cfg = cfg
}

// Config returns the active constants.
func (p *Policy) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// LastAction returns when the last Act decision was made.
func (p *Policy) LastAction() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAction
}

// Decide picks at most one action for this cycle's candidates.
func (p *Policy) Decide(candidates []cv.Candidate, now time.Time) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(candidates) == 0 {
		return Decision{Kind: NoAction}
	}
	if !p.lastAction.IsZero() && now.Sub(p.lastAction) < p.cfg.Cooldown {
		return Decision{Kind: NoAction}
	}

	c := p.pick(candidates)
	if err := c.Validate(); err != nil {
		p.log.Warn(fmt.Sprintf("Ignoring malformed candidate: %v", err))
		return Decision{Kind: NoAction}
	}

	if p.cfg.MissRate > 0 && p.rng.Float64() < p.cfg.MissRate {
		return Decision{Kind: Miss, Candidate: c, Sleep: p.cfg.MissSleep}
	}

	p.lastAction = now
	return Decision{Kind: Act, Candidate: c, Intent: p.intent(c)}
}

func (p *Policy) pick(candidates []cv.Candidate) cv.Candidate {
	switch p.cfg.Select {
	case SelectRandom:
		return candidates[p.rng.Intn(len(candidates))]
	case SelectHighest:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Score > best.Score {
				best = c
			}
		}
		return best
	}
	return candidates[0]
}

func (p *Policy) intent(c cv.Candidate) input.Intent {
	offset := image.Pt(p.jitter(), p.jitter())
	at := c.Center.Add(offset)

	var key string
	if len(p.cfg.Keys) > 0 {
		key = strings.ToLower(p.cfg.Keys[p.rng.Intn(len(p.cfg.Keys))])
	}

	if !p.cfg.Click {
		return input.Intent{
			Kind:   input.KindKeyTap,
			Key:    key,
			Hold:   p.hold(),
			Space:  input.SpaceFrame,
			Point:  at,
			Jitter: offset,
		}
	}
	return input.Intent{
		Kind:   input.KindClick,
		Space:  input.SpaceFrame,
		Point:  at,
		Key:    key,
		Button: p.cfg.Button,
		Hold:   p.hold(),
		Jitter: offset,
	}
}

func (p *Policy) jitter() int {
	if p.cfg.Jitter <= 0 {
		return 0
	}
	return p.rng.Intn(2*p.cfg.Jitter+1) - p.cfg.Jitter
}

func (p *Policy) hold() time.Duration {
	span := p.cfg.HoldMax - p.cfg.HoldMin
	if span <= 0 {
		return p.cfg.HoldMin
	}
	return p.cfg.HoldMin + time.Duration(p.rng.Int63n(int64(span)+1))
}
