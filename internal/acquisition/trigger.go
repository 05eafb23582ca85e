package acquisition

import (
	"fmt"
	"sync/atomic"
	"time"
)

type TriggerType string

const (
	TriggerImmediate TriggerType = "immediate"
	TriggerLevel     TriggerType = "level"
	TriggerEdge      TriggerType = "edge"
	TriggerTime      TriggerType = "time"
	TriggerExternal  TriggerType = "external"
)

type EdgeDirection string

const (
	EdgeRising  EdgeDirection = "rising"
	EdgeFalling EdgeDirection = "falling"
	EdgeEither  EdgeDirection = "either"
)

// TriggerConfig is a tagged union over the five trigger kinds.
// Immutable once the session is armed.
type TriggerConfig struct {
	Type    TriggerType `json:"type" yaml:"type"`
	Channel string      `json:"channel,omitempty" yaml:"channel,omitempty"`

	// level and edge triggers
	Threshold float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Edge      EdgeDirection `json:"edge,omitempty" yaml:"edge,omitempty"`

	PreTriggerSamples int `json:"pre_trigger_samples,omitempty" yaml:"pre_trigger_samples,omitempty"`

	// Timeout bounds how long a session stays ARMED. Zero means wait
	// forever. StayArmed keeps the session armed past the timeout
	// instead of stopping it with a trigger-timeout error.
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	StayArmed bool          `json:"stay_armed,omitempty" yaml:"stay_armed,omitempty"`

	// time trigger: absolute monotonic timestamp to fire at
	FireAt float64 `json:"fire_at,omitempty" yaml:"fire_at,omitempty"`
}

func (c *TriggerConfig) Validate() error {
	switch c.Type {
	case TriggerImmediate, TriggerTime, TriggerExternal:
	case TriggerLevel:
		if c.Channel == "" {
			return fmt.Errorf("%w: level trigger requires a channel", ErrConfigInvalid)
		}
	case TriggerEdge:
		if c.Channel == "" {
			return fmt.Errorf("%w: edge trigger requires a channel", ErrConfigInvalid)
		}
		switch c.Edge {
		case EdgeRising, EdgeFalling, EdgeEither:
		default:
			return fmt.Errorf("%w: edge trigger requires a direction", ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrConfigInvalid, c.Type)
	}

	if c.PreTriggerSamples < 0 {
		return fmt.Errorf("%w: pre_trigger_samples must be >= 0", ErrConfigInvalid)
	}
	return nil
}

// Trigger evaluates one incoming sample at a time against its config.
// A crossing requires the previous sample strictly on one side of the
// threshold and allows equality on the current sample:
// rising is prev < threshold <= cur, falling is prev > threshold >= cur.
type Trigger struct {
	cfg      TriggerConfig
	external atomic.Bool
}

func NewTrigger(cfg TriggerConfig) *Trigger {
	return &Trigger{cfg: cfg}
}

// Evaluate reports whether the trigger fires on cur. The caller passes
// prev == cur for the very first sample, so level and edge triggers
// never fire on sample zero.
func (t *Trigger) Evaluate(prev, cur Sample) bool {
	switch t.cfg.Type {
	case TriggerImmediate:
		return true
	case TriggerLevel:
		return risesThrough(prev.Value, cur.Value, t.cfg.Threshold) ||
			fallsThrough(prev.Value, cur.Value, t.cfg.Threshold)
	case TriggerEdge:
		switch t.cfg.Edge {
		case EdgeRising:
			return risesThrough(prev.Value, cur.Value, t.cfg.Threshold)
		case EdgeFalling:
			return fallsThrough(prev.Value, cur.Value, t.cfg.Threshold)
		case EdgeEither:
			return risesThrough(prev.Value, cur.Value, t.cfg.Threshold) ||
				fallsThrough(prev.Value, cur.Value, t.cfg.Threshold)
		}
		return false
	case TriggerTime:
		return cur.Timestamp >= t.cfg.FireAt
	case TriggerExternal:
		// fires only via SignalExternal, never by sample inspection
		return t.external.Load()
	default:
		return false
	}
}

// SignalExternal fires an external-type trigger on the next evaluation
func (t *Trigger) SignalExternal() {
	t.external.Store(true)
}

func risesThrough(prev, cur, threshold float64) bool {
	return prev < threshold && cur >= threshold
}

func fallsThrough(prev, cur, threshold float64) bool {
	return prev > threshold && cur <= threshold
}
