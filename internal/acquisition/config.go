package acquisition

import (
	"fmt"
	"time"
)

type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeSingleShot Mode = "single_shot"
	ModeTriggered  Mode = "triggered"
)

// AcquisitionConfig describes one capture session. Immutable after the
// session is created.
type AcquisitionConfig struct {
	EquipmentID string  `json:"equipment_id" yaml:"equipment_id"`
	Mode        Mode    `json:"mode" yaml:"mode"`
	SampleRate  float64 `json:"sample_rate_hz" yaml:"sample_rate_hz"`

	// Channels is an ordered, non-empty set of channel ids
	Channels []string `json:"channels" yaml:"channels"`

	BufferCapacity int `json:"buffer_capacity" yaml:"buffer_capacity"`

	// MaxSamples caps single-shot capture by tick count; Duration caps
	// capture time in any mode. Single-shot requires at least one.
	MaxSamples uint64        `json:"max_samples,omitempty" yaml:"max_samples,omitempty"`
	Duration   time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	Trigger *TriggerConfig `json:"trigger,omitempty" yaml:"trigger,omitempty"`
}

func (c *AcquisitionConfig) Validate() error {
	if c.EquipmentID == "" {
		return fmt.Errorf("%w: equipment_id is required", ErrConfigInvalid)
	}

	switch c.Mode {
	case ModeContinuous, ModeSingleShot, ModeTriggered:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrConfigInvalid, c.Mode)
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate_hz must be positive", ErrConfigInvalid)
	}
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("%w: buffer_capacity must be positive", ErrConfigInvalid)
	}

	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch == "" {
			return fmt.Errorf("%w: empty channel id", ErrConfigInvalid)
		}
		if seen[ch] {
			return fmt.Errorf("%w: duplicate channel %q", ErrConfigInvalid, ch)
		}
		seen[ch] = true
	}

	if c.Mode == ModeTriggered {
		if c.Trigger == nil {
			return fmt.Errorf("%w: triggered mode requires a trigger config", ErrConfigInvalid)
		}
		if err := c.Trigger.Validate(); err != nil {
			return err
		}
		if c.Trigger.Channel != "" && !seen[c.Trigger.Channel] {
			return fmt.Errorf("%w: trigger channel %q is not captured", ErrConfigInvalid, c.Trigger.Channel)
		}
	} else if c.Trigger != nil {
		return fmt.Errorf("%w: trigger config is only valid in triggered mode", ErrConfigInvalid)
	}

	if c.Mode == ModeSingleShot && c.MaxSamples == 0 && c.Duration <= 0 {
		return fmt.Errorf("%w: single_shot mode requires max_samples or duration", ErrConfigInvalid)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: duration must be >= 0", ErrConfigInvalid)
	}

	return nil
}

// interval returns the polling period
func (c *AcquisitionConfig) interval() time.Duration {
	return time.Duration(float64(time.Second) / c.SampleRate)
}
