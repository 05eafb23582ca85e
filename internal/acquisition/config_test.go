package acquisition

import (
	"errors"
	"testing"
	"time"
)

func validConfig() AcquisitionConfig {
	return AcquisitionConfig{
		EquipmentID:    "psu-1",
		Mode:           ModeContinuous,
		SampleRate:     10,
		Channels:       []string{"voltage"},
		BufferCapacity: 100,
	}
}

func TestAcquisitionConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AcquisitionConfig)
		ok     bool
	}{
		{"valid continuous", func(c *AcquisitionConfig) {}, true},
		{"no equipment", func(c *AcquisitionConfig) { c.EquipmentID = "" }, false},
		{"bad mode", func(c *AcquisitionConfig) { c.Mode = "burst" }, false},
		{"zero rate", func(c *AcquisitionConfig) { c.SampleRate = 0 }, false},
		{"negative rate", func(c *AcquisitionConfig) { c.SampleRate = -1 }, false},
		{"no channels", func(c *AcquisitionConfig) { c.Channels = nil }, false},
		{"duplicate channel", func(c *AcquisitionConfig) { c.Channels = []string{"a", "a"} }, false},
		{"zero capacity", func(c *AcquisitionConfig) { c.BufferCapacity = 0 }, false},
		{
			"triggered without trigger",
			func(c *AcquisitionConfig) { c.Mode = ModeTriggered },
			false,
		},
		{
			"triggered ok",
			func(c *AcquisitionConfig) {
				c.Mode = ModeTriggered
				c.Trigger = &TriggerConfig{Type: TriggerEdge, Channel: "voltage", Threshold: 5, Edge: EdgeRising}
			},
			true,
		},
		{
			"trigger channel not captured",
			func(c *AcquisitionConfig) {
				c.Mode = ModeTriggered
				c.Trigger = &TriggerConfig{Type: TriggerEdge, Channel: "other", Edge: EdgeRising}
			},
			false,
		},
		{
			"trigger in continuous mode",
			func(c *AcquisitionConfig) {
				c.Trigger = &TriggerConfig{Type: TriggerImmediate}
			},
			false,
		},
		{
			"single shot without limit",
			func(c *AcquisitionConfig) { c.Mode = ModeSingleShot },
			false,
		},
		{
			"single shot with max samples",
			func(c *AcquisitionConfig) {
				c.Mode = ModeSingleShot
				c.MaxSamples = 100
			},
			true,
		},
		{
			"single shot with duration",
			func(c *AcquisitionConfig) {
				c.Mode = ModeSingleShot
				c.Duration = time.Second
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !errors.Is(err, ErrConfigInvalid) {
					t.Errorf("expected ErrConfigInvalid, got %v", err)
				}
			}
		})
	}
}
