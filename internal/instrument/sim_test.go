package instrument

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pv/labacq-go/internal/config"
)

func TestSimReadChannels(t *testing.T) {
	sim := NewSim("psu-1", map[string]config.SimChannelConfig{
		"voltage": {Frequency: 1.0, Amplitude: 2.0, Offset: 12.0},
		"current": {Offset: 1.5},
	})

	values, err := sim.ReadChannels(context.Background(), []string{"voltage", "current"})
	if err != nil {
		t.Fatalf("ReadChannels failed: %v", err)
	}

	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}

	// voltage stays within offset +/- amplitude
	if math.Abs(values["voltage"]-12.0) > 2.0+1e-9 {
		t.Errorf("voltage %v outside expected envelope", values["voltage"])
	}
	// constant channel with no noise is exact
	if values["current"] != 1.5 {
		t.Errorf("expected current=1.5, got %v", values["current"])
	}
}

func TestSimInvalidChannel(t *testing.T) {
	sim := NewSim("psu-1", map[string]config.SimChannelConfig{
		"voltage": {Offset: 1},
	})

	_, err := sim.ReadChannels(context.Background(), []string{"bogus"})
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}

	var ierr *Error
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ierr.Kind != KindInvalidChannel {
		t.Errorf("expected KindInvalidChannel, got %s", ierr.Kind)
	}
}

func TestSimFailureInjection(t *testing.T) {
	sim := NewSim("psu-1", map[string]config.SimChannelConfig{
		"voltage": {Offset: 1},
	})

	sim.Fail(errors.New("cable unplugged"))

	_, err := sim.ReadChannels(context.Background(), []string{"voltage"})
	var ierr *Error
	if !errors.As(err, &ierr) || ierr.Kind != KindConnectionLost {
		t.Fatalf("expected connection-lost error, got %v", err)
	}

	sim.Recover()
	if _, err := sim.ReadChannels(context.Background(), []string{"voltage"}); err != nil {
		t.Errorf("expected read to succeed after Recover, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	sim := NewSim("psu-1", map[string]config.SimChannelConfig{"v": {}})
	reg.Register("psu-1", sim)

	got, err := reg.Get("psu-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != Reader(sim) {
		t.Error("Get returned a different reader")
	}

	if _, err := reg.Get("nope"); err == nil {
		t.Error("expected error for unknown equipment")
	}

	if len(reg.IDs()) != 1 {
		t.Errorf("expected 1 id, got %d", len(reg.IDs()))
	}
}

func TestTimedReader(t *testing.T) {
	sim := NewSim("psu-1", map[string]config.SimChannelConfig{"v": {}})

	var observed int
	timed := NewTimedReader(sim, func(seconds float64) {
		if seconds < 0 {
			t.Errorf("negative latency %v", seconds)
		}
		observed++
	})

	if _, err := timed.ReadChannels(context.Background(), []string{"v"}); err != nil {
		t.Fatalf("ReadChannels failed: %v", err)
	}
	if observed != 1 {
		t.Errorf("expected 1 observation, got %d", observed)
	}
}
