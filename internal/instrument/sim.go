package instrument

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pv/labacq-go/internal/config"
)

// Sim is a signal-generator driver used for tests and demo setups.
// Each channel produces offset + amplitude*sin(2*pi*f*t) plus optional
// uniform noise.
type Sim struct {
	equipmentID string
	channels    map[string]config.SimChannelConfig

	mu     sync.Mutex
	start  time.Time
	rng    *rand.Rand
	failed error
}

func NewSim(equipmentID string, channels map[string]config.SimChannelConfig) *Sim {
	return &Sim{
		equipmentID: equipmentID,
		channels:    channels,
		start:       time.Now(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Sim) ReadChannels(ctx context.Context, channels []string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed != nil {
		return nil, &Error{Kind: KindConnectionLost, Equipment: s.equipmentID, Err: s.failed}
	}

	t := time.Since(s.start).Seconds()
	values := make(map[string]float64, len(channels))
	for _, ch := range channels {
		cfg, ok := s.channels[ch]
		if !ok {
			return nil, &Error{Kind: KindInvalidChannel, Equipment: s.equipmentID}
		}
		v := cfg.Offset + cfg.Amplitude*math.Sin(2*math.Pi*cfg.Frequency*t)
		if cfg.Noise > 0 {
			v += (s.rng.Float64()*2 - 1) * cfg.Noise
		}
		values[ch] = v
	}
	return values, nil
}

// Fail makes every subsequent read return a connection-lost error.
// Used to exercise the session error path.
func (s *Sim) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = err
}

// Recover clears a previously injected failure
func (s *Sim) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = nil
}

func (s *Sim) Close() error { return nil }

var _ Reader = (*Sim)(nil)
