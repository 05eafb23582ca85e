package instrument

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/pv/labacq-go/internal/config"
	"github.com/pv/labacq-go/internal/logger"
)

// Serial reads a line protocol from a serial port. The instrument is
// expected to emit lines of the form "ch1=1.234 ch2=5.678" at its own
// rate; ReadChannels serves the most recently received value per channel
// and fails with a timeout once a value is older than StaleAfter.
type Serial struct {
	equipmentID string
	staleAfter  time.Duration
	port        serial.Port

	mu     sync.RWMutex
	values map[string]serialValue
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

type serialValue struct {
	value float64
	at    time.Time
}

func NewSerial(equipmentID string, cfg config.SerialDriverConfig) (*Serial, error) {
	mode := &serial.Mode{BaudRate: cfg.BaudRate}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = time.Second
	}

	s := &Serial{
		equipmentID: equipmentID,
		staleAfter:  staleAfter,
		port:        port,
		values:      make(map[string]serialValue),
		done:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

func (s *Serial) readLoop() {
	defer s.wg.Done()

	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		select {
		case <-s.done:
			return
		default:
		}
		s.parseLine(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-s.done:
		default:
			logger.Warn("Serial read failed", "equipment", s.equipmentID, "error", err)
		}
	}
}

func (s *Serial) parseLine(line string) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, field := range strings.Fields(line) {
		name, raw, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		s.values[name] = serialValue{value: v, at: now}
	}
}

func (s *Serial) ReadChannels(ctx context.Context, channels []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &Error{Kind: KindConnectionLost, Equipment: s.equipmentID}
	}

	now := time.Now()
	values := make(map[string]float64, len(channels))
	for _, ch := range channels {
		sv, ok := s.values[ch]
		if !ok {
			return nil, &Error{Kind: KindInvalidChannel, Equipment: s.equipmentID}
		}
		if now.Sub(sv.at) > s.staleAfter {
			return nil, &Error{
				Kind:      KindTimeout,
				Equipment: s.equipmentID,
				Err:       fmt.Errorf("channel %s stale for %s", ch, now.Sub(sv.at)),
			}
		}
		values[ch] = sv.value
	}
	return values, nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	err := s.port.Close()
	s.wg.Wait()
	return err
}

var _ Reader = (*Serial)(nil)
