package service

import (
	"sync"
	"time"
)

// TimeSource supplies protocol time as a totally ordered, non-decreasing
// counter. The protocol never reads the wall clock directly.
type TimeSource interface {
	Now() uint64
}

// unixTimeSource counts unix seconds, clamped so that the counter never goes
// backwards even if the system clock does.
type unixTimeSource struct {
	mu   sync.Mutex
	last uint64
}

func NewUnixTimeSource() TimeSource {
	return &unixTimeSource{}
}

func (s *unixTimeSource) Now() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := uint64(time.Now().Unix())
	if now < s.last {
		return s.last
	}
	s.last = now

	return now
}

// ManualTimeSource is a hand-driven counter for tests and embedders that
// sequence protocol time themselves.
type ManualTimeSource struct {
	mu  sync.Mutex
	now uint64
}

func NewManualTimeSource(start uint64) *ManualTimeSource {
	return &ManualTimeSource{now: start}
}

func (s *ManualTimeSource) Now() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.now
}

// Advance moves the counter forward by delta.
func (s *ManualTimeSource) Advance(delta uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now += delta
}
