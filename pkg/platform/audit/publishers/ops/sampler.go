package ops

import (
	"math/rand/v2"

	audit "examboard/pkg/platform/audit"
)

// Sampler decides which ops events are stored. Routine high-volume actions
// such as public verification lookups are kept at the default rate; actions
// marked with Always are never dropped.
type Sampler struct {
	rate   float64
	always map[audit.AuditEvent]bool
	draw   func() float64
}

type SamplerOption func(*Sampler)

// Always exempts actions from sampling.
func Always(actions ...audit.AuditEvent) SamplerOption {
	return func(s *Sampler) {
		for _, a := range actions {
			s.always[a] = true
		}
	}
}

// NewSampler keeps a rate share of events, clamped to [0, 1].
func NewSampler(rate float64, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		rate:   min(max(rate, 0), 1),
		always: make(map[audit.AuditEvent]bool),
		draw:   rand.Float64, //nolint:gosec // sampling needs no crypto randomness
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sampler) Keep(action audit.AuditEvent) bool {
	if s.always[action] {
		return true
	}
	return s.draw() < s.rate
}
