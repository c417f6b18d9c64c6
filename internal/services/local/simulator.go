package local

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/bivalvia-project/bivalvia/internal/model"
)

// Simulator is a ReadingSource producing plausible water-quality values
// when no serial device is attached. Values drift smoothly around a
// midpoint instead of jumping across the whole range on each tick.
type Simulator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	last map[model.Kind]float64
}

// range per kind: midpoints and spans the firmware realistically reports.
var simRanges = map[model.Kind][2]float64{
	model.KindTemperatura: {20.0, 30.0},
	model.KindPh:          {6.5, 8.5},
	model.KindTurbidez:    {30.0, 100.0},
	model.KindHumedad:     {60.0, 95.0},
	model.KindSalinidad:   {28.0, 35.0},
}

func NewSimulator(seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		rng:  rand.New(rand.NewSource(seed)),
		last: make(map[model.Kind]float64),
	}
}

// next drifts the previous value by a fraction of the range, clamped.
func (s *Simulator) next(k model.Kind) float64 {
	lo, hi := simRanges[k][0], simRanges[k][1]
	prev, ok := s.last[k]
	if !ok {
		prev = lo + s.rng.Float64()*(hi-lo)
	}
	v := prev + (s.rng.Float64()-0.5)*(hi-lo)*0.1
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	s.last[k] = v
	return v
}

func (s *Simulator) Read(_ context.Context) (*model.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	temperatura := s.next(model.KindTemperatura)
	ph := s.next(model.KindPh)
	turbidez := s.next(model.KindTurbidez)
	humedad := s.next(model.KindHumedad)
	salinidad := s.next(model.KindSalinidad)

	return &model.Reading{
		Temperatura: &temperatura,
		Ph:          &ph,
		Turbidez:    &turbidez,
		Humedad:     &humedad,
		Salinidad:   &salinidad,
	}, nil
}
