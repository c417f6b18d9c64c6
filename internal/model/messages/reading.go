package messages

import (
	"strings"
	"time"
)

// SentinelNoReading is the value the sensor firmware emits for a faulty
// temperature probe. It means "no reading", not a measurement of -999.
const SentinelNoReading = -999

// Kind identifies one of the five measurement kinds. The names double as the
// wire field names, which the original firmware defined in Spanish.
type Kind string

const (
	KindTemperatura Kind = "temperatura"
	KindSalinidad   Kind = "salinidad"
	KindPh          Kind = "ph"
	KindTurbidez    Kind = "turbidez"
	KindHumedad     Kind = "humedad"
)

// Kinds lists every measurement kind in wire order.
var Kinds = []Kind{KindTemperatura, KindSalinidad, KindPh, KindTurbidez, KindHumedad}

// Reading is one sensor sample as it travels local -> cloud. Every
// measurement is independently optional; absence is not an error.
type Reading struct {
	SectorID    int      `json:"sector_id"`
	Temperatura *float64 `json:"temperatura"`
	Salinidad   *float64 `json:"salinidad"`
	Ph          *float64 `json:"ph"`
	Turbidez    *float64 `json:"turbidez"`
	Humedad     *float64 `json:"humedad"`
	MarcaTiempo string   `json:"marca_tiempo"`
}

// Value returns the measurement for kind, nil when absent.
func (r *Reading) Value(k Kind) *float64 {
	switch k {
	case KindTemperatura:
		return r.Temperatura
	case KindSalinidad:
		return r.Salinidad
	case KindPh:
		return r.Ph
	case KindTurbidez:
		return r.Turbidez
	case KindHumedad:
		return r.Humedad
	}
	return nil
}

// Present reports whether kind carries a usable value: non-null and, for
// temperature, not the firmware sentinel.
func (r *Reading) Present(k Kind) bool {
	v := r.Value(k)
	if v == nil {
		return false
	}
	if k == KindTemperatura && *v == SentinelNoReading {
		return false
	}
	return true
}

// Timestamp resolves marca_tiempo to a timezone-aware time. A missing or
// unparseable timestamp falls back to now instead of failing the reading.
func (r *Reading) Timestamp(now time.Time) time.Time {
	s := strings.TrimSpace(r.MarcaTiempo)
	if s == "" {
		return now.UTC()
	}
	// Naive timestamps (no zone suffix) are taken as UTC.
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}
