package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/bivalvia-project/bivalvia/internal/model/entities"
	"github.com/bivalvia-project/bivalvia/internal/model/messages"
)

// rowFor maps a measurement kind to a fresh row of the matching table.
func rowFor(k messages.Kind, m entities.Medicion) interface{} {
	switch k {
	case messages.KindTemperatura:
		return &entities.HistorialTemperatura{Medicion: m}
	case messages.KindSalinidad:
		return &entities.HistorialSalinidad{Medicion: m}
	case messages.KindPh:
		return &entities.HistorialPh{Medicion: m}
	case messages.KindTurbidez:
		return &entities.HistorialTurbidez{Medicion: m}
	case messages.KindHumedad:
		return &entities.HistorialHumedad{Medicion: m}
	}
	return nil
}

func modelFor(k messages.Kind) (interface{}, error) {
	row := rowFor(k, entities.Medicion{})
	if row == nil {
		return nil, fmt.Errorf("unknown measurement kind: %s", k)
	}
	return row, nil
}

// SaveReading persists one row per present, non-sentinel measurement kind.
// Writes are independent: a kind that fails to persist is logged and dropped
// while the remaining kinds still go through (no transaction across kinds).
// Returns how many rows were written.
func (s *Store) SaveReading(ctx context.Context, r *messages.Reading, ts time.Time) (int, error) {
	var sector entities.Sector
	if err := s.db.WithContext(ctx).First(&sector, r.SectorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %d", ErrSectorNotFound, r.SectorID)
		}
		return 0, fmt.Errorf("sector lookup: %w", err)
	}

	saved := 0
	for _, k := range messages.Kinds {
		if !r.Present(k) {
			continue
		}
		row := rowFor(k, entities.Medicion{
			SectorID:    sector.ID,
			Valor:       *r.Value(k),
			MarcaTiempo: ts,
		})
		if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
			log.Printf("storage: write %s for sector %d failed: %v", k, sector.ID, err)
			continue
		}
		saved++
	}
	return saved, nil
}

// HistoryPoint is one value of one kind at one instant, for tables and charts.
type HistoryPoint struct {
	Valor       float64   `json:"valor"`
	MarcaTiempo time.Time `json:"marca_tiempo"`
}

// History returns the stored points for one sector and kind inside [desde, hasta],
// oldest first. Zero bounds mean unbounded on that side.
func (s *Store) History(ctx context.Context, sectorID int, k messages.Kind, desde, hasta time.Time) ([]HistoryPoint, error) {
	mdl, err := modelFor(k)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(mdl).Where("sector_id = ?", sectorID)
	if !desde.IsZero() {
		q = q.Where("marca_tiempo >= ?", desde)
	}
	if !hasta.IsZero() {
		q = q.Where("marca_tiempo <= ?", hasta)
	}

	var points []HistoryPoint
	if err := q.Order("marca_tiempo asc").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	return points, nil
}

// ExportHistoryCSV streams one kind's history as CSV rows (marca_tiempo, valor).
func (s *Store) ExportHistoryCSV(ctx context.Context, w io.Writer, sectorID int, k messages.Kind, desde, hasta time.Time) error {
	points, err := s.History(ctx, sectorID, k, desde, hasta)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"marca_tiempo", string(k)}); err != nil {
		return err
	}
	for _, p := range points {
		if err := cw.Write([]string{
			p.MarcaTiempo.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Valor, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CountByKind reports how many rows each kind holds for a sector (debug/UI).
func (s *Store) CountByKind(ctx context.Context, sectorID int) (map[messages.Kind]int64, error) {
	out := make(map[messages.Kind]int64, len(messages.Kinds))
	for _, k := range messages.Kinds {
		mdl, err := modelFor(k)
		if err != nil {
			return nil, err
		}
		var n int64
		if err := s.db.WithContext(ctx).Model(mdl).Where("sector_id = ?", sectorID).Count(&n).Error; err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}
