package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/bivalvia-project/bivalvia/internal/model/entities"
)

func (s *Store) CreateSector(ctx context.Context, sec *entities.Sector) error {
	if err := s.db.WithContext(ctx).Create(sec).Error; err != nil {
		return fmt.Errorf("create sector: %w", err)
	}
	return nil
}

func (s *Store) GetSector(ctx context.Context, id int) (*entities.Sector, error) {
	var sec entities.Sector
	err := s.db.WithContext(ctx).Preload("Zonas").First(&sec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrSectorNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

func (s *Store) ListSectors(ctx context.Context) ([]entities.Sector, error) {
	var out []entities.Sector
	if err := s.db.WithContext(ctx).Order("id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SectorExists(ctx context.Context, id int) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&entities.Sector{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CreateZona(ctx context.Context, z *entities.Zona) error {
	ok, err := s.SectorExists(ctx, z.SectorID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrSectorNotFound, z.SectorID)
	}
	if err := s.db.WithContext(ctx).Create(z).Error; err != nil {
		return fmt.Errorf("create zona: %w", err)
	}
	return nil
}

func (s *Store) ListZonas(ctx context.Context, sectorID int) ([]entities.Zona, error) {
	var out []entities.Zona
	if err := s.db.WithContext(ctx).Where("sector_id = ?", sectorID).Order("id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SeedDemo creates a demo sector when the store is empty, so a fresh
// deployment has something to point the dashboard at.
func (s *Store) SeedDemo(ctx context.Context) (*entities.Sector, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&entities.Sector{}).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}
	sec := &entities.Sector{Nombre: "Sector demo", Latitud: -41.8675, Longitud: -73.8262}
	if err := s.CreateSector(ctx, sec); err != nil {
		return nil, err
	}
	return sec, nil
}
