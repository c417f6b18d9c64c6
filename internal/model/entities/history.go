package entities

import "time"

// Medicion is the shared shape of every per-kind history row. One table per
// measurement kind, matching the original schema; readings with several
// kinds present become several independent rows.
type Medicion struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SectorID    int       `gorm:"index;not null" json:"sector_id"`
	Valor       float64   `gorm:"not null" json:"valor"`
	MarcaTiempo time.Time `gorm:"index;not null" json:"marca_tiempo"`
}

type HistorialTemperatura struct{ Medicion }

func (HistorialTemperatura) TableName() string { return "historial_temperatura" }

type HistorialSalinidad struct{ Medicion }

func (HistorialSalinidad) TableName() string { return "historial_salinidad" }

type HistorialPh struct{ Medicion }

func (HistorialPh) TableName() string { return "historial_ph" }

type HistorialTurbidez struct{ Medicion }

func (HistorialTurbidez) TableName() string { return "historial_turbidez" }

type HistorialHumedad struct{ Medicion }

func (HistorialHumedad) TableName() string { return "historial_humedad" }

// AllModels returns every entity for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&Sector{},
		&Zona{},
		&HistorialTemperatura{},
		&HistorialSalinidad{},
		&HistorialPh{},
		&HistorialTurbidez{},
		&HistorialHumedad{},
	}
}
