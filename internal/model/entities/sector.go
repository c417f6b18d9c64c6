package entities

import "time"

// Sector is a monitored growing site. Ids are local to each store: the cloud
// sector referenced by relayed readings is configured on the local node, not
// assumed equal to the local row id.
type Sector struct {
	ID        int       `gorm:"primaryKey;autoIncrement" json:"id"`
	Nombre    string    `gorm:"size:100" json:"nombre"`
	Latitud   float64   `json:"latitud"`
	Longitud  float64   `json:"longitud"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	Zonas []Zona `gorm:"constraint:OnDelete:CASCADE" json:"zonas,omitempty"`
}

func (Sector) TableName() string { return "sector" }

// Zona is a named region inside a sector (lines, rafts, cages...).
type Zona struct {
	ID       int    `gorm:"primaryKey;autoIncrement" json:"id"`
	SectorID int    `gorm:"index;not null" json:"sector_id"`
	Nombre   string `gorm:"size:100;not null" json:"nombre"`
}

func (Zona) TableName() string { return "zona" }
