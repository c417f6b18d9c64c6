package messages

import (
	"encoding/json"
	"fmt"
)

// SectorGroup names the broadcast group every dashboard session for a
// sector subscribes to.
func SectorGroup(sectorID int) string { return fmt.Sprintf("sector:%d", sectorID) }

// Ack is the ingest gateway's per-reading reply on the sensor channel.
// Success uses status/mensaje; validation failures use error (shape kept
// compatible with the firmware that already parses both).
type Ack struct {
	Status  string `json:"status,omitempty"`
	Mensaje string `json:"mensaje,omitempty"`
	Error   string `json:"error,omitempty"`
}

func SuccessAck(mensaje string) Ack { return Ack{Status: "success", Mensaje: mensaje} }
func ErrorAck(mensaje string) Ack   { return Ack{Status: "error", Mensaje: mensaje} }

// GroupMessage is the envelope published to a sector's broadcast group.
// Type dispatches the handler on the fan-out side ("sensor_update"); Origin
// and ID let the MQTT bridge drop its own echoes on multi-process setups.
type GroupMessage struct {
	Type   string          `json:"type"`
	Origin string          `json:"origin,omitempty"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

const TypeSensorUpdate = "sensor_update"

// DashboardFrame is what the browser receives over the dashboard socket.
type DashboardFrame struct {
	Type     string          `json:"type"`
	Message  string          `json:"message,omitempty"`
	SectorID int             `json:"sector_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

const (
	TypeConnectionEstablished = "connection_established"
	TypeSensorData            = "sensor_data"
)
