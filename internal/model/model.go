package model

import (
	"github.com/bivalvia-project/bivalvia/internal/model/entities"
	"github.com/bivalvia-project/bivalvia/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Reading        = messages.Reading
	Kind           = messages.Kind
	Ack            = messages.Ack
	GroupMessage   = messages.GroupMessage
	DashboardFrame = messages.DashboardFrame
	Sector         = entities.Sector
	Zona           = entities.Zona
)

const (
	SentinelNoReading = messages.SentinelNoReading

	KindTemperatura = messages.KindTemperatura
	KindSalinidad   = messages.KindSalinidad
	KindPh          = messages.KindPh
	KindTurbidez    = messages.KindTurbidez
	KindHumedad     = messages.KindHumedad

	TypeSensorUpdate          = messages.TypeSensorUpdate
	TypeConnectionEstablished = messages.TypeConnectionEstablished
	TypeSensorData            = messages.TypeSensorData
)

var Kinds = messages.Kinds
