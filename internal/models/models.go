package models

import (
	"encoding/json"
	"time"

	"github.com/zdex/evcpms/internal/decimal"
)

type Station struct {
	StationID       string
	Identity        string
	OwnerID         string
	PasswordHash    string
	IsActive        bool
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	OcppVersion     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastSeenAt      *time.Time
}

// BootInfo is what a station reports about itself on boot.
type BootInfo struct {
	Vendor          string `json:"vendor,omitempty"`
	Model           string `json:"model,omitempty"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

type Connector struct {
	ConnectorID string
	StationID   string
	Number      int
	PowerKw     decimal.Decimal
	Status      string
	ErrorCode   string
	UpdatedAt   time.Time
}

type User struct {
	UserID   string
	IDTag    string
	Email    string
	Name     string
	IsActive bool
}

type Tariff struct {
	TariffID       string
	StationID      string
	PricePerKwh    decimal.Decimal
	PricePerMinute decimal.Decimal
	SessionFee     decimal.Decimal
	Currency       string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RevenueShare holds the investor part of every settled session, in percent.
type RevenueShare struct {
	InvestorPercent decimal.Decimal
	UpdatedAt       time.Time
}

type SessionStatus string

const (
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
)

type Session struct {
	SessionID       string          `json:"sessionId"`
	StationID       string          `json:"stationId"`
	ConnectorID     string          `json:"connectorId"`
	ConnectorNumber int             `json:"connectorNumber"`
	UserID          *string         `json:"userId,omitempty"`
	IDTag           string          `json:"idTag,omitempty"`
	TariffID        string          `json:"tariffId"`
	TransactionRef  string          `json:"transactionRef,omitempty"`
	StartTime       time.Time       `json:"startTime"`
	EndTime         *time.Time      `json:"endTime,omitempty"`
	MeterStartWh    int64           `json:"meterStartWh"`
	MeterEndWh      *int64          `json:"meterEndWh,omitempty"`
	LastMeterWh     int64           `json:"lastMeterWh"`
	RunningKwh      decimal.Decimal `json:"runningKwh"`
	RunningCost     decimal.Decimal `json:"runningCost"`
	KwhConsumed     decimal.Decimal `json:"kwhConsumed"`
	EnergyCost      decimal.Decimal `json:"energyCost"`
	TimeCost        decimal.Decimal `json:"timeCost"`
	SessionFee      decimal.Decimal `json:"sessionFee"`
	TotalCost       decimal.Decimal `json:"totalCost"`
	InvestorShare   decimal.Decimal `json:"investorShare"`
	PlatformFee     decimal.Decimal `json:"platformFee"`
	Currency        string          `json:"currency,omitempty"`
	Status          SessionStatus   `json:"status"`
	StopReason      string          `json:"stopReason,omitempty"`

	// MeterStartPending marks MeterStartWh as a placeholder until the first
	// energy sample of the session arrives.
	MeterStartPending bool `json:"meterStartPending,omitempty"`
}

type AlertType string

const (
	AlertDisconnection    AlertType = "DISCONNECTION"
	AlertError            AlertType = "ERROR"
	AlertFault            AlertType = "FAULT"
	AlertBootRejected     AlertType = "BOOT_REJECTED"
	AlertTransactionError AlertType = "TRANSACTION_ERROR"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID              int64     `json:"id"`
	Type            AlertType `json:"type"`
	Severity        Severity  `json:"severity"`
	StationIdentity string    `json:"stationIdentity"`
	StationID       string    `json:"stationId,omitempty"`
	OwnerID         string    `json:"ownerId,omitempty"`
	ConnectorNumber int       `json:"connectorNumber,omitempty"`
	ErrorCode       string    `json:"errorCode,omitempty"`
	Message         string    `json:"message"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Direction string

const (
	DirectionInbound  Direction = "IN"
	DirectionOutbound Direction = "OUT"
)

type MessageLog struct {
	ID              int64           `json:"id"`
	StationIdentity string          `json:"stationIdentity"`
	Direction       Direction       `json:"direction"`
	MessageType     int             `json:"messageType"`
	MessageID       string          `json:"messageId"`
	Action          string          `json:"action,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Command is an operator-issued request toward a station, kept for audit.
type Command struct {
	CommandID       string
	StationIdentity string
	Type            string
	IdempotencyKey  string
	MessageID       *string
	PayloadJSON     []byte
	Status          string
	Error           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type NotificationKind string

const (
	NotifyChargeStarted   NotificationKind = "charge_started"
	NotifyChargeCompleted NotificationKind = "charge_completed"
	NotifyLowBalance      NotificationKind = "low_balance"
	NotifyBalanceDepleted NotificationKind = "balance_depleted"
	NotifyStationAlert    NotificationKind = "station_alert"
	NotifySimulationPhase NotificationKind = "simulation_phase"
)

type Notification struct {
	UserID    string           `json:"userId"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Data      map[string]any   `json:"data,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
