// Package v16 holds the OCPP 1.6J payloads the engine exchanges with stations.
package v16

import (
	"time"

	"github.com/zdex/evcpms/internal/ocpp/wire"
)

// Station-initiated actions.
const (
	ActionBootNotification   wire.Action = "BootNotification"
	ActionHeartbeat          wire.Action = "Heartbeat"
	ActionStatusNotification wire.Action = "StatusNotification"
	ActionAuthorize          wire.Action = "Authorize"
	ActionStartTransaction   wire.Action = "StartTransaction"
	ActionStopTransaction    wire.Action = "StopTransaction"
	ActionMeterValues        wire.Action = "MeterValues"
	ActionDataTransfer       wire.Action = "DataTransfer"
)

// Engine-initiated actions.
const (
	ActionReset                  wire.Action = "Reset"
	ActionUnlockConnector        wire.Action = "UnlockConnector"
	ActionRemoteStartTransaction wire.Action = "RemoteStartTransaction"
	ActionRemoteStopTransaction  wire.Action = "RemoteStopTransaction"
	ActionChangeAvailability     wire.Action = "ChangeAvailability"
	ActionGetConfiguration       wire.Action = "GetConfiguration"
	ActionChangeConfiguration    wire.Action = "ChangeConfiguration"
	ActionTriggerMessage         wire.Action = "TriggerMessage"
)

const (
	RegistrationAccepted = "Accepted"
	RegistrationRejected = "Rejected"
)

const NoError = "NoError"

type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor" validate:"required,max=20"`
	ChargePointModel        string `json:"chargePointModel" validate:"required,max=20"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty" validate:"max=25"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty" validate:"max=25"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty" validate:"max=50"`
	Iccid                   string `json:"iccid,omitempty"`
	Imsi                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

type BootNotificationResponse struct {
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
}

type HeartbeatRequest struct{}

type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

type StatusNotificationRequest struct {
	ConnectorID     int        `json:"connectorId" validate:"gte=0"`
	ErrorCode       string     `json:"errorCode" validate:"required"`
	Status          string     `json:"status" validate:"required"`
	Info            string     `json:"info,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	VendorID        string     `json:"vendorId,omitempty"`
	VendorErrorCode string     `json:"vendorErrorCode,omitempty"`
}

type StatusNotificationResponse struct{}

type IDTagInfo struct {
	Status      string     `json:"status"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	ParentIDTag string     `json:"parentIdTag,omitempty"`
}

type AuthorizeRequest struct {
	IDTag string `json:"idTag" validate:"max=20"`
}

type AuthorizeResponse struct {
	IDTagInfo IDTagInfo `json:"idTagInfo"`
}

type StartTransactionRequest struct {
	ConnectorID   int       `json:"connectorId" validate:"gt=0"`
	IDTag         string    `json:"idTag" validate:"max=20"`
	MeterStart    int64     `json:"meterStart" validate:"gte=0"`
	ReservationID *int      `json:"reservationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type StartTransactionResponse struct {
	IDTagInfo     IDTagInfo `json:"idTagInfo"`
	TransactionID int       `json:"transactionId"`
}

type StopTransactionRequest struct {
	IDTag           string       `json:"idTag,omitempty" validate:"max=20"`
	MeterStop       int64        `json:"meterStop" validate:"gte=0"`
	Timestamp       time.Time    `json:"timestamp"`
	TransactionID   int          `json:"transactionId"`
	Reason          string       `json:"reason,omitempty"`
	TransactionData []MeterValue `json:"transactionData,omitempty" validate:"dive"`
}

type StopTransactionResponse struct {
	IDTagInfo *IDTagInfo `json:"idTagInfo,omitempty"`
}

type SampledValue struct {
	Value     string `json:"value" validate:"required"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1,dive"`
}

type MeterValuesRequest struct {
	ConnectorID   int          `json:"connectorId" validate:"gte=0"`
	TransactionID *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue" validate:"required,min=1,dive"`
}

type MeterValuesResponse struct{}

// LastEnergyWh returns the newest energy register sample in watt-hours along
// with its timestamp.
func LastEnergyWh(values []MeterValue) (int64, time.Time, bool) {
	var (
		wh    int64
		ts    time.Time
		found bool
	)
	for _, mv := range values {
		for _, sv := range mv.SampledValue {
			if !wire.IsEnergyMeasurand(sv.Measurand) {
				continue
			}
			v, ok := wire.EnergyWh(sv.Value, sv.Unit)
			if !ok {
				continue
			}
			if !found || !mv.Timestamp.Before(ts) {
				wh, ts, found = v, mv.Timestamp, true
			}
		}
	}
	return wh, ts, found
}

type DataTransferRequest struct {
	VendorID  string `json:"vendorId" validate:"required,max=255"`
	MessageID string `json:"messageId,omitempty" validate:"max=50"`
	Data      string `json:"data,omitempty"`
}

type DataTransferResponse struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

type ResetRequest struct {
	Type string `json:"type" validate:"oneof=Hard Soft"`
}

type UnlockConnectorRequest struct {
	ConnectorID int `json:"connectorId" validate:"gt=0"`
}

type RemoteStartTransactionRequest struct {
	ConnectorID *int   `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
	IDTag       string `json:"idTag" validate:"required,max=20"`
}

type RemoteStopTransactionRequest struct {
	TransactionID int `json:"transactionId"`
}

type ChangeAvailabilityRequest struct {
	ConnectorID int    `json:"connectorId" validate:"gte=0"`
	Type        string `json:"type" validate:"oneof=Inoperative Operative"`
}

type GetConfigurationRequest struct {
	Key []string `json:"key,omitempty"`
}

type ChangeConfigurationRequest struct {
	Key   string `json:"key" validate:"required,max=50"`
	Value string `json:"value" validate:"max=500"`
}

type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage" validate:"required,oneof=BootNotification DiagnosticsStatusNotification FirmwareStatusNotification Heartbeat MeterValues StatusNotification"`
	ConnectorID      *int   `json:"connectorId,omitempty" validate:"omitempty,gte=0"`
}
