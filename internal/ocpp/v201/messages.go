// Package v201 holds the OCPP 2.0.1 payloads the engine exchanges with stations.
package v201

import (
	"encoding/json"
	"time"

	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/ocpp/wire"
)

// Station-initiated actions.
const (
	ActionBootNotification   wire.Action = "BootNotification"
	ActionHeartbeat          wire.Action = "Heartbeat"
	ActionStatusNotification wire.Action = "StatusNotification"
	ActionAuthorize          wire.Action = "Authorize"
	ActionTransactionEvent   wire.Action = "TransactionEvent"
	ActionMeterValues        wire.Action = "MeterValues"
	ActionDataTransfer       wire.Action = "DataTransfer"
)

// Engine-initiated actions.
const (
	ActionReset                   wire.Action = "Reset"
	ActionUnlockConnector         wire.Action = "UnlockConnector"
	ActionRequestStartTransaction wire.Action = "RequestStartTransaction"
	ActionRequestStopTransaction  wire.Action = "RequestStopTransaction"
	ActionChangeAvailability      wire.Action = "ChangeAvailability"
	ActionGetVariables            wire.Action = "GetVariables"
	ActionSetVariables            wire.Action = "SetVariables"
	ActionTriggerMessage          wire.Action = "TriggerMessage"
)

// TransactionEvent event types.
const (
	EventStarted = "Started"
	EventUpdated = "Updated"
	EventEnded   = "Ended"
)

const (
	RegistrationAccepted = "Accepted"
	RegistrationRejected = "Rejected"
)

const ConnectorFaulted = "Faulted"

type Modem struct {
	Iccid string `json:"iccid,omitempty"`
	Imsi  string `json:"imsi,omitempty"`
}

type ChargingStation struct {
	SerialNumber    string `json:"serialNumber,omitempty" validate:"max=25"`
	Model           string `json:"model" validate:"required,max=20"`
	VendorName      string `json:"vendorName" validate:"required,max=50"`
	FirmwareVersion string `json:"firmwareVersion,omitempty" validate:"max=50"`
	Modem           *Modem `json:"modem,omitempty"`
}

type BootNotificationRequest struct {
	Reason          string          `json:"reason" validate:"required"`
	ChargingStation ChargingStation `json:"chargingStation"`
}

type BootNotificationResponse struct {
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
	Status      string    `json:"status"`
}

type HeartbeatRequest struct{}

type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

type StatusNotificationRequest struct {
	Timestamp       time.Time `json:"timestamp"`
	ConnectorStatus string    `json:"connectorStatus" validate:"required,oneof=Available Occupied Reserved Unavailable Faulted"`
	EvseID          int       `json:"evseId" validate:"gte=0"`
	ConnectorID     int       `json:"connectorId" validate:"gte=0"`
}

type StatusNotificationResponse struct{}

type IDToken struct {
	IDToken string `json:"idToken" validate:"max=36"`
	Type    string `json:"type" validate:"required"`
}

type IDTokenInfo struct {
	Status              string     `json:"status"`
	CacheExpiryDateTime *time.Time `json:"cacheExpiryDateTime,omitempty"`
}

type AuthorizeRequest struct {
	IDToken IDToken `json:"idToken"`
}

type AuthorizeResponse struct {
	IDTokenInfo IDTokenInfo `json:"idTokenInfo"`
}

type UnitOfMeasure struct {
	Unit       string `json:"unit,omitempty"`
	Multiplier int32  `json:"multiplier,omitempty" validate:"gte=-9,lte=9"`
}

type SampledValue struct {
	Value         decimal.Decimal `json:"value"`
	Context       string          `json:"context,omitempty"`
	Measurand     string          `json:"measurand,omitempty"`
	Phase         string          `json:"phase,omitempty"`
	Location      string          `json:"location,omitempty"`
	UnitOfMeasure *UnitOfMeasure  `json:"unitOfMeasure,omitempty"`
}

// Wh scales the sample by its unit and multiplier.
func (s SampledValue) Wh() (int64, bool) {
	unit := ""
	v := s.Value
	if s.UnitOfMeasure != nil {
		unit = s.UnitOfMeasure.Unit
		ten := decimal.FromInt64(10)
		for m := s.UnitOfMeasure.Multiplier; m > 0; m-- {
			v = v.Mul(ten)
		}
		for m := s.UnitOfMeasure.Multiplier; m < 0; m++ {
			v = v.Div(ten)
		}
	}
	return wire.EnergyWh(v.String(), unit)
}

type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1"`
}

// LastEnergyWh returns the newest energy register sample in watt-hours.
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
			v, ok := sv.Wh()
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

// FirstEnergyWh returns the oldest energy register sample in watt-hours.
func FirstEnergyWh(values []MeterValue) (int64, time.Time, bool) {
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
			v, ok := sv.Wh()
			if !ok {
				continue
			}
			if !found || mv.Timestamp.Before(ts) {
				wh, ts, found = v, mv.Timestamp, true
			}
		}
	}
	return wh, ts, found
}

type Transaction struct {
	TransactionID string `json:"transactionId" validate:"required,max=36"`
	ChargingState string `json:"chargingState,omitempty"`
	StoppedReason string `json:"stoppedReason,omitempty"`
	RemoteStartID *int   `json:"remoteStartId,omitempty"`
}

type EVSE struct {
	ID          int  `json:"id" validate:"gte=0"`
	ConnectorID *int `json:"connectorId,omitempty"`
}

type TransactionEventRequest struct {
	EventType       string       `json:"eventType" validate:"required,oneof=Started Updated Ended"`
	Timestamp       time.Time    `json:"timestamp"`
	TriggerReason   string       `json:"triggerReason" validate:"required"`
	SeqNo           int          `json:"seqNo" validate:"gte=0"`
	Offline         bool         `json:"offline,omitempty"`
	TransactionInfo Transaction  `json:"transactionInfo"`
	IDToken         *IDToken     `json:"idToken,omitempty"`
	EVSE            *EVSE        `json:"evse,omitempty"`
	MeterValue      []MeterValue `json:"meterValue,omitempty" validate:"dive"`
}

// ConnectorNumber is the station-local outlet the event refers to. 2.0.1
// addresses outlets by EVSE; the engine numbers connectors by EVSE id.
func (r TransactionEventRequest) ConnectorNumber() int {
	if r.EVSE == nil {
		return 0
	}
	return r.EVSE.ID
}

type TransactionEventResponse struct {
	TotalCost   *decimal.Decimal `json:"totalCost,omitempty"`
	IDTokenInfo *IDTokenInfo     `json:"idTokenInfo,omitempty"`
}

type MeterValuesRequest struct {
	EvseID     int          `json:"evseId" validate:"gte=0"`
	MeterValue []MeterValue `json:"meterValue" validate:"required,min=1,dive"`
}

type MeterValuesResponse struct{}

type DataTransferRequest struct {
	VendorID  string          `json:"vendorId" validate:"required,max=255"`
	MessageID string          `json:"messageId,omitempty" validate:"max=50"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type DataTransferResponse struct {
	Status string `json:"status"`
}

type ResetRequest struct {
	Type   string `json:"type" validate:"oneof=Immediate OnIdle"`
	EvseID *int   `json:"evseId,omitempty"`
}

type UnlockConnectorRequest struct {
	EvseID      int `json:"evseId" validate:"gt=0"`
	ConnectorID int `json:"connectorId" validate:"gt=0"`
}

type RequestStartTransactionRequest struct {
	EvseID        *int    `json:"evseId,omitempty" validate:"omitempty,gt=0"`
	RemoteStartID int     `json:"remoteStartId"`
	IDToken       IDToken `json:"idToken"`
}

type RequestStopTransactionRequest struct {
	TransactionID string `json:"transactionId" validate:"required,max=36"`
}

type ChangeAvailabilityRequest struct {
	OperationalStatus string `json:"operationalStatus" validate:"oneof=Inoperative Operative"`
	EVSE              *EVSE  `json:"evse,omitempty"`
}

type Component struct {
	Name string `json:"name" validate:"required,max=50"`
}

type Variable struct {
	Name string `json:"name" validate:"required,max=50"`
}

type GetVariableData struct {
	Component Component `json:"component"`
	Variable  Variable  `json:"variable"`
}

type GetVariablesRequest struct {
	GetVariableData []GetVariableData `json:"getVariableData" validate:"required,min=1,dive"`
}

type SetVariableData struct {
	AttributeValue string    `json:"attributeValue" validate:"max=1000"`
	Component      Component `json:"component"`
	Variable       Variable  `json:"variable"`
}

type SetVariablesRequest struct {
	SetVariableData []SetVariableData `json:"setVariableData" validate:"required,min=1,dive"`
}

type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage" validate:"required,oneof=BootNotification LogStatusNotification FirmwareStatusNotification Heartbeat MeterValues SignChargingStationCertificate SignV2GCertificate StatusNotification TransactionEvent SignCombinedCertificate PublishFirmwareStatusNotification"`
	EVSE             *EVSE  `json:"evse,omitempty"`
}
