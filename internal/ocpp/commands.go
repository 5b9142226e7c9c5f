package ocpp

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/ocpp/v16"
	"github.com/zdex/evcpms/internal/ocpp/v201"
	"github.com/zdex/evcpms/internal/ocpp/wire"
)

// CommandKind names an engine-issued command independently of the dialect.
type CommandKind string

const (
	CommandReset               CommandKind = "reset"
	CommandUnlockConnector     CommandKind = "unlock_connector"
	CommandRemoteStart         CommandKind = "remote_start"
	CommandRemoteStop          CommandKind = "remote_stop"
	CommandChangeAvailability  CommandKind = "change_availability"
	CommandGetConfiguration    CommandKind = "get_configuration"
	CommandChangeConfiguration CommandKind = "change_configuration"
	CommandTriggerMessage      CommandKind = "trigger_message"
)

var (
	ErrStationOffline     = errors.New("station is not connected")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrTransactionUnknown = errors.New("no live transaction for session")
)

// CommandParams carries the arguments of every command kind. Each kind reads
// only the fields it needs.
type CommandParams struct {
	ConnectorID int    `json:"connectorId,omitempty" validate:"gte=0"`
	IDTag       string `json:"idTag,omitempty" validate:"max=36"`
	// SessionID selects the transaction to stop.
	SessionID string `json:"sessionId,omitempty"`
	Hard      bool   `json:"hard,omitempty"`
	// Available switches a connector between Operative and Inoperative.
	Available bool     `json:"available,omitempty"`
	Keys      []string `json:"keys,omitempty"`
	Key       string   `json:"key,omitempty"`
	Value     string   `json:"value,omitempty"`
	// Component scopes 2.0.1 variables. It defaults to the station controller.
	Component string `json:"component,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SentCommand describes a command handed to the station.
type SentCommand struct {
	MessageID string      `json:"messageId"`
	Action    wire.Action `json:"action"`
	Payload   any         `json:"payload"`
}

type remoteStartIDs struct{ n atomic.Int64 }

func (r *remoteStartIDs) next() int { return int(r.n.Add(1)) }

// SendCommand builds the dialect-specific request for kind and sends it
// fire-and-forget. The station's answer only shows up in the message log.
func (r *Router) SendCommand(ctx context.Context, identity string, kind CommandKind, p CommandParams) (SentCommand, error) {
	conn, ok := r.registry.Connection(identity)
	if !ok {
		return SentCommand{}, ErrStationOffline
	}

	var (
		action  wire.Action
		payload any
		err     error
	)
	switch conn.Version() {
	case wire.V201:
		action, payload, err = r.v201Command(identity, kind, p)
	default:
		action, payload, err = r.v16Command(identity, kind, p)
	}
	if err != nil {
		return SentCommand{}, err
	}
	if err := wire.Validator().Struct(payload); err != nil {
		return SentCommand{}, errors.Wrap(wire.ErrInvalidPayload, err.Error())
	}

	messageID, ok := r.registry.SendCommand(identity, string(action), payload)
	if !ok {
		return SentCommand{}, ErrStationOffline
	}

	if frame, err := wire.EncodeCall(messageID, string(action), payload); err == nil {
		r.record(ctx, identity, models.DirectionOutbound, wire.Call, messageID, string(action), frame)
	}
	return SentCommand{MessageID: messageID, Action: action, Payload: payload}, nil
}

func (r *Router) v16Command(identity string, kind CommandKind, p CommandParams) (wire.Action, any, error) {
	switch kind {
	case CommandReset:
		t := "Soft"
		if p.Hard {
			t = "Hard"
		}
		return v16.ActionReset, &v16.ResetRequest{Type: t}, nil
	case CommandUnlockConnector:
		return v16.ActionUnlockConnector, &v16.UnlockConnectorRequest{ConnectorID: p.ConnectorID}, nil
	case CommandRemoteStart:
		req := &v16.RemoteStartTransactionRequest{IDTag: p.IDTag}
		if p.ConnectorID > 0 {
			c := p.ConnectorID
			req.ConnectorID = &c
		}
		return v16.ActionRemoteStartTransaction, req, nil
	case CommandRemoteStop:
		txID, _, ok := r.corr.TransactionFor(identity, p.SessionID)
		if !ok || txID == 0 {
			return "", nil, ErrTransactionUnknown
		}
		return v16.ActionRemoteStopTransaction, &v16.RemoteStopTransactionRequest{TransactionID: txID}, nil
	case CommandChangeAvailability:
		return v16.ActionChangeAvailability, &v16.ChangeAvailabilityRequest{
			ConnectorID: p.ConnectorID,
			Type:        availability(p.Available),
		}, nil
	case CommandGetConfiguration:
		return v16.ActionGetConfiguration, &v16.GetConfigurationRequest{Key: p.Keys}, nil
	case CommandChangeConfiguration:
		return v16.ActionChangeConfiguration, &v16.ChangeConfigurationRequest{Key: p.Key, Value: p.Value}, nil
	case CommandTriggerMessage:
		req := &v16.TriggerMessageRequest{RequestedMessage: p.Message}
		if p.ConnectorID > 0 {
			c := p.ConnectorID
			req.ConnectorID = &c
		}
		return v16.ActionTriggerMessage, req, nil
	}
	return "", nil, errors.Wrap(ErrUnknownCommand, string(kind))
}

func (r *Router) v201Command(identity string, kind CommandKind, p CommandParams) (wire.Action, any, error) {
	component := p.Component
	if component == "" {
		component = "ChargingStation"
	}
	switch kind {
	case CommandReset:
		t := "OnIdle"
		if p.Hard {
			t = "Immediate"
		}
		return v201.ActionReset, &v201.ResetRequest{Type: t}, nil
	case CommandUnlockConnector:
		return v201.ActionUnlockConnector, &v201.UnlockConnectorRequest{EvseID: p.ConnectorID, ConnectorID: 1}, nil
	case CommandRemoteStart:
		req := &v201.RequestStartTransactionRequest{
			RemoteStartID: r.remoteID.next(),
			IDToken:       v201.IDToken{IDToken: p.IDTag, Type: "Central"},
		}
		if p.ConnectorID > 0 {
			e := p.ConnectorID
			req.EvseID = &e
		}
		return v201.ActionRequestStartTransaction, req, nil
	case CommandRemoteStop:
		_, key, ok := r.corr.TransactionFor(identity, p.SessionID)
		if !ok || key == "" {
			return "", nil, ErrTransactionUnknown
		}
		return v201.ActionRequestStopTransaction, &v201.RequestStopTransactionRequest{TransactionID: key}, nil
	case CommandChangeAvailability:
		req := &v201.ChangeAvailabilityRequest{OperationalStatus: availability(p.Available)}
		if p.ConnectorID > 0 {
			req.EVSE = &v201.EVSE{ID: p.ConnectorID}
		}
		return v201.ActionChangeAvailability, req, nil
	case CommandGetConfiguration:
		req := &v201.GetVariablesRequest{}
		for _, k := range p.Keys {
			req.GetVariableData = append(req.GetVariableData, v201.GetVariableData{
				Component: v201.Component{Name: component},
				Variable:  v201.Variable{Name: k},
			})
		}
		return v201.ActionGetVariables, req, nil
	case CommandChangeConfiguration:
		return v201.ActionSetVariables, &v201.SetVariablesRequest{SetVariableData: []v201.SetVariableData{{
			AttributeValue: p.Value,
			Component:      v201.Component{Name: component},
			Variable:       v201.Variable{Name: p.Key},
		}}}, nil
	case CommandTriggerMessage:
		req := &v201.TriggerMessageRequest{RequestedMessage: p.Message}
		if p.ConnectorID > 0 {
			req.EVSE = &v201.EVSE{ID: p.ConnectorID}
		}
		return v201.ActionTriggerMessage, req, nil
	}
	return "", nil, errors.Wrap(ErrUnknownCommand, string(kind))
}

func availability(available bool) string {
	if available {
		return "Operative"
	}
	return "Inoperative"
}

// ParseCommandParams decodes admin-supplied params, treating an empty body as
// no params.
func ParseCommandParams(raw json.RawMessage) (CommandParams, error) {
	var p CommandParams
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errors.Wrap(wire.ErrInvalidPayload, err.Error())
	}
	if err := wire.Validator().Struct(p); err != nil {
		return p, errors.Wrap(wire.ErrInvalidPayload, err.Error())
	}
	return p, nil
}
