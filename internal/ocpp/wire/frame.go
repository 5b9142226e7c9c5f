// Package wire encodes and decodes OCPP-J frames and names the supported dialects.
package wire

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

type MessageType int

const (
	Call       MessageType = 2
	CallResult MessageType = 3
	CallError  MessageType = 4
)

// Error codes defined by OCPP-J for CALLERROR frames.
const (
	ErrNotImplemented       = "NotImplemented"
	ErrNotSupported         = "NotSupported"
	ErrInternalError        = "InternalError"
	ErrProtocolError        = "ProtocolError"
	ErrSecurityError        = "SecurityError"
	ErrFormationViolation   = "FormationViolation"
	ErrPropertyConstraint   = "PropertyConstraintViolation"
	ErrOccurrenceConstraint = "OccurrenceConstraintViolation"
	ErrTypeConstraint       = "TypeConstraintViolation"
	ErrGenericError         = "GenericError"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a decoded OCPP-J message. Payload is left raw so each dialect can
// decode it into its own types.
type Frame struct {
	Type             MessageType
	MessageID        string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// Decode parses a text frame. Requests have 4 elements, results 3, errors 5.
func Decode(data []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if len(parts) < 3 {
		return Frame{}, errors.Wrapf(ErrMalformedFrame, "expected at least 3 elements, got %d", len(parts))
	}

	var f Frame
	if err := json.Unmarshal(parts[0], &f.Type); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedFrame, "message type is not a number")
	}
	if err := json.Unmarshal(parts[1], &f.MessageID); err != nil || f.MessageID == "" {
		return Frame{}, errors.Wrap(ErrMalformedFrame, "message id is not a string")
	}

	switch f.Type {
	case Call:
		if len(parts) != 4 {
			return f, errors.Wrapf(ErrMalformedFrame, "call expects 4 elements, got %d", len(parts))
		}
		if err := json.Unmarshal(parts[2], &f.Action); err != nil || f.Action == "" {
			return f, errors.Wrap(ErrMalformedFrame, "action is not a string")
		}
		f.Payload = parts[3]
	case CallResult:
		f.Payload = parts[2]
	case CallError:
		if len(parts) < 4 {
			return f, errors.Wrapf(ErrMalformedFrame, "call error expects 5 elements, got %d", len(parts))
		}
		_ = json.Unmarshal(parts[2], &f.ErrorCode)
		_ = json.Unmarshal(parts[3], &f.ErrorDescription)
		if len(parts) > 4 {
			f.ErrorDetails = parts[4]
		}
	default:
		return f, errors.Wrapf(ErrMalformedFrame, "unknown message type %d", f.Type)
	}
	return f, nil
}

func EncodeCall(messageID, action string, payload any) ([]byte, error) {
	p, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]any{Call, messageID, action, p})
}

func EncodeResult(messageID string, payload any) ([]byte, error) {
	p, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]any{CallResult, messageID, p})
}

func EncodeError(messageID, code, description string) ([]byte, error) {
	return json.Marshal([]any{CallError, messageID, code, description, json.RawMessage(`{}`)})
}

var emptyObject = json.RawMessage(`{}`)

// marshalPayload always yields a JSON object; nil becomes {}.
func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return emptyObject, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if len(bytes.TrimSpace(raw)) == 0 {
			return emptyObject, nil
		}
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	if bytes.Equal(b, []byte("null")) {
		return emptyObject, nil
	}
	return b, nil
}
