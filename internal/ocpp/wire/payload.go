package wire

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/zdex/evcpms/internal/decimal"
)

// Action names a request a dialect understands.
type Action string

// ErrInvalidPayload marks a request payload that does not match its action.
var ErrInvalidPayload = errors.New("invalid payload")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// DecodePayload unmarshals a request payload into dst and checks its
// validate tags.
func DecodePayload(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = emptyObject
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if err := Validator().Struct(dst); err != nil {
		return errors.Wrap(ErrInvalidPayload, err.Error())
	}
	return nil
}

// MeasurandEnergyImport is the cumulative energy register both dialects report.
const MeasurandEnergyImport = "Energy.Active.Import.Register"

// EnergyWh normalizes an energy register sample to watt-hours. Samples with no
// unit are Wh. It reports false when value is not a finite number or does not
// fit a 64-bit register.
func EnergyWh(value, unit string) (int64, bool) {
	d, err := decimal.New(strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	if strings.EqualFold(unit, "kWh") {
		d = d.Mul(decimal.FromInt64(1000))
	}
	wh, err := d.Round(0).Int64()
	if err != nil {
		return 0, false
	}
	return wh, true
}

// IsEnergyMeasurand reports whether a sample carries the energy register. An
// empty measurand defaults to it in both dialects.
func IsEnergyMeasurand(m string) bool {
	return m == "" || m == MeasurandEnergyImport
}
