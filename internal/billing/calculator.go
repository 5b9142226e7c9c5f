// Package billing turns metered energy and elapsed time into money.
//
// Intermediate values keep full precision. Only Settle rounds, to cents, and it
// derives the total from the rounded components so the parts always add up.
package billing

import (
	"time"

	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
)

const (
	moneyPlaces  = 2
	kwhPlaces    = 3
	minutePlaces = 2
)

var (
	whPerKwh  = decimal.FromInt64(1000)
	secPerMin = decimal.FromInt64(60)
	hundred   = decimal.FromInt64(100)
)

type Breakdown struct {
	KwhConsumed     decimal.Decimal
	DurationMinutes decimal.Decimal
	EnergyCost      decimal.Decimal
	TimeCost        decimal.Decimal
	SessionFee      decimal.Decimal
	TotalCost       decimal.Decimal
	InvestorShare   decimal.Decimal
	PlatformFee     decimal.Decimal
}

// EnergyKwh converts two register readings in Wh into consumed kWh. A meter that
// went backwards yields zero and clamped=true.
func EnergyKwh(meterStartWh, meterEndWh int64) (kwh decimal.Decimal, clamped bool) {
	delta := meterEndWh - meterStartWh
	if delta < 0 {
		return decimal.Zero(), true
	}
	return decimal.FromInt64(delta).Div(whPerKwh), false
}

func KwhToWh(kwh decimal.Decimal) int64 {
	return kwh.Mul(whPerKwh).Round(0).IntPart()
}

func Minutes(d time.Duration) decimal.Decimal {
	if d <= 0 {
		return decimal.Zero()
	}
	return decimal.FromInt64(int64(d / time.Second)).Div(secPerMin)
}

// Cost prices a usage without rounding. Used for running totals.
func Cost(t models.Tariff, kwh decimal.Decimal, d time.Duration) Breakdown {
	minutes := Minutes(d)
	energy := kwh.Mul(t.PricePerKwh)
	timeCost := minutes.Mul(t.PricePerMinute)
	return Breakdown{
		KwhConsumed:     kwh,
		DurationMinutes: minutes,
		EnergyCost:      energy,
		TimeCost:        timeCost,
		SessionFee:      t.SessionFee,
		TotalCost:       energy.Add(timeCost).Add(t.SessionFee),
	}
}

// Split divides total into the investor share and the platform fee.
// investorPercent is expressed in percent, e.g. 70 for 70%.
func Split(total, investorPercent decimal.Decimal) (investor, platform decimal.Decimal) {
	investor = total.Mul(investorPercent).Div(hundred).Round(moneyPlaces)
	platform = total.Sub(investor)
	return investor, platform
}

// Settle produces the final, rounded breakdown for a session.
func Settle(t models.Tariff, kwh decimal.Decimal, d time.Duration, investorPercent decimal.Decimal) Breakdown {
	raw := Cost(t, kwh, d)

	b := Breakdown{
		KwhConsumed:     raw.KwhConsumed.Round(kwhPlaces),
		DurationMinutes: raw.DurationMinutes.Round(minutePlaces),
		EnergyCost:      raw.EnergyCost.Round(moneyPlaces),
		TimeCost:        raw.TimeCost.Round(moneyPlaces),
		SessionFee:      raw.SessionFee.Round(moneyPlaces),
	}
	b.TotalCost = b.EnergyCost.Add(b.TimeCost).Add(b.SessionFee)
	b.InvestorShare, b.PlatformFee = Split(b.TotalCost, investorPercent)
	return b
}

// Apply copies the settled amounts onto a session.
func (b Breakdown) Apply(s *models.Session) {
	s.KwhConsumed = b.KwhConsumed
	s.EnergyCost = b.EnergyCost
	s.TimeCost = b.TimeCost
	s.SessionFee = b.SessionFee
	s.TotalCost = b.TotalCost
	s.InvestorShare = b.InvestorShare
	s.PlatformFee = b.PlatformFee
}
