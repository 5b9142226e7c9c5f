package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zdex/evcpms/internal/billing"
	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.MustNew(s) }

func TestEnergyKwh(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		start, end  int64
		want        string
		wantClamped bool
	}{
		{name: "regular delta", start: 1000, end: 5000, want: "4"},
		{name: "fractional", start: 0, end: 1234, want: "1.234"},
		{name: "unchanged meter", start: 700, end: 700, want: "0"},
		{name: "meter went backwards", start: 5000, end: 1000, want: "0", wantClamped: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			kwh, clamped := billing.EnergyKwh(tt.start, tt.end)
			assert.True(t, kwh.Equal(dec(tt.want)), "got %s", kwh)
			assert.Equal(t, tt.wantClamped, clamped)
		})
	}
}

func TestSettle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		tariff          models.Tariff
		kwh             string
		duration        time.Duration
		investorPercent string
		wantEnergy      string
		wantTime        string
		wantTotal       string
		wantInvestor    string
		wantPlatform    string
	}{
		{
			name:            "energy only",
			tariff:          models.Tariff{PricePerKwh: dec("800")},
			kwh:             "4",
			duration:        30 * time.Minute,
			investorPercent: "70",
			wantEnergy:      "3200",
			wantTime:        "0",
			wantTotal:       "3200",
			wantInvestor:    "2240",
			wantPlatform:    "960",
		},
		{
			name:            "energy, time and fee",
			tariff:          models.Tariff{PricePerKwh: dec("800"), PricePerMinute: dec("10"), SessionFee: dec("500")},
			kwh:             "2.5",
			duration:        90 * time.Second,
			investorPercent: "60",
			wantEnergy:      "2000",
			wantTime:        "15",
			wantTotal:       "2515",
			wantInvestor:    "1509",
			wantPlatform:    "1006",
		},
		{
			name:            "rounding to cents",
			tariff:          models.Tariff{PricePerKwh: dec("0.333")},
			kwh:             "1.005",
			duration:        0,
			investorPercent: "33.3",
			wantEnergy:      "0.33",
			wantTime:        "0",
			wantTotal:       "0.33",
			wantInvestor:    "0.11",
			wantPlatform:    "0.22",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := billing.Settle(tt.tariff, dec(tt.kwh), tt.duration, dec(tt.investorPercent))

			assert.True(t, b.EnergyCost.Equal(dec(tt.wantEnergy)), "energy %s", b.EnergyCost)
			assert.True(t, b.TimeCost.Equal(dec(tt.wantTime)), "time %s", b.TimeCost)
			assert.True(t, b.TotalCost.Equal(dec(tt.wantTotal)), "total %s", b.TotalCost)
			assert.True(t, b.InvestorShare.Equal(dec(tt.wantInvestor)), "investor %s", b.InvestorShare)
			assert.True(t, b.PlatformFee.Equal(dec(tt.wantPlatform)), "platform %s", b.PlatformFee)

			assert.True(t, b.TotalCost.Equal(b.EnergyCost.Add(b.TimeCost).Add(b.SessionFee)))
			assert.True(t, b.TotalCost.Equal(b.InvestorShare.Add(b.PlatformFee)))
		})
	}
}

func TestMeterScenario(t *testing.T) {
	t.Parallel()

	kwh, _ := billing.EnergyKwh(1000, 5000)
	b := billing.Settle(models.Tariff{PricePerKwh: dec("800")}, kwh, time.Hour, dec("70"))

	assert.Equal(t, "4.000", b.KwhConsumed.String())
	assert.True(t, b.EnergyCost.Equal(dec("3200")))
}

func TestKwhToWh(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(15000), billing.KwhToWh(dec("15")))
	assert.Equal(t, int64(1235), billing.KwhToWh(dec("1.2345")))
}
