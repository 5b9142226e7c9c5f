package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/billing"
	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
)

type PricingService struct {
	Tariffs TariffStore
	Shares  RevenueShareStore

	// DefaultInvestorPercent applies when no revenue-share record exists.
	DefaultInvestorPercent decimal.Decimal
	Timeout                time.Duration
}

func NewPricingService(tariffs TariffStore, shares RevenueShareStore, defaultInvestorPercent decimal.Decimal, timeout time.Duration) *PricingService {
	return &PricingService{Tariffs: tariffs, Shares: shares, DefaultInvestorPercent: defaultInvestorPercent, Timeout: timeout}
}

// ActiveTariff resolves the tariff currently applied at a station.
func (p *PricingService) ActiveTariff(ctx context.Context, stationID string) (*models.Tariff, error) {
	ctx, cancel := bounded(ctx, p.Timeout)
	defer cancel()

	t, err := p.Tariffs.GetActiveForStation(ctx, stationID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve active tariff")
	}
	if t == nil {
		return nil, ErrNoActiveTariff
	}
	return t, nil
}

// SessionTariff returns the tariff a session started with. Settlement must not
// guess a price, so a failed lookup or a missing record is an error.
func (p *PricingService) SessionTariff(ctx context.Context, tariffID string) (models.Tariff, error) {
	ctx, cancel := bounded(ctx, p.Timeout)
	defer cancel()

	t, err := p.Tariffs.Get(ctx, tariffID)
	if err != nil {
		return models.Tariff{}, errors.Wrap(err, "load session tariff")
	}
	if t == nil {
		return models.Tariff{}, errors.Wrap(ErrTariffMissing, tariffID)
	}
	return *t, nil
}

// RunningTariff is SessionTariff for live estimates: an unavailable tariff
// prices at zero until the next reading.
func (p *PricingService) RunningTariff(ctx context.Context, tariffID string) models.Tariff {
	t, err := p.SessionTariff(ctx, tariffID)
	if err != nil {
		log.WithError(err).WithField("tariff", tariffID).Warn("pricing: tariff unavailable, running cost at zero")
		return models.Tariff{TariffID: tariffID}
	}
	return t
}

// InvestorPercent reads the revenue-share record. The default applies only
// when no record exists; a failed read is an error.
func (p *PricingService) InvestorPercent(ctx context.Context) (decimal.Decimal, error) {
	if p.Shares == nil {
		return p.DefaultInvestorPercent, nil
	}
	ctx, cancel := bounded(ctx, p.Timeout)
	defer cancel()

	share, err := p.Shares.Get(ctx)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "load revenue share")
	}
	if share == nil {
		return p.DefaultInvestorPercent, nil
	}
	return share.InvestorPercent, nil
}

// RunningCost prices energy so far without rounding.
func (p *PricingService) RunningCost(t models.Tariff, kwh decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	return billing.Cost(t, kwh, elapsed).TotalCost
}
