package services

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionCompleted  = errors.New("session already completed")
	ErrStationUnknown    = errors.New("station unknown")
	ErrConnectorNotFound = errors.New("connector not found")
	ErrNoActiveTariff    = errors.New("no active tariff for station")
	ErrTariffMissing     = errors.New("session tariff missing")
	ErrUserBlocked       = errors.New("user blocked")
)

type StationStore interface {
	GetByIdentity(ctx context.Context, identity string) (*models.Station, error)
	GetByID(ctx context.Context, stationID string) (*models.Station, error)
	UpdateBootInfo(ctx context.Context, stationID string, info models.BootInfo, ocppVersion string) error
	TouchLastSeen(ctx context.Context, stationID string, t time.Time) error
}

type ConnectorStore interface {
	GetByNumber(ctx context.Context, stationID string, number int) (*models.Connector, error)
	UpdateStatus(ctx context.Context, stationID string, number int, status, errorCode string) error
}

type UserStore interface {
	GetByTag(ctx context.Context, tag string) (*models.User, error)
}

type WalletStore interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID, sessionID string, amount decimal.Decimal) error
}

type TariffStore interface {
	GetActiveForStation(ctx context.Context, stationID string) (*models.Tariff, error)
	Get(ctx context.Context, tariffID string) (*models.Tariff, error)
}

type SessionStore interface {
	Create(ctx context.Context, s models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	UpdateRunning(ctx context.Context, sessionID string, meterWh int64, kwh, cost decimal.Decimal) error
	// SetMeterStart replaces a pending start reading and reports whether it did.
	SetMeterStart(ctx context.Context, sessionID string, meterWh int64) (bool, error)
	ListInProgress(ctx context.Context, stationID string) ([]models.Session, error)
	// Finalize writes the settled session only if it is still in progress and
	// reports whether it did.
	Finalize(ctx context.Context, s models.Session) (bool, error)
}

type RevenueShareStore interface {
	Get(ctx context.Context) (*models.RevenueShare, error)
}

type EarningsStore interface {
	Credit(ctx context.Context, ownerID, sessionID string, amount decimal.Decimal) error
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

const defaultTimeout = 5 * time.Second

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
