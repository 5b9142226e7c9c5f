package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/michalkurzeja/go-clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/billing"
	"github.com/zdex/evcpms/internal/models"
)

const ConnectorAvailable = "Available"

type StopRequest struct {
	SessionID string
	// MeterStopWh is the final register reading. When nil the last metered
	// value is used.
	MeterStopWh *int64
	// MeterBaselineWh is the earliest sample of the stop message. It is the
	// start reading of a session that never received one.
	MeterBaselineWh *int64
	Timestamp       time.Time
	Reason          string
}

// SettlementService finalizes sessions exactly once. Real stations, the
// simulator and operator reconciliation all settle through it.
type SettlementService struct {
	Sessions   SessionStore
	Stations   StationStore
	Connectors ConnectorStore
	Earnings   EarningsStore
	Wallets    WalletStore
	Notifier   Notifier
	Pricing    *PricingService
	Timeout    time.Duration

	locks keyedMutex
}

func NewSettlementService(
	sessions SessionStore,
	stations StationStore,
	connectors ConnectorStore,
	earnings EarningsStore,
	wallets WalletStore,
	notifier Notifier,
	pricing *PricingService,
	timeout time.Duration,
) *SettlementService {
	return &SettlementService{
		Sessions:   sessions,
		Stations:   stations,
		Connectors: connectors,
		Earnings:   earnings,
		Wallets:    wallets,
		Notifier:   notifier,
		Pricing:    pricing,
		Timeout:    timeout,
	}
}

// Settle prices and finalizes a session. A session that is already completed
// is rejected with ErrSessionCompleted and left untouched.
func (s *SettlementService) Settle(ctx context.Context, req StopRequest) (*models.Session, error) {
	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	logger := log.WithField("session", req.SessionID)

	sess, err := s.getSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionCompleted {
		return nil, ErrSessionCompleted
	}

	meterEnd := sess.LastMeterWh
	if req.MeterStopWh != nil {
		meterEnd = *req.MeterStopWh
	}
	if sess.MeterStartPending {
		start := meterEnd
		if req.MeterBaselineWh != nil && *req.MeterBaselineWh < start {
			start = *req.MeterBaselineWh
		}
		logger.WithField("meterStart", start).Warn("settlement: session never received a start reading, billing from the earliest stop sample")
		sess.MeterStartWh, sess.MeterStartPending = start, false
	}
	if meterEnd < sess.MeterStartWh {
		logger.WithField("meterStart", sess.MeterStartWh).
			WithField("meterStop", meterEnd).
			Warn("settlement: meter went backwards, billing zero energy")
		meterEnd = sess.MeterStartWh
	}
	kwh, _ := billing.EnergyKwh(sess.MeterStartWh, meterEnd)

	end := req.Timestamp
	if end.IsZero() {
		end = clock.Now().UTC()
	}
	if end.Before(sess.StartTime) {
		end = sess.StartTime
	}

	// Pricing failures leave the session IN_PROGRESS so the stop can be retried.
	tariff, err := s.Pricing.SessionTariff(ctx, sess.TariffID)
	if err != nil {
		return nil, err
	}
	investorPercent, err := s.Pricing.InvestorPercent(ctx)
	if err != nil {
		return nil, err
	}
	breakdown := billing.Settle(tariff, kwh, end.Sub(sess.StartTime), investorPercent)

	settled := *sess
	breakdown.Apply(&settled)
	settled.MeterEndWh = &meterEnd
	settled.LastMeterWh = meterEnd
	settled.EndTime = &end
	settled.StopReason = req.Reason
	settled.Status = models.SessionCompleted

	fctx, cancel := bounded(ctx, s.Timeout)
	ok, err := s.Sessions.Finalize(fctx, settled)
	cancel()
	if err != nil {
		return nil, errors.Wrap(err, "finalize session")
	}
	if !ok {
		return nil, ErrSessionCompleted
	}

	logger.WithField("kwh", settled.KwhConsumed).
		WithField("total", settled.TotalCost).
		Info("settlement: session completed")

	s.afterSettle(ctx, settled, logger)
	return &settled, nil
}

// afterSettle runs the side effects of a completed session. Each is best effort.
func (s *SettlementService) afterSettle(ctx context.Context, sess models.Session, logger *log.Entry) {
	ctx, cancel := bounded(ctx, s.Timeout)
	defer cancel()

	if err := s.Connectors.UpdateStatus(ctx, sess.StationID, sess.ConnectorNumber, ConnectorAvailable, ""); err != nil {
		logger.WithError(err).Error("settlement: failed to free connector")
	}

	if st, err := s.Stations.GetByID(ctx, sess.StationID); err != nil {
		logger.WithError(err).Error("settlement: failed to resolve station owner")
	} else if st != nil && st.OwnerID != "" && sess.InvestorShare.Sign() > 0 {
		if err := s.Earnings.Credit(ctx, st.OwnerID, sess.SessionID, sess.InvestorShare); err != nil {
			logger.WithError(err).Error("settlement: failed to credit owner earnings")
		}
	}

	if sess.UserID == nil {
		return
	}
	if s.Wallets != nil && sess.TotalCost.Sign() > 0 {
		if err := s.Wallets.Debit(ctx, *sess.UserID, sess.SessionID, sess.TotalCost); err != nil {
			logger.WithError(err).Error("settlement: failed to debit wallet")
		}
	}
	if s.Notifier != nil {
		err := s.Notifier.Notify(ctx, models.Notification{
			UserID: *sess.UserID,
			Kind:   models.NotifyChargeCompleted,
			Title:  "Charge completed",
			Body:   fmt.Sprintf("%s kWh delivered, total %s %s", sess.KwhConsumed, sess.TotalCost, sess.Currency),
			Data: map[string]any{
				"sessionId": sess.SessionID,
				"kwh":       sess.KwhConsumed.String(),
				"total":     sess.TotalCost.String(),
			},
			CreatedAt: clock.Now().UTC(),
		})
		if err != nil {
			logger.WithError(err).Error("settlement: failed to notify user")
		}
	}
}

func (s *SettlementService) getSession(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := bounded(ctx, s.Timeout)
	defer cancel()

	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
