package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/michalkurzeja/go-clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/billing"
	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
)

const ConnectorOccupied = "Occupied"

type AuthStatus string

const (
	AuthAccepted AuthStatus = "Accepted"
	AuthBlocked  AuthStatus = "Blocked"
	AuthInvalid  AuthStatus = "Invalid"
)

type AuthResult struct {
	Status    AuthStatus
	ExpiresAt *time.Time
	User      *models.User
}

type BootResult struct {
	Accepted bool
	Station  *models.Station
}

type StartRequest struct {
	// SessionID may be preassigned by the caller; a new one is generated otherwise.
	SessionID       string
	StationID       string
	ConnectorNumber int
	IDTag           string
	// UserID bypasses tag resolution for callers that already know the user.
	UserID       string
	MeterStartWh int64
	// MeterStartUnknown is set when the station reported no start reading;
	// MeterStartWh is then ignored.
	MeterStartUnknown bool
	Timestamp         time.Time
	TransactionRef    string
}

type MeterReading struct {
	SessionID string
	MeterWh   int64
	// BaselineWh is the earliest energy sample of the same message. It becomes
	// the start reading of a session opened without one.
	BaselineWh *int64
	Timestamp  time.Time
}

type MeterUpdate struct {
	RunningKwh  decimal.Decimal
	RunningCost decimal.Decimal
	LowBalance  bool
	Depleted    bool
}

type ChargingConfig struct {
	AuthValidity time.Duration
	// FallbackUserID bills sessions started with an unknown tag. Empty leaves
	// them without a billing account.
	FallbackUserID string
	// LowBalanceRatio is the share of running cost below which the wallet
	// balance counts as low.
	LowBalanceRatio decimal.Decimal
	Timeout         time.Duration
}

// ChargingService drives the session lifecycle for both protocol dialects and
// the simulator.
type ChargingService struct {
	Stations   StationStore
	Connectors ConnectorStore
	Users      UserStore
	Wallets    WalletStore
	Sessions   SessionStore
	Notifier   Notifier
	Pricing    *PricingService
	Settlement *SettlementService
	Cfg        ChargingConfig

	mu       sync.Mutex
	balances map[string]balanceFlags
}

type balanceFlags struct {
	low      bool
	depleted bool
}

func NewChargingService(
	stations StationStore,
	connectors ConnectorStore,
	users UserStore,
	wallets WalletStore,
	sessions SessionStore,
	notifier Notifier,
	pricing *PricingService,
	settlement *SettlementService,
	cfg ChargingConfig,
) *ChargingService {
	if cfg.AuthValidity <= 0 {
		cfg.AuthValidity = 24 * time.Hour
	}
	if cfg.LowBalanceRatio.IsZero() {
		cfg.LowBalanceRatio = decimal.MustNew("0.2")
	}
	return &ChargingService{
		Stations:   stations,
		Connectors: connectors,
		Users:      users,
		Wallets:    wallets,
		Sessions:   sessions,
		Notifier:   notifier,
		Pricing:    pricing,
		Settlement: settlement,
		Cfg:        cfg,
		balances:   make(map[string]balanceFlags),
	}
}

// Boot accepts known, active stations and records what they report.
func (s *ChargingService) Boot(ctx context.Context, identity string, info models.BootInfo, version string) (BootResult, error) {
	ctx, cancel := bounded(ctx, s.Cfg.Timeout)
	defer cancel()

	st, err := s.Stations.GetByIdentity(ctx, identity)
	if err != nil {
		// Do not lock a station out because storage is down.
		return BootResult{Accepted: true}, errors.Wrap(err, "resolve station")
	}
	if st == nil || !st.IsActive {
		return BootResult{Accepted: false, Station: st}, nil
	}

	if err := s.Stations.UpdateBootInfo(ctx, st.StationID, info, version); err != nil {
		log.WithError(err).WithField("identity", identity).Error("boot: failed to store boot info")
	}
	if err := s.Stations.TouchLastSeen(ctx, st.StationID, clock.Now().UTC()); err != nil {
		log.WithError(err).WithField("identity", identity).Error("boot: failed to touch last seen")
	}
	return BootResult{Accepted: true, Station: st}, nil
}

// Heartbeat refreshes the persisted last-seen time.
func (s *ChargingService) Heartbeat(ctx context.Context, stationID string) error {
	if stationID == "" {
		return nil
	}
	ctx, cancel := bounded(ctx, s.Cfg.Timeout)
	defer cancel()
	return s.Stations.TouchLastSeen(ctx, stationID, clock.Now().UTC())
}

func (s *ChargingService) Authorize(ctx context.Context, tag string) (AuthResult, error) {
	if tag == "" {
		return AuthResult{Status: AuthInvalid}, nil
	}
	ctx, cancel := bounded(ctx, s.Cfg.Timeout)
	defer cancel()

	u, err := s.Users.GetByTag(ctx, tag)
	if err != nil {
		return AuthResult{Status: AuthInvalid}, errors.Wrap(err, "resolve user by tag")
	}
	switch {
	case u == nil:
		return AuthResult{Status: AuthInvalid}, nil
	case !u.IsActive:
		return AuthResult{Status: AuthBlocked, User: u}, nil
	default:
		expires := clock.Now().UTC().Add(s.Cfg.AuthValidity)
		return AuthResult{Status: AuthAccepted, ExpiresAt: &expires, User: u}, nil
	}
}

// StatusReported persists a connector status report.
func (s *ChargingService) StatusReported(ctx context.Context, stationID string, connector int, status, errorCode string) error {
	if stationID == "" {
		return ErrStationUnknown
	}
	ctx, cancel := bounded(ctx, s.Cfg.Timeout)
	defer cancel()
	return s.Connectors.UpdateStatus(ctx, stationID, connector, status, errorCode)
}

// StartSession opens an IN_PROGRESS session on a connector.
func (s *ChargingService) StartSession(ctx context.Context, req StartRequest) (*models.Session, error) {
	if req.StationID == "" {
		return nil, ErrStationUnknown
	}
	logger := log.WithField("station", req.StationID).WithField("connector", req.ConnectorNumber)

	cctx, cancel := bounded(ctx, s.Cfg.Timeout)
	defer cancel()

	conn, err := s.Connectors.GetByNumber(cctx, req.StationID, req.ConnectorNumber)
	if err != nil {
		return nil, errors.Wrap(err, "resolve connector")
	}
	if conn == nil {
		return nil, ErrConnectorNotFound
	}

	userID, resolved, err := s.resolveUser(cctx, req)
	if err != nil {
		return nil, err
	}

	tariff, err := s.Pricing.ActiveTariff(ctx, req.StationID)
	if err != nil {
		return nil, err
	}

	start := req.Timestamp
	if start.IsZero() {
		start = clock.Now().UTC()
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	sess := models.Session{
		SessionID:       id,
		StationID:       req.StationID,
		ConnectorID:     conn.ConnectorID,
		ConnectorNumber: req.ConnectorNumber,
		IDTag:           req.IDTag,
		TariffID:        tariff.TariffID,
		TransactionRef:  req.TransactionRef,
		StartTime:       start,
		MeterStartWh:    req.MeterStartWh,
		LastMeterWh:     req.MeterStartWh,
		Currency:        tariff.Currency,
		Status:          models.SessionInProgress,
	}
	if req.MeterStartUnknown {
		sess.MeterStartWh, sess.LastMeterWh = 0, 0
		sess.MeterStartPending = true
		logger.Warn("charging: no start reading, waiting for the first sample")
	}
	if userID != "" {
		sess.UserID = &userID
	}

	if err := s.Sessions.Create(cctx, sess); err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	logger.WithField("session", id).Info("charging: session started")

	if err := s.Connectors.UpdateStatus(cctx, req.StationID, req.ConnectorNumber, ConnectorOccupied, ""); err != nil {
		logger.WithError(err).Error("charging: failed to mark connector occupied")
	}

	if resolved && s.Notifier != nil {
		err := s.Notifier.Notify(cctx, models.Notification{
			UserID:    userID,
			Kind:      models.NotifyChargeStarted,
			Title:     "Charge started",
			Body:      fmt.Sprintf("Charging started on connector %d", req.ConnectorNumber),
			Data:      map[string]any{"sessionId": id, "stationId": req.StationID},
			CreatedAt: clock.Now().UTC(),
		})
		if err != nil {
			logger.WithError(err).Error("charging: failed to send start notification")
		}
	}
	return &sess, nil
}

// resolveUser returns the billed user id and whether it belongs to the tag
// holder rather than the fallback account.
func (s *ChargingService) resolveUser(ctx context.Context, req StartRequest) (string, bool, error) {
	if req.UserID != "" {
		return req.UserID, true, nil
	}
	if req.IDTag != "" {
		u, err := s.Users.GetByTag(ctx, req.IDTag)
		if err != nil {
			log.WithError(err).WithField("tag", req.IDTag).Error("charging: failed to resolve user, billing fallback")
		} else if u != nil {
			if !u.IsActive {
				return "", false, ErrUserBlocked
			}
			return u.UserID, true, nil
		}
	}
	return s.Cfg.FallbackUserID, false, nil
}

// Meter updates the running totals of an in-progress session and emits balance
// warnings once per session.
func (s *ChargingService) Meter(ctx context.Context, r MeterReading) (MeterUpdate, error) {
	ctx, cancel := bounded(ctx, s.Cfg.Timeout)
	defer cancel()

	sess, err := s.Sessions.Get(ctx, r.SessionID)
	if err != nil {
		return MeterUpdate{}, errors.Wrap(err, "load session")
	}
	if sess == nil {
		return MeterUpdate{}, ErrSessionNotFound
	}
	if sess.Status != models.SessionInProgress {
		return MeterUpdate{}, ErrSessionCompleted
	}

	if sess.MeterStartPending {
		s.baseline(ctx, sess, r)
	}

	meter := r.MeterWh
	if meter < sess.MeterStartWh {
		meter = sess.MeterStartWh
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = clock.Now().UTC()
	}

	tariff := s.Pricing.RunningTariff(ctx, sess.TariffID)
	kwh, _ := billing.EnergyKwh(sess.MeterStartWh, meter)
	cost := s.Pricing.RunningCost(tariff, kwh, ts.Sub(sess.StartTime))

	if err := s.Sessions.UpdateRunning(ctx, sess.SessionID, meter, kwh, cost); err != nil {
		log.WithError(err).WithField("session", sess.SessionID).Error("charging: failed to persist running totals")
	}

	upd := MeterUpdate{RunningKwh: kwh, RunningCost: cost}
	if sess.UserID == nil || s.Wallets == nil {
		return upd, nil
	}

	balance, err := s.Wallets.Balance(ctx, *sess.UserID)
	if err != nil {
		log.WithError(err).WithField("session", sess.SessionID).Error("charging: failed to read wallet balance")
		return upd, nil
	}
	upd.Depleted = balance.Sign() <= 0
	upd.LowBalance = !upd.Depleted && balance.LessThan(cost.Mul(s.Cfg.LowBalanceRatio))

	s.balanceAlerts(ctx, sess, balance, upd)
	return upd, nil
}

// baseline adopts the first sample of a session opened without a start
// reading. A failed write leaves the start pending for the next reading, and
// this reading is then priced from its own baseline.
func (s *ChargingService) baseline(ctx context.Context, sess *models.Session, r MeterReading) {
	start := r.MeterWh
	if r.BaselineWh != nil && *r.BaselineWh < start {
		start = *r.BaselineWh
	}
	logger := log.WithField("session", sess.SessionID).WithField("meterStart", start)

	ok, err := s.Sessions.SetMeterStart(ctx, sess.SessionID, start)
	switch {
	case err != nil:
		logger.WithError(err).Error("charging: failed to record start reading")
	case ok:
		logger.Info("charging: start reading taken from first sample")
	}
	sess.MeterStartWh, sess.MeterStartPending = start, false
}

func (s *ChargingService) balanceAlerts(ctx context.Context, sess *models.Session, balance decimal.Decimal, upd MeterUpdate) {
	if !upd.LowBalance && !upd.Depleted {
		return
	}

	s.mu.Lock()
	flags := s.balances[sess.SessionID]
	var kind models.NotificationKind
	switch {
	case upd.Depleted && !flags.depleted:
		flags.depleted = true
		kind = models.NotifyBalanceDepleted
	case upd.LowBalance && !flags.low:
		flags.low = true
		kind = models.NotifyLowBalance
	}
	s.balances[sess.SessionID] = flags
	s.mu.Unlock()

	if kind == "" || s.Notifier == nil {
		return
	}
	title := "Low balance"
	if kind == models.NotifyBalanceDepleted {
		title = "Balance depleted"
	}
	err := s.Notifier.Notify(ctx, models.Notification{
		UserID: *sess.UserID,
		Kind:   kind,
		Title:  title,
		Body:   fmt.Sprintf("Balance %s against running cost %s", balance, upd.RunningCost.Round(2)),
		Data: map[string]any{
			"sessionId":   sess.SessionID,
			"balance":     balance.String(),
			"runningCost": upd.RunningCost.Round(2).String(),
		},
		CreatedAt: clock.Now().UTC(),
	})
	if err != nil {
		log.WithError(err).WithField("session", sess.SessionID).Error("charging: failed to send balance notification")
	}
}

// StopSession settles a session through the shared settlement path.
func (s *ChargingService) StopSession(ctx context.Context, req StopRequest) (*models.Session, error) {
	sess, err := s.Settlement.Settle(ctx, req)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.balances, req.SessionID)
	s.mu.Unlock()
	return sess, nil
}

// OpenSessions lists the IN_PROGRESS sessions of a station, oldest first.
// Operators reconcile the ones a lost connection left behind.
func (s *ChargingService) OpenSessions(ctx context.Context, stationID string) ([]models.Session, error) {
	ctx, cancel := bounded(ctx, s.Cfg.Timeout)
	defer cancel()

	items, err := s.Sessions.ListInProgress(ctx, stationID)
	if err != nil {
		return nil, errors.Wrap(err, "list open sessions")
	}
	return items, nil
}

// Session returns a stored session.
func (s *ChargingService) Session(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := bounded(ctx, s.Cfg.Timeout)
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
