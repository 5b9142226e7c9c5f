// Package simulator runs demo charging sessions without a physical station.
// Simulated sessions settle through the same engine path as real ones.
package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/michalkurzeja/go-clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/billing"
	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/services"
)

var (
	ErrAlreadyActive   = errors.New("simulated session already active")
	ErrNotDemoAccount  = errors.New("account is not enabled for simulation")
	ErrNoActiveSession = errors.New("no active simulated session")
	ErrInvalidRequest  = errors.New("invalid simulation request")
	ErrClosed          = errors.New("simulator is shutting down")
)

type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhasePreparing  Phase = "preparing"
	PhaseCharging   Phase = "charging"
	PhaseFinishing  Phase = "finishing"
	PhaseCompleted  Phase = "completed"
)

type Mode string

const (
	ModeFixedAmount Mode = "fixed_amount"
	ModePercentage  Mode = "percentage"
	ModeFullCharge  Mode = "full_charge"
)

// Engine is the part of the charging service a simulation drives.
type Engine interface {
	StartSession(ctx context.Context, req services.StartRequest) (*models.Session, error)
	Meter(ctx context.Context, r services.MeterReading) (services.MeterUpdate, error)
	StopSession(ctx context.Context, req services.StopRequest) (*models.Session, error)
}

type TariffLookup interface {
	ActiveTariff(ctx context.Context, stationID string) (*models.Tariff, error)
}

type ConnectorLookup interface {
	GetByNumber(ctx context.Context, stationID string, number int) (*models.Connector, error)
}

type Config struct {
	ConnectingDelay time.Duration
	PreparingDelay  time.Duration
	Tick            time.Duration
	// Acceleration scales simulated time against wall time.
	Acceleration int64
	// Jitter is the maximum relative deviation applied to each tick.
	Jitter       decimal.Decimal
	BatteryKwh   decimal.Decimal
	AssumedSoC   decimal.Decimal
	MinKwh       decimal.Decimal
	MaxKwh       decimal.Decimal
	DefaultPower decimal.Decimal
	// Grace keeps completed sessions visible to pollers.
	Grace        time.Duration
	DemoAccounts []string
}

func DefaultConfig() Config {
	return Config{
		ConnectingDelay: 3 * time.Second,
		PreparingDelay:  3 * time.Second,
		Tick:            2 * time.Second,
		Acceleration:    60,
		Jitter:          decimal.MustNew("0.1"),
		BatteryKwh:      decimal.MustNew("60"),
		AssumedSoC:      decimal.MustNew("20"),
		MinKwh:          decimal.MustNew("2"),
		MaxKwh:          decimal.MustNew("15"),
		DefaultPower:    decimal.MustNew("7.4"),
		Grace:           30 * time.Second,
	}
}

type StartRequest struct {
	UserID          string          `json:"userId" validate:"required"`
	StationID       string          `json:"stationId" validate:"required"`
	ConnectorNumber int             `json:"connectorNumber" validate:"gt=0"`
	Mode            Mode            `json:"mode" validate:"required,oneof=fixed_amount percentage full_charge"`
	Amount          decimal.Decimal `json:"amount"`
	TargetPercent   decimal.Decimal `json:"targetPercent"`
}

// Session is a snapshot of one simulation.
type Session struct {
	UserID          string          `json:"userId"`
	SessionID       string          `json:"sessionId"`
	StationID       string          `json:"stationId"`
	ConnectorNumber int             `json:"connectorNumber"`
	Mode            Mode            `json:"mode"`
	Phase           Phase           `json:"phase"`
	TargetKwh       decimal.Decimal `json:"targetKwh"`
	RealTargetKwh   decimal.Decimal `json:"realTargetKwh"`
	DeliveredKwh    decimal.Decimal `json:"deliveredKwh"`
	PowerKw         decimal.Decimal `json:"powerKw"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	Result          *models.Session `json:"result,omitempty"`
}

// Event is published on every phase transition.
type Event struct {
	UserID    string          `json:"userId"`
	SessionID string          `json:"sessionId"`
	Phase     Phase           `json:"phase"`
	At        time.Time       `json:"at"`
	Result    *models.Session `json:"result,omitempty"`
}

type Simulator struct {
	engine     Engine
	tariffs    TariffLookup
	connectors ConnectorLookup
	cfg        Config
	demo       map[string]bool

	// jitter returns a value in [-1, 1].
	jitter func() float64

	mu      sync.Mutex
	runs    map[string]*run
	events  chan Event
	closing bool
	wg      sync.WaitGroup
}

type run struct {
	mu      sync.Mutex
	state   Session
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func New(engine Engine, tariffs TariffLookup, connectors ConnectorLookup, cfg Config) *Simulator {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.Acceleration <= 0 {
		cfg.Acceleration = def.Acceleration
	}
	if cfg.BatteryKwh.IsZero() {
		cfg.BatteryKwh = def.BatteryKwh
	}
	if cfg.MaxKwh.IsZero() {
		cfg.MinKwh, cfg.MaxKwh = def.MinKwh, def.MaxKwh
	}
	if cfg.DefaultPower.IsZero() {
		cfg.DefaultPower = def.DefaultPower
	}

	demo := make(map[string]bool, len(cfg.DemoAccounts))
	for _, id := range cfg.DemoAccounts {
		demo[id] = true
	}
	return &Simulator{
		engine:     engine,
		tariffs:    tariffs,
		connectors: connectors,
		cfg:        cfg,
		demo:       demo,
		jitter:     func() float64 { return rand.Float64()*2 - 1 },
		runs:       make(map[string]*run),
		events:     make(chan Event, 64),
	}
}

// SetJitter replaces the per-tick jitter source.
func (s *Simulator) SetJitter(f func() float64) { s.jitter = f }

// Events delivers phase transitions. Events are dropped when nobody reads.
func (s *Simulator) Events() <-chan Event { return s.events }

// Targets computes the demo target and the requested energy for a request.
func Targets(cfg Config, mode Mode, amount, targetPercent, pricePerKwh decimal.Decimal) (target, requested decimal.Decimal, err error) {
	hundred := decimal.FromInt64(100)
	switch mode {
	case ModeFixedAmount:
		if amount.Sign() <= 0 || pricePerKwh.Sign() <= 0 {
			return target, requested, errors.Wrap(ErrInvalidRequest, "fixed amount needs a positive amount and energy price")
		}
		requested = amount.Div(pricePerKwh)
	case ModePercentage:
		if targetPercent.Cmp(cfg.AssumedSoC) <= 0 || targetPercent.Cmp(hundred) > 0 {
			return target, requested, errors.Wrapf(ErrInvalidRequest, "target percent must be above %s and at most 100", cfg.AssumedSoC)
		}
		requested = targetPercent.Sub(cfg.AssumedSoC).Div(hundred).Mul(cfg.BatteryKwh)
	case ModeFullCharge:
		requested = hundred.Sub(cfg.AssumedSoC).Div(hundred).Mul(cfg.BatteryKwh)
	default:
		return target, requested, errors.Wrapf(ErrInvalidRequest, "unknown mode %q", mode)
	}
	target = decimal.Min(decimal.Max(requested, cfg.MinKwh), cfg.MaxKwh)
	return target, requested, nil
}

// Start opens a session through the engine and runs it in the background.
func (s *Simulator) Start(ctx context.Context, req StartRequest) (Session, error) {
	if !s.demo[req.UserID] {
		return Session{}, ErrNotDemoAccount
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return Session{}, ErrClosed
	}
	if r, ok := s.runs[req.UserID]; ok && r.snapshot().Phase != PhaseCompleted {
		s.mu.Unlock()
		return Session{}, ErrAlreadyActive
	}
	// Reserve the slot while the engine call is in flight.
	reserved := &run{state: Session{UserID: req.UserID, Phase: PhaseConnecting}, done: make(chan struct{})}
	s.runs[req.UserID] = reserved
	s.mu.Unlock()

	state, err := s.open(ctx, req)
	if err != nil {
		s.mu.Lock()
		if s.runs[req.UserID] == reserved {
			delete(s.runs, req.UserID)
		}
		s.mu.Unlock()
		return Session{}, err
	}

	rctx, cancel := context.WithCancel(context.Background())
	reserved.mu.Lock()
	reserved.state = state
	reserved.cancel = cancel
	reserved.mu.Unlock()

	s.wg.Add(1)
	go s.loop(rctx, reserved)

	s.publish(reserved.snapshot(), nil)
	return state, nil
}

func (s *Simulator) open(ctx context.Context, req StartRequest) (Session, error) {
	tariff, err := s.tariffs.ActiveTariff(ctx, req.StationID)
	if err != nil {
		return Session{}, err
	}
	target, requested, err := Targets(s.cfg, req.Mode, req.Amount, req.TargetPercent, tariff.PricePerKwh)
	if err != nil {
		return Session{}, err
	}

	power := s.cfg.DefaultPower
	if c, err := s.connectors.GetByNumber(ctx, req.StationID, req.ConnectorNumber); err == nil && c != nil && c.PowerKw.Sign() > 0 {
		power = c.PowerKw
	}

	now := clock.Now().UTC()
	sess, err := s.engine.StartSession(ctx, services.StartRequest{
		StationID:       req.StationID,
		ConnectorNumber: req.ConnectorNumber,
		UserID:          req.UserID,
		Timestamp:       now,
		TransactionRef:  "sim",
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "open simulated session")
	}

	return Session{
		UserID:          req.UserID,
		SessionID:       sess.SessionID,
		StationID:       req.StationID,
		ConnectorNumber: req.ConnectorNumber,
		Mode:            req.Mode,
		Phase:           PhaseConnecting,
		TargetKwh:       target,
		RealTargetKwh:   requested,
		DeliveredKwh:    decimal.Zero(),
		PowerKw:         power,
		StartedAt:       now,
	}, nil
}

// Get returns the user's current or recently completed simulation.
func (s *Simulator) Get(userID string) (Session, bool) {
	s.mu.Lock()
	r, ok := s.runs[userID]
	s.mu.Unlock()
	if !ok || !r.started() {
		return Session{}, false
	}
	return r.snapshot(), true
}

// Stop ends the user's simulation early and settles what was delivered. The
// run's goroutine exits before the final state is read.
func (s *Simulator) Stop(userID string) (Session, error) {
	s.mu.Lock()
	r, ok := s.runs[userID]
	s.mu.Unlock()
	if !ok || !r.started() {
		return Session{}, ErrNoActiveSession
	}

	// Only the first stop waits for settlement; later ones see a finished run.
	r.mu.Lock()
	if r.stopped || r.state.Phase == PhaseCompleted {
		r.mu.Unlock()
		return Session{}, ErrNoActiveSession
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	<-r.done
	return r.snapshot(), nil
}

// Close cancels every run without settling. Sessions left IN_PROGRESS are
// reconciled by an operator like any orphaned session.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.closing = true
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		if r.started() {
			r.cancel()
		}
	}
	s.wg.Wait()
}

func (s *Simulator) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// started reports whether the engine accepted the session and the loop runs.
func (r *run) started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *run) snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.state
	if out.Result != nil {
		res := *out.Result
		out.Result = &res
	}
	return out
}

func (r *run) setPhase(p Phase) {
	r.mu.Lock()
	r.state.Phase = p
	r.mu.Unlock()
}

func (s *Simulator) publish(st Session, result *models.Session) {
	ev := Event{UserID: st.UserID, SessionID: st.SessionID, Phase: st.Phase, At: clock.Now().UTC(), Result: result}
	select {
	case s.events <- ev:
	default:
		log.WithField("user", st.UserID).WithField("phase", st.Phase).Debug("simulator: event dropped, no reader")
	}
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Simulator) loop(ctx context.Context, r *run) {
	defer s.wg.Done()
	defer close(r.done)

	logger := log.WithField("user", r.snapshot().UserID).WithField("session", r.snapshot().SessionID)

	if wait(ctx, s.cfg.ConnectingDelay) {
		r.setPhase(PhasePreparing)
		s.publish(r.snapshot(), nil)
		if wait(ctx, s.cfg.PreparingDelay) {
			r.setPhase(PhaseCharging)
			s.publish(r.snapshot(), nil)
			s.charge(ctx, r, logger)
		}
	}

	if s.isClosing() {
		logger.Info("simulator: shutting down, session left for reconciliation")
		return
	}
	s.finish(r, logger)
}

// charge accrues energy each tick until the target is reached or ctx ends.
func (s *Simulator) charge(ctx context.Context, r *run, logger *log.Entry) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	st := r.snapshot()
	// Energy per tick at rated power: kW × tick hours × acceleration.
	tickHours := decimal.FromFloat(s.cfg.Tick.Hours())
	base := st.PowerKw.Mul(tickHours).Mul(decimal.FromInt64(s.cfg.Acceleration))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		factor := decimal.FromInt64(1).Add(s.cfg.Jitter.Mul(decimal.FromFloat(s.jitter())))
		delta := base.Mul(factor)

		r.mu.Lock()
		delivered := r.state.DeliveredKwh.Add(delta)
		reached := !delivered.LessThan(r.state.TargetKwh)
		if reached {
			delivered = r.state.TargetKwh
		}
		r.state.DeliveredKwh = delivered
		snap := r.state
		r.mu.Unlock()

		_, err := s.engine.Meter(context.Background(), services.MeterReading{
			SessionID: snap.SessionID,
			MeterWh:   billing.KwhToWh(realKwh(snap)),
			Timestamp: clock.Now().UTC(),
		})
		if err != nil {
			logger.WithError(err).Warn("simulator: meter update failed")
		}
		if reached {
			return
		}
	}
}

// realKwh scales delivered demo energy to the requested energy.
func realKwh(st Session) decimal.Decimal {
	if !st.DeliveredKwh.LessThan(st.TargetKwh) {
		return st.RealTargetKwh
	}
	if st.TargetKwh.IsZero() {
		return decimal.Zero()
	}
	return st.RealTargetKwh.Mul(st.DeliveredKwh).Div(st.TargetKwh)
}

func (s *Simulator) finish(r *run, logger *log.Entry) {
	r.setPhase(PhaseFinishing)
	s.publish(r.snapshot(), nil)

	st := r.snapshot()
	meterStop := billing.KwhToWh(realKwh(st))
	reason := "EVDisconnected"
	r.mu.Lock()
	if r.stopped {
		reason = "Remote"
	}
	r.mu.Unlock()

	result, err := s.engine.StopSession(context.Background(), services.StopRequest{
		SessionID:   st.SessionID,
		MeterStopWh: &meterStop,
		Timestamp:   clock.Now().UTC(),
		Reason:      reason,
	})
	if err != nil {
		logger.WithError(err).Error("simulator: settlement failed")
	}

	now := clock.Now().UTC()
	r.mu.Lock()
	r.state.Phase = PhaseCompleted
	r.state.CompletedAt = &now
	r.state.Result = result
	r.mu.Unlock()
	s.publish(r.snapshot(), result)
	logger.WithField("reason", reason).Info("simulator: session completed")

	time.AfterFunc(s.cfg.Grace, func() { s.purge(st.UserID, r) })
}

func (s *Simulator) purge(userID string, r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[userID] == r {
		delete(s.runs, userID)
	}
}
