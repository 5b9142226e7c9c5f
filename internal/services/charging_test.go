package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/services"
	"github.com/zdex/evcpms/internal/test/fakes"
)

type env struct {
	stations   *fakes.Stations
	connectors *fakes.Connectors
	users      *fakes.Users
	wallets    *fakes.Wallets
	tariffs    *fakes.Tariffs
	shares     *fakes.RevenueShare
	sessions   *fakes.Sessions
	earnings   *fakes.Earnings
	notifier   *fakes.Notifier
	charging   *services.ChargingService
}

func newEnv(t *testing.T, fallbackUser string) *env {
	t.Helper()

	e := &env{
		stations: fakes.NewStations(
			models.Station{StationID: "st-1", Identity: "CP-1", OwnerID: "owner-1", IsActive: true},
			models.Station{StationID: "st-2", Identity: "CP-2", IsActive: false},
		),
		connectors: fakes.NewConnectors(
			models.Connector{ConnectorID: "c-1", StationID: "st-1", Number: 1, PowerKw: decimal.MustNew("22")},
		),
		users: fakes.NewUsers(
			models.User{UserID: "u-1", IDTag: "TAG-OK", IsActive: true},
			models.User{UserID: "u-2", IDTag: "TAG-BLOCKED", IsActive: false},
		),
		wallets: fakes.NewWallets(),
		tariffs: fakes.NewTariffs(
			models.Tariff{TariffID: "t-1", StationID: "st-1", PricePerKwh: decimal.MustNew("800"), Currency: "COP", IsActive: true},
		),
		sessions: fakes.NewSessions(),
		earnings: fakes.NewEarnings(),
		notifier: &fakes.Notifier{},
	}
	e.wallets.Set("u-1", decimal.MustNew("100000"))
	e.shares = &fakes.RevenueShare{Share: &models.RevenueShare{InvestorPercent: decimal.MustNew("70")}}

	pricing := services.NewPricingService(e.tariffs, e.shares, decimal.MustNew("70"), time.Second)
	settlement := services.NewSettlementService(e.sessions, e.stations, e.connectors, e.earnings, e.wallets, e.notifier, pricing, time.Second)
	e.charging = services.NewChargingService(e.stations, e.connectors, e.users, e.wallets, e.sessions, e.notifier, pricing, settlement, services.ChargingConfig{
		AuthValidity:   time.Hour,
		FallbackUserID: fallbackUser,
		Timeout:        time.Second,
	})
	return e
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		tag        string
		want       services.AuthStatus
		wantExpiry bool
	}{
		{name: "active user is accepted", tag: "TAG-OK", want: services.AuthAccepted, wantExpiry: true},
		{name: "deactivated user is blocked", tag: "TAG-BLOCKED", want: services.AuthBlocked},
		{name: "unknown tag is invalid", tag: "TAG-NOPE", want: services.AuthInvalid},
		{name: "empty tag is invalid", tag: "", want: services.AuthInvalid},
	}

	e := newEnv(t, "")
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := e.charging.Authorize(context.Background(), tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.wantExpiry, res.ExpiresAt != nil)
		})
	}
}

func TestBoot(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "")
	ctx := context.Background()

	res, err := e.charging.Boot(ctx, "CP-1", models.BootInfo{Vendor: "ABB", Model: "Terra"}, "ocpp1.6")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.NotNil(t, res.Station)
	assert.Equal(t, "st-1", res.Station.StationID)

	st, _ := e.stations.GetByIdentity(ctx, "CP-1")
	assert.Equal(t, "ABB", st.Vendor)
	assert.NotNil(t, st.LastSeenAt)

	res, err = e.charging.Boot(ctx, "CP-2", models.BootInfo{}, "ocpp1.6")
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	res, err = e.charging.Boot(ctx, "CP-unknown", models.BootInfo{}, "ocpp1.6")
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	e.stations.Err = errors.New("db down")
	res, err = e.charging.Boot(ctx, "CP-1", models.BootInfo{}, "ocpp1.6")
	require.Error(t, err)
	assert.True(t, res.Accepted)
}

func TestStartAndStopSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "")
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	sess, err := e.charging.StartSession(ctx, services.StartRequest{
		StationID:       "st-1",
		ConnectorNumber: 1,
		IDTag:           "TAG-OK",
		MeterStartWh:    1000,
		Timestamp:       start,
	})
	require.NoError(t, err)
	require.NotNil(t, sess.UserID)
	assert.Equal(t, "u-1", *sess.UserID)
	assert.Equal(t, models.SessionInProgress, sess.Status)
	assert.Equal(t, "t-1", sess.TariffID)
	assert.Equal(t, services.ConnectorOccupied, e.connectors.Status("st-1", 1))

	stop := int64(5000)
	done, err := e.charging.StopSession(ctx, services.StopRequest{
		SessionID:   sess.SessionID,
		MeterStopWh: &stop,
		Timestamp:   start.Add(45 * time.Minute),
		Reason:      "Local",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SessionCompleted, done.Status)
	assert.True(t, done.KwhConsumed.Equal(decimal.MustNew("4")), "kwh %s", done.KwhConsumed)
	assert.True(t, done.EnergyCost.Equal(decimal.MustNew("3200")), "energy %s", done.EnergyCost)
	assert.True(t, done.TotalCost.Equal(done.EnergyCost.Add(done.TimeCost).Add(done.SessionFee)))
	assert.True(t, done.InvestorShare.Equal(decimal.MustNew("2240")))
	assert.True(t, done.PlatformFee.Equal(decimal.MustNew("960")))
	require.NotNil(t, done.MeterEndWh)
	assert.GreaterOrEqual(t, *done.MeterEndWh, done.MeterStartWh)

	assert.Equal(t, services.ConnectorAvailable, e.connectors.Status("st-1", 1))
	assert.True(t, e.earnings.Credits[sess.SessionID].Equal(decimal.MustNew("2240")))

	balance, _ := e.wallets.Balance(ctx, "u-1")
	assert.True(t, balance.Equal(decimal.MustNew("96800")), "balance %s", balance)

	assert.Equal(t, []models.NotificationKind{models.NotifyChargeStarted, models.NotifyChargeCompleted}, e.notifier.Kinds())
}

func TestStopCompletedSessionIsRejected(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "")
	ctx := context.Background()

	sess, err := e.charging.StartSession(ctx, services.StartRequest{StationID: "st-1", ConnectorNumber: 1, IDTag: "TAG-OK", MeterStartWh: 0})
	require.NoError(t, err)

	stop := int64(2000)
	first, err := e.charging.StopSession(ctx, services.StopRequest{SessionID: sess.SessionID, MeterStopWh: &stop})
	require.NoError(t, err)

	other := int64(9000)
	_, err = e.charging.StopSession(ctx, services.StopRequest{SessionID: sess.SessionID, MeterStopWh: &other})
	assert.ErrorIs(t, err, services.ErrSessionCompleted)

	stored, err := e.sessions.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.TotalCost.Equal(first.TotalCost))
	assert.Equal(t, stop, *stored.MeterEndWh)
	assert.Equal(t, 1, e.sessions.Finalized)
	assert.Equal(t, 1, e.earnings.Count())
}

func TestStopWithPricingUnavailableStaysOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		fail  func(e *env)
		reset func(e *env)
	}{
		{
			name:  "tariff lookup fails",
			fail:  func(e *env) { e.tariffs.SetGetErr(errors.New("db timeout")) },
			reset: func(e *env) { e.tariffs.SetGetErr(nil) },
		},
		{
			name:  "revenue share read fails",
			fail:  func(e *env) { e.shares.SetErr(errors.New("db timeout")) },
			reset: func(e *env) { e.shares.SetErr(nil) },
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t, "")
			ctx := context.Background()

			sess, err := e.charging.StartSession(ctx, services.StartRequest{StationID: "st-1", ConnectorNumber: 1, IDTag: "TAG-OK", MeterStartWh: 1000})
			require.NoError(t, err)

			tt.fail(e)
			stop := int64(5000)
			_, err = e.charging.StopSession(ctx, services.StopRequest{SessionID: sess.SessionID, MeterStopWh: &stop})
			require.Error(t, err)
			assert.NotErrorIs(t, err, services.ErrSessionCompleted)

			stored, _ := e.sessions.Get(ctx, sess.SessionID)
			assert.Equal(t, models.SessionInProgress, stored.Status)
			assert.Zero(t, e.sessions.Finalized)
			assert.Zero(t, e.earnings.Count())

			// The station retries once the store is back.
			tt.reset(e)
			done, err := e.charging.StopSession(ctx, services.StopRequest{SessionID: sess.SessionID, MeterStopWh: &stop})
			require.NoError(t, err)
			assert.True(t, done.EnergyCost.Equal(decimal.MustNew("3200")), "energy %s", done.EnergyCost)
			assert.True(t, done.InvestorShare.Equal(decimal.MustNew("2240")), "investor %s", done.InvestorShare)
		})
	}
}

func TestMeterPricesAtZeroWhileTariffUnavailable(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "")
	ctx := context.Background()

	sess, err := e.charging.StartSession(ctx, services.StartRequest{StationID: "st-1", ConnectorNumber: 1, IDTag: "TAG-OK"})
	require.NoError(t, err)

	e.tariffs.SetGetErr(errors.New("db timeout"))
	upd, err := e.charging.Meter(ctx, services.MeterReading{SessionID: sess.SessionID, MeterWh: 2000})
	require.NoError(t, err)
	assert.True(t, upd.RunningKwh.Equal(decimal.MustNew("2")))
	assert.True(t, upd.RunningCost.IsZero())
}

func TestStartWithoutMeterReading(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "")
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	sess, err := e.charging.StartSession(ctx, services.StartRequest{
		StationID: "st-1", ConnectorNumber: 1, IDTag: "TAG-OK", MeterStartWh: 777, MeterStartUnknown: true, Timestamp: start,
	})
	require.NoError(t, err)
	assert.True(t, sess.MeterStartPending)
	assert.Zero(t, sess.MeterStartWh)

	base := int64(1200000)
	upd, err := e.charging.Meter(ctx, services.MeterReading{SessionID: sess.SessionID, MeterWh: 1201000, BaselineWh: &base, Timestamp: start.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, upd.RunningKwh.Equal(decimal.MustNew("1")), "running %s", upd.RunningKwh)

	// Later baselines never move the recorded start.
	later := int64(1201000)
	_, err = e.charging.Meter(ctx, services.MeterReading{SessionID: sess.SessionID, MeterWh: 1202000, BaselineWh: &later})
	require.NoError(t, err)

	stop := int64(1204000)
	done, err := e.charging.StopSession(ctx, services.StopRequest{SessionID: sess.SessionID, MeterStopWh: &stop, Timestamp: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, base, done.MeterStartWh)
	assert.True(t, done.KwhConsumed.Equal(decimal.MustNew("4")), "kwh %s", done.KwhConsumed)
	assert.True(t, done.EnergyCost.Equal(decimal.MustNew("3200")))
}

func TestConcurrentStopsSettleOnce(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "")
	ctx := context.Background()

	sess, err := e.charging.StartSession(ctx, services.StartRequest{StationID: "st-1", ConnectorNumber: 1, IDTag: "TAG-OK"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop := int64(3000)
			if _, err := e.charging.StopSession(ctx, services.StopRequest{SessionID: sess.SessionID, MeterStopWh: &stop}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, e.sessions.Finalized)
}

func TestStartSessionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     services.StartRequest
		wantErr error
	}{
		{name: "unknown station", req: services.StartRequest{ConnectorNumber: 1}, wantErr: services.ErrStationUnknown},
		{name: "unknown connector", req: services.StartRequest{StationID: "st-1", ConnectorNumber: 7}, wantErr: services.ErrConnectorNotFound},
		{name: "blocked user", req: services.StartRequest{StationID: "st-1", ConnectorNumber: 1, IDTag: "TAG-BLOCKED"}, wantErr: services.ErrUserBlocked},
	}

	e := newEnv(t, "")
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := e.charging.StartSession(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("no active tariff", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, "")
		e.connectors = fakes.NewConnectors(models.Connector{StationID: "st-9", Number: 1})
		e.charging.Connectors = e.connectors
		_, err := e.charging.StartSession(context.Background(), services.StartRequest{StationID: "st-9", ConnectorNumber: 1})
		assert.ErrorIs(t, err, services.ErrNoActiveTariff)
	})
}

func TestAnonymousSessions(t *testing.T) {
	t.Parallel()

	t.Run("billed to fallback account without notification", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, "fallback-user")
		sess, err := e.charging.StartSession(context.Background(), services.StartRequest{StationID: "st-1", ConnectorNumber: 1, IDTag: "TAG-UNKNOWN"})
		require.NoError(t, err)
		require.NotNil(t, sess.UserID)
		assert.Equal(t, "fallback-user", *sess.UserID)
		assert.Empty(t, e.notifier.Sent())
	})

	t.Run("no fallback leaves session unbilled", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, "")
		sess, err := e.charging.StartSession(context.Background(), services.StartRequest{StationID: "st-1", ConnectorNumber: 1})
		require.NoError(t, err)
		assert.Nil(t, sess.UserID)
	})
}

func TestMeterBalanceAlerts(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "")
	ctx := context.Background()
	e.wallets.Set("u-1", decimal.MustNew("1000"))
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	sess, err := e.charging.StartSession(ctx, services.StartRequest{
		StationID: "st-1", ConnectorNumber: 1, IDTag: "TAG-OK", MeterStartWh: 0, Timestamp: start,
	})
	require.NoError(t, err)

	// 1 kWh at 800: 20% of 800 is 160, balance 1000 is fine.
	upd, err := e.charging.Meter(ctx, services.MeterReading{SessionID: sess.SessionID, MeterWh: 1000, Timestamp: start.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, upd.RunningCost.Equal(decimal.MustNew("800")))
	assert.False(t, upd.LowBalance)

	// 7 kWh: 5600 running, 20% is 1120 > 1000.
	upd, err = e.charging.Meter(ctx, services.MeterReading{SessionID: sess.SessionID, MeterWh: 7000, Timestamp: start.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, upd.LowBalance)

	_, err = e.charging.Meter(ctx, services.MeterReading{SessionID: sess.SessionID, MeterWh: 8000, Timestamp: start.Add(3 * time.Minute)})
	require.NoError(t, err)

	e.wallets.Set("u-1", decimal.Zero())
	upd, err = e.charging.Meter(ctx, services.MeterReading{SessionID: sess.SessionID, MeterWh: 9000, Timestamp: start.Add(4 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, upd.Depleted)
	_, err = e.charging.Meter(ctx, services.MeterReading{SessionID: sess.SessionID, MeterWh: 9500, Timestamp: start.Add(5 * time.Minute)})
	require.NoError(t, err)

	assert.Equal(t, []models.NotificationKind{
		models.NotifyChargeStarted,
		models.NotifyLowBalance,
		models.NotifyBalanceDepleted,
	}, e.notifier.Kinds())

	stored, _ := e.sessions.Get(ctx, sess.SessionID)
	assert.Equal(t, int64(9500), stored.LastMeterWh)
	assert.True(t, stored.TotalCost.IsZero(), "running updates never touch the final total")

	// Stop without a final reading uses the last metered value.
	done, err := e.charging.StopSession(ctx, services.StopRequest{SessionID: sess.SessionID, Timestamp: start.Add(6 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, done.KwhConsumed.Equal(decimal.MustNew("9.5")))

	_, err = e.charging.Meter(ctx, services.MeterReading{SessionID: sess.SessionID, MeterWh: 9900})
	assert.ErrorIs(t, err, services.ErrSessionCompleted)
}

func TestStopUnknownSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "")
	_, err := e.charging.StopSession(context.Background(), services.StopRequest{SessionID: "missing"})
	assert.ErrorIs(t, err, services.ErrSessionNotFound)
}
