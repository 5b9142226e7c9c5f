// Package fakes holds in-memory collaborators for tests.
// Not suitable for production use.
package fakes

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
)

type Stations struct {
	mu    sync.RWMutex
	items map[string]models.Station
	Err   error
}

func NewStations(items ...models.Station) *Stations {
	f := &Stations{items: make(map[string]models.Station)}
	for _, s := range items {
		f.items[s.Identity] = s
	}
	return f
}

func (f *Stations) GetByIdentity(_ context.Context, identity string) (*models.Station, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s, ok := f.items[identity]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *Stations) GetByID(_ context.Context, stationID string) (*models.Station, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, s := range f.items {
		if s.StationID == stationID {
			return &s, nil
		}
	}
	return nil, nil
}

func (f *Stations) UpdateBootInfo(_ context.Context, stationID string, info models.BootInfo, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, s := range f.items {
		if s.StationID == stationID {
			s.Vendor, s.Model = info.Vendor, info.Model
			s.SerialNumber, s.FirmwareVersion = info.SerialNumber, info.FirmwareVersion
			s.OcppVersion = version
			f.items[k] = s
		}
	}
	return nil
}

func (f *Stations) TouchLastSeen(_ context.Context, stationID string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, s := range f.items {
		if s.StationID == stationID {
			ts := t
			s.LastSeenAt = &ts
			f.items[k] = s
		}
	}
	return nil
}

type Connectors struct {
	mu    sync.RWMutex
	items map[string]models.Connector
}

func connectorKey(stationID string, number int) string {
	return stationID + "#" + strconv.Itoa(number)
}

func NewConnectors(items ...models.Connector) *Connectors {
	f := &Connectors{items: make(map[string]models.Connector)}
	for _, c := range items {
		f.items[connectorKey(c.StationID, c.Number)] = c
	}
	return f
}

func (f *Connectors) GetByNumber(_ context.Context, stationID string, number int) (*models.Connector, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.items[connectorKey(stationID, number)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *Connectors) UpdateStatus(_ context.Context, stationID string, number int, status, errorCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := connectorKey(stationID, number)
	c, ok := f.items[k]
	if !ok {
		c = models.Connector{ConnectorID: k, StationID: stationID, Number: number}
	}
	c.Status, c.ErrorCode = status, errorCode
	f.items[k] = c
	return nil
}

func (f *Connectors) Status(stationID string, number int) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.items[connectorKey(stationID, number)].Status
}

type Users struct {
	mu    sync.RWMutex
	items map[string]models.User
}

func NewUsers(items ...models.User) *Users {
	f := &Users{items: make(map[string]models.User)}
	for _, u := range items {
		f.items[u.IDTag] = u
	}
	return f
}

func (f *Users) GetByTag(_ context.Context, tag string) (*models.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.items[tag]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type Wallets struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	debits   map[string]decimal.Decimal
}

func NewWallets() *Wallets {
	return &Wallets{balances: make(map[string]decimal.Decimal), debits: make(map[string]decimal.Decimal)}
}

func (f *Wallets) Set(userID string, balance decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] = balance
}

func (f *Wallets) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.balances[userID], nil
}

func (f *Wallets) Debit(_ context.Context, userID, sessionID string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.debits[sessionID]; ok {
		return nil
	}
	f.debits[sessionID] = amount
	f.balances[userID] = f.balances[userID].Sub(amount)
	return nil
}

type Tariffs struct {
	mu    sync.RWMutex
	items map[string]models.Tariff
	// GetErr fails Get only, leaving station tariff resolution working.
	GetErr error
}

func (f *Tariffs) SetGetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetErr = err
}

func NewTariffs(items ...models.Tariff) *Tariffs {
	f := &Tariffs{items: make(map[string]models.Tariff)}
	for _, t := range items {
		f.items[t.TariffID] = t
	}
	return f
}

func (f *Tariffs) GetActiveForStation(_ context.Context, stationID string) (*models.Tariff, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, t := range f.items {
		if t.StationID == stationID && t.IsActive {
			return &t, nil
		}
	}
	return nil, nil
}

func (f *Tariffs) Get(_ context.Context, tariffID string) (*models.Tariff, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	t, ok := f.items[tariffID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

type Sessions struct {
	mu        sync.RWMutex
	items     map[string]models.Session
	Finalized int
}

func NewSessions() *Sessions {
	return &Sessions{items: make(map[string]models.Session)}
}

func (f *Sessions) Create(_ context.Context, s models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[s.SessionID]; ok {
		return errors.New("duplicate session")
	}
	f.items[s.SessionID] = s
	return nil
}

func (f *Sessions) Get(_ context.Context, sessionID string) (*models.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.items[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *Sessions) UpdateRunning(_ context.Context, sessionID string, meterWh int64, kwh, cost decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[sessionID]
	if !ok || s.Status != models.SessionInProgress {
		return nil
	}
	s.LastMeterWh, s.RunningKwh, s.RunningCost = meterWh, kwh, cost
	f.items[sessionID] = s
	return nil
}

func (f *Sessions) SetMeterStart(_ context.Context, sessionID string, meterWh int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[sessionID]
	if !ok || s.Status != models.SessionInProgress || !s.MeterStartPending {
		return false, nil
	}
	s.MeterStartWh, s.MeterStartPending = meterWh, false
	if s.LastMeterWh < meterWh {
		s.LastMeterWh = meterWh
	}
	f.items[sessionID] = s
	return true, nil
}

func (f *Sessions) ListInProgress(_ context.Context, stationID string) ([]models.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []models.Session
	for _, s := range f.items {
		if s.StationID == stationID && s.Status == models.SessionInProgress {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *Sessions) Finalize(_ context.Context, s models.Session) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.items[s.SessionID]
	if !ok || cur.Status != models.SessionInProgress {
		return false, nil
	}
	f.items[s.SessionID] = s
	f.Finalized++
	return true, nil
}

func (f *Sessions) All() []models.Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.Session, 0, len(f.items))
	for _, s := range f.items {
		out = append(out, s)
	}
	return out
}

type RevenueShare struct {
	mu    sync.Mutex
	Share *models.RevenueShare
	Err   error
}

func (f *RevenueShare) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

func (f *RevenueShare) Get(context.Context) (*models.RevenueShare, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Share, nil
}

type Earnings struct {
	mu      sync.Mutex
	Credits map[string]decimal.Decimal
}

func NewEarnings() *Earnings {
	return &Earnings{Credits: make(map[string]decimal.Decimal)}
}

func (f *Earnings) Credit(_ context.Context, _, sessionID string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Credits[sessionID]; ok {
		return nil
	}
	f.Credits[sessionID] = amount
	return nil
}

func (f *Earnings) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Credits)
}

type Notifier struct {
	mu   sync.Mutex
	sent []models.Notification
	Err  error
}

func (f *Notifier) Notify(_ context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *Notifier) Sent() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.sent...)
}

func (f *Notifier) Kinds() []models.NotificationKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.NotificationKind, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Kind)
	}
	return out
}

type AlertStore struct {
	mu     sync.Mutex
	alerts []models.Alert
	Err    error
}

func (f *AlertStore) SaveAlert(_ context.Context, a models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *AlertStore) ListAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > len(f.alerts) {
		limit = len(f.alerts)
	}
	return append([]models.Alert(nil), f.alerts[len(f.alerts)-limit:]...), nil
}

func (f *AlertStore) Alerts() []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Alert(nil), f.alerts...)
}

type MessageLog struct {
	mu       sync.Mutex
	messages []models.MessageLog
}

func (f *MessageLog) SaveMessage(_ context.Context, m models.MessageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return nil
}

func (f *MessageLog) Messages() []models.MessageLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MessageLog(nil), f.messages...)
}
