package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/geowatch/geowatch/internal/model"
	"github.com/geowatch/geowatch/internal/provider"
	"github.com/geowatch/geowatch/internal/store"
)

var validGeometry = json.RawMessage(`{"type":"Polygon","coordinates":[[[77,12],[77.01,12],[77.01,12.01],[77,12.01],[77,12]]]}`)

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	zones   map[string]*model.Zone
	users   map[string]*model.User
	changes map[string]*model.ChangeRecord // key zoneID|epoch
	ndvi    map[string][]model.NDVIDataPoint

	listErr        error
	getZoneErr     error
	markCheckedErr error
	listPanics     bool
	listBlock      time.Duration
	listCalls      atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		zones:   make(map[string]*model.Zone),
		users:   make(map[string]*model.User),
		changes: make(map[string]*model.ChangeRecord),
		ndvi:    make(map[string][]model.NDVIDataPoint),
	}
}

func changeKey(zoneID string, epoch time.Time) string {
	return zoneID + "|" + epoch.UTC().Format(time.RFC3339)
}

func (f *fakeStore) CreateZone(_ context.Context, zone *model.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if zone.ID == "" {
		zone.ID = uuid.NewString()
	}
	cp := *zone
	f.zones[zone.ID] = &cp
	return nil
}

func (f *fakeStore) GetZone(_ context.Context, id string) (*model.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getZoneErr != nil {
		return nil, f.getZoneErr
	}
	zone, ok := f.zones[id]
	if !ok {
		return nil, store.ErrZoneNotFound
	}
	cp := *zone
	return &cp, nil
}

func (f *fakeStore) ListZones(_ context.Context, filter store.ZoneFilter) ([]model.Zone, error) {
	f.listCalls.Add(1)
	if f.listBlock > 0 {
		time.Sleep(f.listBlock)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listPanics {
		panic("store exploded")
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Zone
	for _, zone := range f.zones {
		if filter.Status != "" && zone.Status != filter.Status {
			continue
		}
		out = append(out, *zone)
	}
	return out, nil
}

func (f *fakeStore) MarkZoneChecked(_ context.Context, id string, checkedAt time.Time, changeDetected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markCheckedErr != nil {
		return f.markCheckedErr
	}
	zone, ok := f.zones[id]
	if !ok {
		return store.ErrZoneNotFound
	}
	if zone.LastCheckedAt == nil || !zone.LastCheckedAt.After(checkedAt) {
		t := checkedAt.UTC()
		zone.LastCheckedAt = &t
		if changeDetected {
			zone.TotalChangesDetected++
		}
	}
	return nil
}

func (f *fakeStore) SetZoneStatus(_ context.Context, id string, status model.ZoneStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	zone, ok := f.zones[id]
	if !ok {
		return store.ErrZoneNotFound
	}
	zone.Status = status
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (f *fakeStore) CreateChangeRecord(_ context.Context, rec *model.ChangeRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := changeKey(rec.ZoneID, rec.Epoch)
	if _, exists := f.changes[key]; exists {
		return false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	cp := *rec
	f.changes[key] = &cp
	return true, nil
}

func (f *fakeStore) GetChangeByZoneEpoch(_ context.Context, zoneID string, epoch time.Time) (*model.ChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.changes[changeKey(zoneID, epoch)]
	if !ok {
		return nil, store.ErrChangeNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) MarkChangeNotified(_ context.Context, recordID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.changes {
		if rec.ID == recordID {
			rec.Notified = true
			t := at.UTC()
			rec.NotifiedAt = &t
			return nil
		}
	}
	return store.ErrChangeNotFound
}

func (f *fakeStore) ListChangesByZone(_ context.Context, zoneID string, _ int) ([]model.ChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChangeRecord
	for _, rec := range f.changes {
		if rec.ZoneID == zoneID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeStore) ReplaceNDVISeries(_ context.Context, zoneID string, points []model.NDVIDataPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ndvi[zoneID] = append([]model.NDVIDataPoint(nil), points...)
	return nil
}

func (f *fakeStore) ListNDVISeries(_ context.Context, zoneID string) ([]model.NDVIDataPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.NDVIDataPoint(nil), f.ndvi[zoneID]...), nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

func (f *fakeStore) changeCount(zoneID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.changes {
		if rec.ZoneID == zoneID {
			n++
		}
	}
	return n
}

// seedActiveZone inserts a user and an active, never-checked zone.
func seedActiveZone(f *fakeStore) *model.Zone {
	user := &model.User{ID: "u1", Email: "owner@example.com", Name: "Owner"}
	_ = f.CreateUser(context.Background(), user)
	zone := &model.Zone{
		ID:                  "z1",
		OwnerID:             user.ID,
		Name:                "North Field",
		Geometry:            validGeometry,
		ChangeType:          "vegetation",
		Frequency:           model.FrequencyWeekly,
		ConfidenceThreshold: 60,
		EmailAlerts:         true,
		InAppAlerts:         true,
		Status:              model.ZoneStatusActive,
	}
	_ = f.CreateZone(context.Background(), zone)
	return zone
}

// fakeProvider returns a scripted sequence of results. Once the script is
// exhausted the last entry repeats.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	results []fakeResult
}

type fakeResult struct {
	area  float64
	err   error
	block time.Duration // sleeps without watching ctx, like a stuck client
}

func (p *fakeProvider) ComputeChange(context.Context, json.RawMessage, provider.DateRange, provider.DateRange) (*provider.ChangeResult, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	r := p.results[idx]
	p.mu.Unlock()
	if r.block > 0 {
		time.Sleep(r.block)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &provider.ChangeResult{
		ChangeAreaM2: r.area,
		BeforeImage:  &model.ImageParams{Collection: "COPERNICUS/S2_SR_HARMONIZED"},
	}, nil
}

func (p *fakeProvider) QueryTimeseries(context.Context, json.RawMessage, time.Time, time.Time, time.Duration) ([]model.NDVIDataPoint, error) {
	return nil, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// countingNotifier records deliveries and can fail the first n attempts.
type countingNotifier struct {
	mu        sync.Mutex
	attempts  int
	delivered int
	failFirst int
	failWith  error
}

func (n *countingNotifier) Notify(_ context.Context, _ *model.User, _ *model.Zone, _ *model.ChangeRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.attempts <= n.failFirst {
		if n.failWith != nil {
			return n.failWith
		}
		return fmt.Errorf("gateway unavailable: i/o timeout")
	}
	n.delivered++
	return nil
}

func (n *countingNotifier) counts() (attempts, delivered int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts, n.delivered
}
