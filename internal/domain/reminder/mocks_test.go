package reminder

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/notification"
	"github.com/clinic/clinic/internal/platform/redisindex"
)

var errBoom = errors.New("boom")

// -- Repository --

type mockRepo struct {
	mu     sync.Mutex
	rows   map[int64]*Notification
	nextID int64

	createErr     error
	createFailAt  int // fail the n-th Create (1-based); 0 disables
	creates       int
	getErr        error
	markErr       error
	listUnsentErr error
	deleted       []Target
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[int64]*Notification)}
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil && (m.createFailAt == 0 || m.creates == m.createFailAt) {
		return m.createErr
	}
	if err := n.Validate(); err != nil {
		return err
	}
	m.nextID++
	n.ID = m.nextID
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	n, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) MarkSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	n, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	n.Sent = true
	return nil
}

func sameAppointment(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *mockRepo) DeletePending(_ context.Context, t Target) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, t)
	var removed []*Notification
	for id, n := range m.rows {
		if n.UserID == t.UserID && sameAppointment(n.AppointmentID, t.AppointmentID) &&
			n.ScheduledTime.Equal(t.ScheduledTime) && n.Type == t.Kind && !n.Sent {
			cp := *n
			removed = append(removed, &cp)
			delete(m.rows, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

func (m *mockRepo) ListUnsent(_ context.Context, afterID int64, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listUnsentErr != nil {
		return nil, m.listUnsentErr
	}
	var out []*Notification
	for _, n := range m.rows {
		if !n.Sent && n.ID > afterID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) ListByUser(_ context.Context, userID int64, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.rows {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) get(id int64) *Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// -- Index --

// flakyIndex wraps the Redis index and fails selected calls.
type flakyIndex struct {
	*redisindex.Index
	addErr    error
	keysErr   error
	dueErr    error
	removeErr error
}

func (f *flakyIndex) Add(ctx context.Context, userID, notificationID int64, due time.Time) error {
	if f.addErr != nil {
		return f.addErr
	}
	return f.Index.Add(ctx, userID, notificationID, due)
}

func (f *flakyIndex) Keys(ctx context.Context) ([]string, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	return f.Index.Keys(ctx)
}

func (f *flakyIndex) Due(ctx context.Context, key string, now time.Time) ([]string, error) {
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	return f.Index.Due(ctx, key, now)
}

func (f *flakyIndex) Remove(ctx context.Context, key, member string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.Index.Remove(ctx, key, member)
}

func (f *flakyIndex) RemoveNotification(ctx context.Context, userID, notificationID int64) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.Index.RemoveNotification(ctx, userID, notificationID)
}

func newTestIndex(t *testing.T) (*flakyIndex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return &flakyIndex{Index: redisindex.New(rdb)}, mr
}

func indexedMembers(t *testing.T, mr *miniredis.Miniredis, userID int64) []string {
	t.Helper()
	key := redisindex.KeyPrefix + strconv.FormatInt(userID, 10)
	if !mr.Exists(key) {
		return nil
	}
	members, err := mr.ZMembers(key)
	if err != nil {
		t.Fatalf("zmembers %s: %v", key, err)
	}
	return members
}

// -- Delivery channels --

type pushCall struct {
	UserID  int64
	Event   string
	Payload PushPayload
}

type mockPusher struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
	// block, when set, holds every call until it is closed.
	block chan struct{}
}

func (p *mockPusher) SendToUser(ctx context.Context, userID int64, eventType string, payload any) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, _ := payload.(PushPayload)
	p.calls = append(p.calls, pushCall{UserID: userID, Event: eventType, Payload: pp})
	return p.err
}

func (p *mockPusher) Calls() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pushCall, len(p.calls))
	copy(out, p.calls)
	return out
}

type mockContacts struct {
	emails map[int64]string
	err    error
}

func (c *mockContacts) ContactEmail(_ context.Context, userID int64) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.emails[userID], nil
}

// -- Fixtures --

var testOffsets = []time.Duration{30 * time.Minute, time.Hour, 24 * time.Hour}

type fixture struct {
	now        time.Time
	repo       *mockRepo
	index      *flakyIndex
	mr         *miniredis.Miniredis
	push       *mockPusher
	mail       *notification.MockEmailSender
	contacts   *mockContacts
	scheduler  *Scheduler
	dispatcher *Dispatcher
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		repo:     newMockRepo(),
		push:     &mockPusher{},
		mail:     &notification.MockEmailSender{},
		contacts: &mockContacts{emails: map[int64]string{1: "pat@example.com"}},
	}
	f.index, f.mr = newTestIndex(t)
	logger := zerolog.Nop()

	f.scheduler = NewScheduler(f.repo, f.index, notification.NewTemplateEngine(), testOffsets, time.UTC, logger)
	f.scheduler.now = func() time.Time { return f.now }

	f.dispatcher = NewDispatcher(f.repo, f.index, f.push, f.mail, f.contacts, DispatcherConfig{
		PollInterval:    10 * time.Millisecond,
		DeliveryTimeout: time.Second,
	}, logger)
	f.dispatcher.now = func() time.Time { return f.now }

	f.reconciler = NewReconciler(f.repo, f.index, logger)
	return f
}

func (f *fixture) appointmentRequest(userID int64, target time.Time) Request {
	return f.requestFor(100, userID, target)
}

func (f *fixture) requestFor(apptID, userID int64, target time.Time) Request {
	return Request{
		UserID:        userID,
		AppointmentID: &apptID,
		Kind:          KindAppointment,
		TargetTime:    target,
		TemplateID:    notification.TemplateAppointmentReminder,
	}
}
