package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
)

type idemKey struct {
	userID uuid.UUID
	key    string
}

// MockStore is a hand-written, in-memory implementation of every repository
// interface, used in unit tests. Publish transactions buffer their writes and
// apply them on commit; an idempotency key inserted by an uncommitted
// transaction is reported to other transactions as domain.ErrConflict, the
// way PostgreSQL reports an expired lock wait.
type MockStore struct {
	mu sync.Mutex

	subscribers map[uuid.UUID]*domain.Subscriber
	subOrder    []uuid.UUID
	issues      map[uuid.UUID]*domain.Issue
	tasks       map[domain.TaskKey]*domain.DeliveryTask
	taskOrder   []domain.TaskKey
	records     map[idemKey]*domain.IdempotencyRecord
	inFlight    map[idemKey]*mockPublishTx
	users       map[string]mockUser
	history     map[domain.TaskKey][]domain.TaskStatus
	now         time.Time

	// Optional error overrides: set in tests to simulate failure paths.
	InsertIssueErr  error
	EnqueueErr      error
	SaveResponseErr error
	ClaimErr        error
	LoadDeliveryErr error
	ResolveErr      error
	PingErr         error

	// BeforeCommit, when set, runs inside WithinPublishTx after fn succeeded
	// and before the writes become visible. Tests use it to hold a
	// transaction open.
	BeforeCommit func()
}

type mockUser struct {
	id   uuid.UUID
	hash string
}

func NewMockStore() *MockStore {
	return &MockStore{
		subscribers: make(map[uuid.UUID]*domain.Subscriber),
		issues:      make(map[uuid.UUID]*domain.Issue),
		tasks:       make(map[domain.TaskKey]*domain.DeliveryTask),
		records:     make(map[idemKey]*domain.IdempotencyRecord),
		inFlight:    make(map[idemKey]*mockPublishTx),
		users:       make(map[string]mockUser),
		history:     make(map[domain.TaskKey][]domain.TaskStatus),
		now:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var (
	_ PublishRepository  = (*MockStore)(nil)
	_ DeliveryRepository = (*MockStore)(nil)
	_ IssueRepository    = (*MockStore)(nil)
	_ UserRepository     = (*MockStore)(nil)
)

// Ping reports PingErr.
func (m *MockStore) Ping(context.Context) error { return m.PingErr }

// ---- test helpers ----

// Now returns the mock clock.
func (m *MockStore) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward.
func (m *MockStore) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *MockStore) AddSubscriber(email string, status domain.SubscriberStatus) *domain.Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &domain.Subscriber{
		ID:           uuid.New(),
		Email:        email,
		Name:         email,
		Status:       status,
		SubscribedAt: m.now,
	}
	m.subscribers[s.ID] = s
	m.subOrder = append(m.subOrder, s.ID)
	return s
}

// SetSubscriberEmail simulates the subscriber changing address.
func (m *MockStore) SetSubscriberEmail(id uuid.UUID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subscribers[id]; ok {
		s.Email = email
	}
}

func (m *MockStore) AddUser(username string, id uuid.UUID, passwordHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = mockUser{id: id, hash: passwordHash}
}

func (m *MockStore) Issues() []*domain.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Issue, 0, len(m.issues))
	for _, i := range m.issues {
		clone := *i
		out = append(out, &clone)
	}
	return out
}

func (m *MockStore) Tasks() []*domain.DeliveryTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.DeliveryTask, 0, len(m.taskOrder))
	for _, k := range m.taskOrder {
		clone := *m.tasks[k]
		out = append(out, &clone)
	}
	return out
}

func (m *MockStore) Task(key domain.TaskKey) (*domain.DeliveryTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[key]
	if !ok {
		return nil, false
	}
	clone := *t
	return &clone, true
}

// History returns every status written to the task, starting with the
// status it was enqueued with.
func (m *MockStore) History(key domain.TaskKey) []domain.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TaskStatus(nil), m.history[key]...)
}

func (m *MockStore) Record(userID uuid.UUID, key string) (*domain.IdempotencyRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[idemKey{userID, key}]
	if !ok {
		return nil, false
	}
	clone := *r
	return &clone, true
}

// ---- publish path ----

func (m *MockStore) WithinPublishTx(ctx context.Context, fn func(tx PublishTx) error) error {
	tx := &mockPublishTx{m: m, records: make(map[idemKey]*domain.IdempotencyRecord)}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if m.BeforeCommit != nil {
		m.BeforeCommit()
	}
	tx.commit()
	return nil
}

type mockPublishTx struct {
	m       *MockStore
	owned   []idemKey
	records map[idemKey]*domain.IdempotencyRecord
	issues  []*domain.Issue
	tasks   []*domain.DeliveryTask
}

func (t *mockPublishTx) InsertIdempotencyKey(_ context.Context, userID uuid.UUID, key string) (bool, error) {
	k := idemKey{userID, key}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if _, ok := t.m.records[k]; ok {
		return false, nil
	}
	if owner, ok := t.m.inFlight[k]; ok {
		if owner == t {
			return false, nil
		}
		return false, domain.ErrConflict
	}
	t.m.inFlight[k] = t
	t.owned = append(t.owned, k)
	t.records[k] = &domain.IdempotencyRecord{UserID: userID, Key: key, CreatedAt: t.m.now}
	return true, nil
}

func (t *mockPublishTx) GetIdempotencyRecord(_ context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	k := idemKey{userID, key}
	if r, ok := t.records[k]; ok {
		clone := *r
		return &clone, nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	r, ok := t.m.records[k]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (t *mockPublishTx) SaveIdempotencyResponse(_ context.Context, userID uuid.UUID, key string, resp *domain.StoredResponse, issueID *uuid.UUID) error {
	if t.m.SaveResponseErr != nil {
		return t.m.SaveResponseErr
	}
	r, ok := t.records[idemKey{userID, key}]
	if !ok || r.Response != nil {
		return domain.ErrNotFound
	}
	stored := *resp
	stored.Body = append([]byte(nil), resp.Body...)
	r.Response = &stored
	r.IssueID = issueID
	return nil
}

func (t *mockPublishTx) InsertIssue(_ context.Context, issue *domain.Issue) error {
	if t.m.InsertIssueErr != nil {
		return t.m.InsertIssueErr
	}
	clone := *issue
	t.issues = append(t.issues, &clone)
	return nil
}

func (t *mockPublishTx) EnqueueDeliveries(_ context.Context, issueID uuid.UUID) (int, error) {
	if t.m.EnqueueErr != nil {
		return 0, t.m.EnqueueErr
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	n := 0
	for _, id := range t.m.subOrder {
		if t.m.subscribers[id].Status != domain.SubscriberConfirmed {
			continue
		}
		t.tasks = append(t.tasks, &domain.DeliveryTask{
			IssueID:      issueID,
			SubscriberID: id,
			Status:       domain.TaskPending,
		})
		n++
	}
	return n, nil
}

func (t *mockPublishTx) commit() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, i := range t.issues {
		t.m.issues[i.ID] = i
	}
	for _, task := range t.tasks {
		k := task.Key()
		t.m.tasks[k] = task
		t.m.taskOrder = append(t.m.taskOrder, k)
		t.m.history[k] = []domain.TaskStatus{task.Status}
	}
	for k, r := range t.records {
		t.m.records[k] = r
	}
	t.release()
}

func (t *mockPublishTx) rollback() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.release()
}

// release must be called with t.m.mu held.
func (t *mockPublishTx) release() {
	for _, k := range t.owned {
		delete(t.m.inFlight, k)
	}
}

// ---- delivery worker ----

func (m *MockStore) ClaimNext(_ context.Context, lease time.Duration) (*domain.DeliveryTask, error) {
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.DeliveryTask
	for _, k := range m.taskOrder {
		t := m.tasks[k]
		if t.Status == domain.TaskPending && (t.LastAttempt == nil || !t.LastAttempt.After(m.now)) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil, ErrQueueEmpty
	}

	// last_attempt ASC NULLS FIRST; stable keeps enqueue order among equals.
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastAttempt, due[j].LastAttempt
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})

	t := due[0]
	until := m.now.Add(lease)
	t.LastAttempt = &until
	clone := *t
	return &clone, nil
}

func (m *MockStore) LoadDelivery(_ context.Context, key domain.TaskKey) (*domain.Delivery, error) {
	if m.LoadDeliveryErr != nil {
		return nil, m.LoadDeliveryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	s, ok := m.subscribers[key.SubscriberID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	i, ok := m.issues[key.IssueID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Delivery{
		Key:         key,
		RetryCount:  t.RetryCount,
		Email:       s.Email,
		Title:       i.Title,
		HTMLContent: i.HTMLContent,
		TextContent: i.TextContent,
	}, nil
}

func (m *MockStore) MarkSucceeded(_ context.Context, key domain.TaskKey) error {
	return m.resolve(key, func(t *domain.DeliveryTask) {
		t.Status = domain.TaskSucceeded
		t.LastError = nil
	})
}

func (m *MockStore) ScheduleRetry(_ context.Context, key domain.TaskKey, retryCount int, delay time.Duration, errMsg string) error {
	return m.resolve(key, func(t *domain.DeliveryTask) {
		next := m.now.Add(delay)
		t.RetryCount = retryCount
		t.LastAttempt = &next
		t.LastError = &errMsg
	})
}

func (m *MockStore) MarkFailed(_ context.Context, key domain.TaskKey, retryCount int, errMsg string) error {
	return m.resolve(key, func(t *domain.DeliveryTask) {
		t.Status = domain.TaskFailed
		t.RetryCount = retryCount
		t.LastError = &errMsg
	})
}

func (m *MockStore) resolve(key domain.TaskKey, apply func(t *domain.DeliveryTask)) error {
	if m.ResolveErr != nil {
		return m.ResolveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[key]
	if !ok || t.Status != domain.TaskPending {
		return domain.ErrNotFound
	}
	apply(t)
	m.history[key] = append(m.history[key], t.Status)
	return nil
}

func (m *MockStore) CountByStatus(_ context.Context) (domain.DeliveryCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c domain.DeliveryCounts
	for _, t := range m.tasks {
		addCount(&c, t.Status, 1)
	}
	return c, nil
}

// ---- inspection ----

func (m *MockStore) GetIssueReport(_ context.Context, id uuid.UUID) (*domain.IssueReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.issues[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var c domain.DeliveryCounts
	for k, t := range m.tasks {
		if k.IssueID == id {
			addCount(&c, t.Status, 1)
		}
	}
	clone := *i
	return &domain.IssueReport{Issue: &clone, Deliveries: c}, nil
}

func (m *MockStore) GetCredentials(_ context.Context, username string) (uuid.UUID, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return uuid.Nil, "", domain.ErrNotFound
	}
	return u.id, u.hash, nil
}
