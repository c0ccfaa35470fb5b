package main

import (
	"context"
	"errors"
	"sync"
	"time"
)

// This file contains mocks definitions needed to perform unit tests.

// MockClocker implements a fake Clocker.
type MockClocker struct {
	MockNow time.Time
}

// NewMockClocker returns a mocked instance with fixed time.
func NewMockClocker() *MockClocker {
	return &MockClocker{time.Date(2023, 0o7, 0o2, 0o0, 0o0, 0o0, 0o00000000, time.UTC)}
}

// Now returns an already defined time to be used as mock. This
// equals to `Sun, 02 Jul 2023 00:00:00 UTC` in time.RFC1123 format.
func (mck *MockClocker) Now() time.Time {
	return mck.MockNow
}

// MockUIDHandler implements a fake UIDHandler.
type MockUIDHandler struct {
	MockedUID string
	Valid     bool
}

// NewMockUIDHandler returns a mocked instance with predictable id.
func NewMockUIDHandler(id string, valid bool) *MockUIDHandler {
	return &MockUIDHandler{MockedUID: id, Valid: valid}
}

// Generate constructs a predictable id to be used as mock.
func (muid *MockUIDHandler) Generate(prefix string) string {
	return prefix + ":" + muid.MockedUID
}

// IsValid mocks IsValid behavior by providing configured status.
func (muid *MockUIDHandler) IsValid(_, _ string) bool {
	return muid.Valid
}

var errMockSave = errors.New("mock: disk full")

// MockCatalogStorage keeps the encoded document in memory. Setting FailSave
// makes every write fail after the mutation ran.
type MockCatalogStorage struct {
	mu       sync.Mutex
	data     []byte
	FailSave bool
	LoadErr  error
}

// NewMockCatalogStorage returns a storage holding the given catalog.
func NewMockCatalogStorage(c *Catalog) *MockCatalogStorage {
	ms := &MockCatalogStorage{}
	if c != nil {
		data, err := EncodeCatalog(c)
		if err != nil {
			panic(err)
		}
		ms.data = data
	}
	return ms
}

func (ms *MockCatalogStorage) Load(_ context.Context) (*Catalog, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.LoadErr != nil {
		return nil, ms.LoadErr
	}
	return DecodeCatalog(ms.data)
}

func (ms *MockCatalogStorage) Update(_ context.Context, fn func(*Catalog) error) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	c, err := DecodeCatalog(ms.data)
	if err != nil {
		return err
	}
	if err = fn(c); err != nil {
		return err
	}
	if ms.FailSave {
		return errMockSave
	}
	data, err := EncodeCatalog(c)
	if err != nil {
		return err
	}
	ms.data = data
	return nil
}

func (ms *MockCatalogStorage) Save(_ context.Context, c *Catalog) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.FailSave {
		return errMockSave
	}
	data, err := EncodeCatalog(c)
	if err != nil {
		return err
	}
	ms.data = data
	return nil
}

func (ms *MockCatalogStorage) Close() error {
	return nil
}

// MockQueue records pushed snapshots and serves them back on Pop.
type MockQueue struct {
	mu      sync.Mutex
	Pushed  []*Catalog
	PushErr error
	items   chan *Catalog
}

func NewMockQueue() *MockQueue {
	return &MockQueue{items: make(chan *Catalog, 16)}
}

func (mq *MockQueue) Push(_ context.Context, _ string, c *Catalog) error {
	if mq.PushErr != nil {
		return mq.PushErr
	}
	mq.mu.Lock()
	mq.Pushed = append(mq.Pushed, c)
	mq.mu.Unlock()
	mq.items <- c
	return nil
}

func (mq *MockQueue) Pop(ctx context.Context, qids ...string) (string, *Catalog, error) {
	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case c := <-mq.items:
		return qids[0], c, nil
	}
}

func (mq *MockQueue) count() int {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return len(mq.Pushed)
}

// MockCatalogService implements CatalogServiceProvider with function fields.
type MockCatalogService struct {
	ListAvailableFunc func(ctx context.Context) (map[string]BookEntry, error)
	ListBooksFunc     func(ctx context.Context) (map[string]BookEntry, error)
	ListAllLoansFunc  func(ctx context.Context) ([]LoanView, error)
	FilterLoansFunc   func(ctx context.Context, userSubstring string, overdueOnly bool) ([]LoanView, error)
	LoansForUserFunc  func(ctx context.Context, user string) ([]LoanView, error)
	IssueFunc         func(ctx context.Context, user, title string) (LoanView, error)
	ReturnFunc        func(ctx context.Context, transactionID string) (LoanView, error)
	AddBookFunc       func(ctx context.Context, title string, copies int) (BookEntry, error)
	SummaryFunc       func(ctx context.Context) (Summary, error)
}

func (m *MockCatalogService) ListAvailable(ctx context.Context) (map[string]BookEntry, error) {
	return m.ListAvailableFunc(ctx)
}

func (m *MockCatalogService) ListBooks(ctx context.Context) (map[string]BookEntry, error) {
	return m.ListBooksFunc(ctx)
}

func (m *MockCatalogService) ListAllLoans(ctx context.Context) ([]LoanView, error) {
	return m.ListAllLoansFunc(ctx)
}

func (m *MockCatalogService) FilterLoans(ctx context.Context, userSubstring string, overdueOnly bool) ([]LoanView, error) {
	return m.FilterLoansFunc(ctx, userSubstring, overdueOnly)
}

func (m *MockCatalogService) LoansForUser(ctx context.Context, user string) ([]LoanView, error) {
	return m.LoansForUserFunc(ctx, user)
}

func (m *MockCatalogService) Issue(ctx context.Context, user, title string) (LoanView, error) {
	return m.IssueFunc(ctx, user, title)
}

func (m *MockCatalogService) Return(ctx context.Context, transactionID string) (LoanView, error) {
	return m.ReturnFunc(ctx, transactionID)
}

func (m *MockCatalogService) AddBook(ctx context.Context, title string, copies int) (BookEntry, error) {
	return m.AddBookFunc(ctx, title, copies)
}

func (m *MockCatalogService) Summary(ctx context.Context) (Summary, error) {
	return m.SummaryFunc(ctx)
}

func (m *MockCatalogService) Seed(_ context.Context, _ map[string]int) (bool, error) {
	return false, nil
}

func (m *MockCatalogService) BorrowWindowDays() int {
	return DefaultBorrowWindowDays
}

// MockVerifier accepts a single username/password pair.
type MockVerifier struct {
	Username string
	Password string
	Admin    bool
}

func (mv *MockVerifier) Verify(username, password string) (Identity, error) {
	if username != mv.Username || password != mv.Password {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{Username: username, Admin: mv.Admin}, nil
}
