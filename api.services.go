package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CatalogServiceProvider is the bookkeeping contract consumed by the api.
type CatalogServiceProvider interface {
	ListAvailable(ctx context.Context) (map[string]BookEntry, error)
	ListBooks(ctx context.Context) (map[string]BookEntry, error)
	ListAllLoans(ctx context.Context) ([]LoanView, error)
	FilterLoans(ctx context.Context, userSubstring string, overdueOnly bool) ([]LoanView, error)
	LoansForUser(ctx context.Context, user string) ([]LoanView, error)
	Issue(ctx context.Context, user, title string) (LoanView, error)
	Return(ctx context.Context, transactionID string) (LoanView, error)
	AddBook(ctx context.Context, title string, copies int) (BookEntry, error)
	Summary(ctx context.Context) (Summary, error)
	Seed(ctx context.Context, inventory map[string]int) (bool, error)
	BorrowWindowDays() int
}

// CatalogService maintains the catalog invariant across all operations.
// The mutex serializes the load-mutate-save cycles of this process.
type CatalogService struct {
	mu      sync.Mutex
	logger  *zap.Logger
	clock   Clocker
	storage CatalogStorage
	queue   Queuer
	window  int
}

// NewCatalogService provides a catalog service. The queue is optional and
// receives a snapshot of the catalog after each successful mutation.
func NewCatalogService(logger *zap.Logger, config *Config, clock Clocker, storage CatalogStorage, queue Queuer) *CatalogService {
	window := DefaultBorrowWindowDays
	if config != nil && config.Library.BorrowWindowDays > 0 {
		window = config.Library.BorrowWindowDays
	}
	return &CatalogService{
		logger:  logger,
		clock:   clock,
		storage: storage,
		queue:   queue,
		window:  window,
	}
}

// BorrowWindowDays returns the number of days a loan lasts.
func (cs *CatalogService) BorrowWindowDays() int {
	return cs.window
}

func (cs *CatalogService) load(ctx context.Context) (*Catalog, error) {
	catalog, err := cs.storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load catalog: %w", ErrPersistence, err)
	}
	return catalog, nil
}

// mutate runs fn inside one atomic storage update. Errors from fn are kinds
// already and are returned as such, anything else is a persistence failure.
func (cs *CatalogService) mutate(ctx context.Context, op string, fn func(*Catalog) error) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var opErr error
	var snapshot *Catalog
	err := cs.storage.Update(ctx, func(c *Catalog) error {
		if opErr = fn(c); opErr != nil {
			return opErr
		}
		snapshot = c.Clone()
		return nil
	})
	if opErr != nil {
		return opErr
	}
	if err != nil {
		cs.logger.Error("service: failed to persist catalog", zap.String("catalog.op", op), zap.Error(err))
		return fmt.Errorf("%w: save catalog: %w", ErrPersistence, err)
	}

	if cs.queue != nil {
		if err = cs.queue.Push(ctx, SnapshotQueue, snapshot); err != nil {
			cs.logger.Error("service: failed to push snapshot to queue", zap.String("qid", SnapshotQueue), zap.Error(err))
		}
	}
	return nil
}

// ListAvailable returns every title which has at least one copy on shelf.
func (cs *CatalogService) ListAvailable(ctx context.Context) (map[string]BookEntry, error) {
	catalog, err := cs.load(ctx)
	if err != nil {
		return nil, err
	}
	available := make(map[string]BookEntry)
	for title, entry := range catalog.Books {
		if entry.AvailableCopies > 0 {
			available[title] = entry
		}
	}
	return available, nil
}

// ListBooks returns the whole inventory.
func (cs *CatalogService) ListBooks(ctx context.Context) (map[string]BookEntry, error) {
	catalog, err := cs.load(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Books, nil
}

// ListAllLoans returns active loans ordered by issue date then id.
func (cs *CatalogService) ListAllLoans(ctx context.Context) ([]LoanView, error) {
	catalog, err := cs.load(ctx)
	if err != nil {
		return nil, err
	}
	return cs.views(catalog), nil
}

func (cs *CatalogService) views(catalog *Catalog) []LoanView {
	now := cs.clock.Now()
	loans := make([]LoanView, 0, len(catalog.IssuedLoans))
	for id, loan := range catalog.IssuedLoans {
		loans = append(loans, LoanView{
			TransactionID: id,
			Loan:          loan,
			DaysRemaining: cs.daysRemaining(now, loan.DueDate),
		})
	}
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].IssueDate != loans[j].IssueDate {
			return loans[i].IssueDate < loans[j].IssueDate
		}
		return loans[i].TransactionID < loans[j].TransactionID
	})
	return loans
}

// daysRemaining counts calendar days from today to the due date. Validated
// documents always carry a parsable due date.
func (cs *CatalogService) daysRemaining(now time.Time, dueDate string) int {
	due, err := time.ParseInLocation(DueDateLayout, dueDate, now.Location())
	if err != nil {
		return 0
	}
	return DaysBetween(now, due)
}

// FilterLoans narrows ListAllLoans by a case-insensitive user substring
// and optionally to overdue loans only.
func (cs *CatalogService) FilterLoans(ctx context.Context, userSubstring string, overdueOnly bool) ([]LoanView, error) {
	loans, err := cs.ListAllLoans(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(userSubstring)
	filtered := make([]LoanView, 0, len(loans))
	for _, loan := range loans {
		if needle != "" && !strings.Contains(strings.ToLower(loan.User), needle) {
			continue
		}
		if overdueOnly && loan.DaysRemaining >= 0 {
			continue
		}
		filtered = append(filtered, loan)
	}
	return filtered, nil
}

// LoansForUser returns the loans of exactly that user with the overdue flag.
func (cs *CatalogService) LoansForUser(ctx context.Context, user string) ([]LoanView, error) {
	loans, err := cs.ListAllLoans(ctx)
	if err != nil {
		return nil, err
	}
	mine := make([]LoanView, 0)
	for _, loan := range loans {
		if loan.User != user {
			continue
		}
		overdue := loan.DaysRemaining < 0
		loan.IsOverdue = &overdue
		mine = append(mine, loan)
	}
	return mine, nil
}

// Issue lends one copy of title to user.
func (cs *CatalogService) Issue(ctx context.Context, user, title string) (LoanView, error) {
	var view LoanView
	if user == "" {
		return view, fmt.Errorf("user is required: %w", ErrInvalidInput)
	}
	if title == "" {
		return view, fmt.Errorf("title is required: %w", ErrInvalidInput)
	}

	now := cs.clock.Now()
	loan := Loan{
		User:      user,
		Book:      title,
		IssueDate: now.Format(IssueDateLayout),
		DueDate:   now.AddDate(0, 0, cs.window).Format(DueDateLayout),
	}

	err := cs.mutate(ctx, "issue", func(c *Catalog) error {
		entry, ok := c.Books[title]
		if !ok {
			return fmt.Errorf("book %q not found in catalog: %w", title, ErrNotFound)
		}
		if entry.AvailableCopies <= 0 {
			return fmt.Errorf("no copies of %q available: %w", title, ErrNoCopiesAvailable)
		}
		id := uniqueTransactionID(c, user+"_"+title+"_"+now.Format(transactionIDLayout))
		entry.AvailableCopies--
		c.Books[title] = entry
		c.IssuedLoans[id] = loan
		view.TransactionID = id
		return nil
	})
	if err != nil {
		return LoanView{}, err
	}

	view.Loan = loan
	view.DaysRemaining = cs.daysRemaining(now, loan.DueDate)
	cs.logger.Info("service: book issued",
		zap.String("catalog.book", title),
		zap.String("catalog.user", user),
		zap.String("catalog.transaction", view.TransactionID),
		zap.String("catalog.due", loan.DueDate),
	)
	return view, nil
}

// uniqueTransactionID appends a numeric disambiguator when base is taken.
func uniqueTransactionID(c *Catalog, base string) string {
	if _, taken := c.IssuedLoans[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		id := base + "-" + strconv.Itoa(n)
		if _, taken := c.IssuedLoans[id]; !taken {
			return id
		}
	}
}

// Return closes the loan identified by transactionID.
func (cs *CatalogService) Return(ctx context.Context, transactionID string) (LoanView, error) {
	var view LoanView
	err := cs.mutate(ctx, "return", func(c *Catalog) error {
		loan, ok := c.IssuedLoans[transactionID]
		if !ok {
			return fmt.Errorf("transaction %q not found: %w", transactionID, ErrNotFound)
		}
		entry, ok := c.Books[loan.Book]
		if !ok {
			return fmt.Errorf("book %q of transaction %q not found in catalog: %w", loan.Book, transactionID, ErrNotFound)
		}
		entry.AvailableCopies++
		c.Books[loan.Book] = entry
		delete(c.IssuedLoans, transactionID)
		view = LoanView{TransactionID: transactionID, Loan: loan}
		return nil
	})
	if err != nil {
		return LoanView{}, err
	}
	view.DaysRemaining = cs.daysRemaining(cs.clock.Now(), view.DueDate)
	cs.logger.Info("service: book returned",
		zap.String("catalog.book", view.Book),
		zap.String("catalog.user", view.User),
		zap.String("catalog.transaction", transactionID),
	)
	return view, nil
}

// AddBook registers a new title with the given number of copies.
func (cs *CatalogService) AddBook(ctx context.Context, title string, copies int) (BookEntry, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return BookEntry{}, fmt.Errorf("title is required: %w", ErrInvalidInput)
	}
	if copies < 1 {
		return BookEntry{}, fmt.Errorf("copies must be at least 1, got %d: %w", copies, ErrInvalidInput)
	}
	entry := BookEntry{TotalCopies: copies, AvailableCopies: copies}
	err := cs.mutate(ctx, "add", func(c *Catalog) error {
		if _, ok := c.Books[title]; ok {
			return fmt.Errorf("book %q: %w", title, ErrAlreadyExists)
		}
		c.Books[title] = entry
		return nil
	})
	if err != nil {
		return BookEntry{}, err
	}
	cs.logger.Info("service: book added", zap.String("catalog.book", title), zap.Int("catalog.copies", copies))
	return entry, nil
}

// Summary computes the dashboard counters.
func (cs *CatalogService) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	catalog, err := cs.load(ctx)
	if err != nil {
		return s, err
	}
	s.Titles = len(catalog.Books)
	for _, entry := range catalog.Books {
		s.TotalCopies += entry.TotalCopies
		s.AvailableCopies += entry.AvailableCopies
	}
	for _, loan := range cs.views(catalog) {
		s.ActiveLoans++
		if loan.DaysRemaining < 0 {
			s.OverdueLoans++
		}
	}
	return s, nil
}

// Seed installs inventory when the stored catalog has no books yet. It
// reports whether anything was written.
func (cs *CatalogService) Seed(ctx context.Context, inventory map[string]int) (bool, error) {
	var seeded bool
	err := cs.mutate(ctx, "seed", func(c *Catalog) error {
		if len(c.Books) > 0 {
			return errSeedSkipped
		}
		for title, copies := range inventory {
			if copies < 1 {
				return fmt.Errorf("seed book %q has %d copies: %w", title, copies, ErrInvalidInput)
			}
			c.Books[title] = BookEntry{TotalCopies: copies, AvailableCopies: copies}
		}
		seeded = true
		return nil
	})
	if errors.Is(err, errSeedSkipped) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	cs.logger.Info("service: catalog seeded", zap.Int("catalog.titles", len(inventory)))
	return seeded, nil
}

var errSeedSkipped = errors.New("catalog already has books")
