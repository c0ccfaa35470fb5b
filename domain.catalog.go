package main

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultBorrowWindowDays is the number of days a book can be kept.
	DefaultBorrowWindowDays = 15

	// DueDateLayout and IssueDateLayout are the persisted date formats.
	DueDateLayout   = "2006-01-02"
	IssueDateLayout = "2006-01-02 15:04:05"

	// transactionIDLayout is the timestamp part of a loan transaction id.
	transactionIDLayout = "20060102150405"
)

// BookEntry is the inventory record of a single title.
type BookEntry struct {
	TotalCopies     int `json:"totalCopies"`
	AvailableCopies int `json:"availableCopies"`
}

// Loan is an active borrowing record.
type Loan struct {
	User      string `json:"user"`
	Book      string `json:"book"`
	IssueDate string `json:"issueDate"`
	DueDate   string `json:"dueDate"`
}

// LoanView is a loan annotated with its transaction id and computed fields.
// IsOverdue is only populated by user oriented queries.
type LoanView struct {
	TransactionID string `json:"transactionId"`
	Loan
	DaysRemaining int   `json:"daysRemaining"`
	IsOverdue     *bool `json:"isOverdue,omitempty"`
}

// Catalog is the whole persisted document: inventory plus active loans.
type Catalog struct {
	Books       map[string]BookEntry `json:"books"`
	IssuedLoans map[string]Loan      `json:"issuedLoans"`
}

// Summary holds the dashboard counters of a catalog.
type Summary struct {
	Titles          int `json:"titles"`
	TotalCopies     int `json:"totalCopies"`
	AvailableCopies int `json:"availableCopies"`
	ActiveLoans     int `json:"activeLoans"`
	OverdueLoans    int `json:"overdueLoans"`
}

// CatalogStorage defines how the catalog document is persisted. Update must
// run the load-mutate-save cycle atomically: when fn or the save fails,
// nothing is written.
type CatalogStorage interface {
	Load(ctx context.Context) (*Catalog, error)
	Update(ctx context.Context, fn func(*Catalog) error) error
	Save(ctx context.Context, catalog *Catalog) error
	Close() error
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		Books:       make(map[string]BookEntry),
		IssuedLoans: make(map[string]Loan),
	}
}

// DefaultInventory is the initial set of books installed by Seed.
func DefaultInventory() map[string]int {
	return map[string]int{
		"The Great Gatsby":       3,
		"To Kill a Mockingbird":  2,
		"1984":                   3,
		"Pride and Prejudice":    2,
		"The Catcher in the Rye": 2,
		"Brave New World":        3,
	}
}

// normalize replaces nil maps so a decoded partial document is usable.
func (c *Catalog) normalize() {
	if c.Books == nil {
		c.Books = make(map[string]BookEntry)
	}
	if c.IssuedLoans == nil {
		c.IssuedLoans = make(map[string]Loan)
	}
}

// Clone returns a deep copy of the catalog.
func (c *Catalog) Clone() *Catalog {
	cc := NewCatalog()
	for title, entry := range c.Books {
		cc.Books[title] = entry
	}
	for id, loan := range c.IssuedLoans {
		cc.IssuedLoans[id] = loan
	}
	return cc
}

// ActiveLoans returns the number of active loans referencing title.
func (c *Catalog) ActiveLoans(title string) int {
	n := 0
	for _, loan := range c.IssuedLoans {
		if loan.Book == title {
			n++
		}
	}
	return n
}

// Validate checks the typed records and the availability invariant.
func (c *Catalog) Validate() error {
	for id, loan := range c.IssuedLoans {
		if _, ok := c.Books[loan.Book]; !ok {
			return fmt.Errorf("loan %q references unknown book %q", id, loan.Book)
		}
		if loan.User == "" {
			return fmt.Errorf("loan %q has no user", id)
		}
		if _, err := time.Parse(IssueDateLayout, loan.IssueDate); err != nil {
			return fmt.Errorf("loan %q has invalid issue date %q", id, loan.IssueDate)
		}
		if _, err := time.Parse(DueDateLayout, loan.DueDate); err != nil {
			return fmt.Errorf("loan %q has invalid due date %q", id, loan.DueDate)
		}
	}
	for title, entry := range c.Books {
		if entry.TotalCopies < 1 {
			return fmt.Errorf("book %q has invalid total copies %d", title, entry.TotalCopies)
		}
		if entry.AvailableCopies < 0 || entry.AvailableCopies > entry.TotalCopies {
			return fmt.Errorf("book %q has invalid available copies %d of %d", title, entry.AvailableCopies, entry.TotalCopies)
		}
		if lent := c.ActiveLoans(title); entry.AvailableCopies != entry.TotalCopies-lent {
			return fmt.Errorf("book %q availability %d does not match %d active loans of %d copies",
				title, entry.AvailableCopies, lent, entry.TotalCopies)
		}
	}
	return nil
}

// DaysBetween returns the number of calendar days from `from` to `to`,
// each taken as a civil date in its own location.
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
