package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"tracspend/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a record does not exist or is not owned by the
// requesting user. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("storage: expense not found")

// Store is the owner-scoped expense collection. Every method filters by
// userID; no method can observe or change another user's records.
type Store interface {
	ListExpenses(ctx context.Context, userID string) ([]models.Expense, error)
	CreateExpense(ctx context.Context, e *models.Expense) error
	UpdateExpense(ctx context.Context, userID, id string, patch ExpensePatch) (*models.Expense, error)
	DeleteExpense(ctx context.Context, userID, id string) error
	DeleteAllExpenses(ctx context.Context, userID string) (int64, error)
	TagTotalsByMonth(ctx context.Context, userID string, year, month int) ([]TagTotal, error)
	Ping(ctx context.Context) error
	Close() error
}

// ExpensePatch lists the mutable fields of an expense. Nil fields are left
// unchanged.
type ExpensePatch struct {
	Amount *float64
	Tag    *string
	Date   *time.Time
}

// TagTotal aggregates the expenses sharing one tag.
type TagTotal struct {
	Tag   string
	Total float64
	Count int
}

// Open picks a backend from the connection string: mongodb:// and
// mongodb+srv:// select MongoDB, anything else is a SQLite path.
func Open(dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "mongodb://") || strings.HasPrefix(dsn, "mongodb+srv://") {
		return NewMongoStore(dsn), nil
	}
	return NewDB(strings.TrimPrefix(dsn, "sqlite://"))
}

// NewExpenseID returns a fresh identifier in ObjectID hex form.
func NewExpenseID() string {
	return primitive.NewObjectID().Hex()
}

// ValidID reports whether id is a syntactically valid expense identifier.
func ValidID(id string) bool {
	_, err := primitive.ObjectIDFromHex(id)
	return err == nil
}

// stamp returns the current time truncated to the precision every backend
// can store.
func stamp(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Millisecond)
}

// updateStamp keeps updatedAt strictly after createdAt even when both fall in
// the same millisecond.
func updateStamp(now func() time.Time, createdAt time.Time) time.Time {
	t := stamp(now)
	if !t.After(createdAt) {
		t = createdAt.Add(time.Millisecond)
	}
	return t
}

// prepareNew fills the server-owned fields of a new expense.
func prepareNew(e *models.Expense, now func() time.Time) {
	created := stamp(now)
	if e.ID == "" {
		e.ID = NewExpenseID()
	}
	if e.Date.IsZero() {
		e.Date = created
	}
	e.Date = e.Date.UTC()
	e.CreatedAt = created
	e.UpdatedAt = created
}

// apply copies the set fields of p onto e.
func (p ExpensePatch) apply(e *models.Expense) {
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Tag != nil {
		e.Tag = *p.Tag
	}
	if p.Date != nil {
		e.Date = p.Date.UTC()
	}
}

// monthBounds returns the UTC half-open interval covering a calendar month.
func monthBounds(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
