package client

import (
	"context"
	"sync"

	"tracspend/internal/models"
)

// Gateway is the subset of Client the ledger depends on.
type Gateway interface {
	List(ctx context.Context) ([]models.Expense, error)
	Create(ctx context.Context, in NewExpense) (models.Expense, error)
	Update(ctx context.Context, id string, changes ExpenseChanges) (models.Expense, error)
	Delete(ctx context.Context, id string) error
}

// Ledger is a local copy of the caller's expenses. Update and Delete are
// optimistic: the change is visible at once and is either committed with the
// server's record or reverted when the server refuses it.
//
// Reverts are per record, so concurrent mutations of different expenses do
// not undo each other.
type Ledger struct {
	gateway Gateway

	mu       sync.Mutex
	expenses []models.Expense
}

// NewLedger returns an empty ledger backed by gateway.
func NewLedger(gateway Gateway) *Ledger {
	return &Ledger{gateway: gateway, expenses: []models.Expense{}}
}

// Expenses returns a copy of the current local state.
func (l *Ledger) Expenses() []models.Expense {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Expense, len(l.expenses))
	copy(out, l.expenses)
	return out
}

// Refresh replaces the local state with the server's list. On error the
// local state is left as it was.
func (l *Ledger) Refresh(ctx context.Context) error {
	expenses, err := l.gateway.List(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.expenses = append([]models.Expense{}, expenses...)
	l.mu.Unlock()
	return nil
}

// Add creates an expense and prepends the stored record. Creation is not
// optimistic; the record only appears once the server assigned its id.
func (l *Ledger) Add(ctx context.Context, in NewExpense) (models.Expense, error) {
	created, err := l.gateway.Create(ctx, in)
	if err != nil {
		return models.Expense{}, err
	}
	l.mu.Lock()
	l.expenses = append([]models.Expense{created}, l.expenses...)
	l.mu.Unlock()
	return created, nil
}

// Update applies changes locally, sends them, then commits the server's
// record or restores the previous one.
func (l *Ledger) Update(ctx context.Context, id string, changes ExpenseChanges) (models.Expense, error) {
	l.mu.Lock()
	var before *models.Expense
	if i := l.index(id); i >= 0 {
		snapshot := l.expenses[i]
		before = &snapshot
		changes.apply(&l.expenses[i])
	}
	l.mu.Unlock()

	updated, err := l.gateway.Update(ctx, id, changes)

	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.index(id)
	if err != nil {
		if before != nil && i >= 0 {
			l.expenses[i] = *before
		}
		return models.Expense{}, err
	}
	if i >= 0 {
		l.expenses[i] = updated
	}
	return updated, nil
}

// Delete removes the expense locally, sends the delete, and puts the record
// back at its old position if the server refuses.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	pos := l.index(id)
	var removed models.Expense
	if pos >= 0 {
		removed = l.expenses[pos]
		l.expenses = append(l.expenses[:pos:pos], l.expenses[pos+1:]...)
	}
	l.mu.Unlock()

	err := l.gateway.Delete(ctx, id)
	if err == nil || pos < 0 {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index(id) >= 0 {
		return err
	}
	if pos > len(l.expenses) {
		pos = len(l.expenses)
	}
	l.expenses = append(l.expenses[:pos:pos], append([]models.Expense{removed}, l.expenses[pos:]...)...)
	return err
}

// index returns the position of id, or -1. Callers hold mu.
func (l *Ledger) index(id string) int {
	for i := range l.expenses {
		if l.expenses[i].ID == id {
			return i
		}
	}
	return -1
}
