package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"expensegrid/internal/core"
	"expensegrid/internal/outbox"
)

type fakeRemote struct {
	expenses     []core.RemoteExpense
	categories   []core.RemoteCategory
	err          error
	credentialed bool
}

func (f *fakeRemote) Expenses(ctx context.Context) ([]core.RemoteExpense, error) {
	return f.expenses, f.err
}

func (f *fakeRemote) Categories(ctx context.Context) ([]core.RemoteCategory, error) {
	return f.categories, f.err
}

func (f *fakeRemote) HasCredential() bool { return f.credentialed }

type fakeQueue struct {
	mu      sync.Mutex
	entries []queuedCell
	err     error
}

type queuedCell struct {
	key        outbox.CellKey
	amount     float64
	categoryID string
}

func (f *fakeQueue) Enqueue(key outbox.CellKey, amount float64, categoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, queuedCell{key: key, amount: amount, categoryID: categoryID})
	return nil
}

func (f *fakeQueue) Status(key outbox.CellKey) outbox.Status {
	return outbox.StatusPending
}

func snapshotPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "snapshot.json")
}

func TestNewStartsFromSampleData(t *testing.T) {
	s := New(Options{SnapshotPath: snapshotPath(t)})
	if err := s.SetMonth(0, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}

	grid := s.Current()
	entry, err := grid.Entry(15)
	if err != nil {
		t.Fatalf("entry 15: %v", err)
	}
	if entry.Amounts["Grocery"] != 354 {
		t.Fatalf("Jan 15 Grocery = %v, want 354", entry.Amounts["Grocery"])
	}
	if got := core.CategoryTotal(grid, "Grocery"); got != 354+223+314 {
		t.Fatalf("Jan Grocery total = %v, want 891", got)
	}

	if err := s.SetMonth(1, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}
	feb := s.Current()
	entry, err = feb.Entry(7)
	if err != nil {
		t.Fatalf("entry 7: %v", err)
	}
	if entry.Amounts["Food"] != 306 {
		t.Fatalf("Feb 7 Food = %v, want 306", entry.Amounts["Food"])
	}
}

func TestUpdateExpenseSetsAbsoluteValue(t *testing.T) {
	s := New(Options{SnapshotPath: snapshotPath(t)})
	if err := s.SetMonth(0, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}

	before := core.MonthlyTotal(s.Current())
	groceryBefore := core.CategoryTotal(s.Current(), "Grocery")
	if err := s.UpdateExpense(15, "Grocery", 500); err != nil {
		t.Fatalf("update: %v", err)
	}

	grid := s.Current()
	entry, _ := grid.Entry(15)
	if entry.Amounts["Grocery"] != 500 {
		t.Fatalf("cell = %v, want absolute 500", entry.Amounts["Grocery"])
	}
	if got := core.CategoryTotal(grid, "Grocery"); got != groceryBefore+146 {
		t.Fatalf("Grocery total = %v, want %v", got, groceryBefore+146)
	}
	if got := core.MonthlyTotal(grid); got != before+146 {
		t.Fatalf("monthly total = %v, want %v", got, before+146)
	}

	// Repeating the same update is idempotent.
	if err := s.UpdateExpense(15, "Grocery", 500); err != nil {
		t.Fatalf("repeat update: %v", err)
	}
	if got := core.MonthlyTotal(s.Current()); got != before+146 {
		t.Fatalf("monthly total after repeat = %v, want %v", got, before+146)
	}
}

func TestUpdateExpenseValidation(t *testing.T) {
	s := New(Options{SnapshotPath: snapshotPath(t)})
	if err := s.SetMonth(0, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}

	tests := []struct {
		name     string
		day      int
		category string
		amount   float64
		wantErr  error
	}{
		{"day zero", 0, "Food", 10, core.ErrInvalidDay},
		{"day beyond month", 32, "Food", 10, core.ErrInvalidDay},
		{"unknown category", 5, "Bogus", 10, core.ErrUnknownCategory},
		{"negative amount", 5, "Food", -1, core.ErrNegativeAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.UpdateExpense(tt.day, tt.category, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateExpensePersistsSnapshot(t *testing.T) {
	path := snapshotPath(t)

	s := New(Options{SnapshotPath: path})
	if err := s.SetMonth(2, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}
	if err := s.UpdateExpense(10, "Food", 77); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A second store on the same path, with no remote, loads the snapshot.
	reloaded := New(Options{SnapshotPath: path})
	if err := reloaded.SetMonth(2, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}
	entry, err := reloaded.Current().Entry(10)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.Amounts["Food"] != 77 {
		t.Fatalf("reloaded cell = %v, want 77", entry.Amounts["Food"])
	}
}

func TestCredentialedRemoteSkipsSnapshot(t *testing.T) {
	path := snapshotPath(t)

	s := New(Options{SnapshotPath: path})
	if err := s.SetMonth(2, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}
	if err := s.UpdateExpense(10, "Food", 77); err != nil {
		t.Fatalf("update: %v", err)
	}

	remote := &fakeRemote{credentialed: true}
	fresh := New(Options{SnapshotPath: path, Remote: remote})
	if err := fresh.SetMonth(2, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}
	entry, _ := fresh.Current().Entry(10)
	if entry.Amounts["Food"] != 0 {
		t.Fatalf("credentialed store should start from sample data, got %v", entry.Amounts["Food"])
	}
}

func TestUpdateExpenseEnqueuesResolvedCell(t *testing.T) {
	queue := &fakeQueue{}
	remote := &fakeRemote{credentialed: true}
	s := New(Options{SnapshotPath: snapshotPath(t), Remote: remote, Queue: queue})
	if err := s.SetMonth(0, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}

	if err := s.UpdateExpense(15, "Grocery", 500); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(queue.entries) != 1 {
		t.Fatalf("queued %d cells, want 1", len(queue.entries))
	}
	got := queue.entries[0]
	want := outbox.CellKey{Year: 2025, Month: 0, Day: 15, Category: "Grocery"}
	if got.key != want || got.amount != 500 || got.categoryID != "cat-4" {
		t.Fatalf("queued %+v, want key %v amount 500 category cat-4", got, want)
	}
}

func TestUpdateExpenseWithoutRemoteStaysLocal(t *testing.T) {
	queue := &fakeQueue{}
	s := New(Options{SnapshotPath: snapshotPath(t), Queue: queue})
	if err := s.SetMonth(0, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}
	if err := s.UpdateExpense(15, "Grocery", 500); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(queue.entries) != 0 {
		t.Fatalf("queued %d cells without a remote, want 0", len(queue.entries))
	}
}

func TestOutboxRejectionKeepsLocalEdit(t *testing.T) {
	queue := &fakeQueue{err: outbox.ErrFull}
	remote := &fakeRemote{credentialed: true}
	s := New(Options{SnapshotPath: snapshotPath(t), Remote: remote, Queue: queue})
	if err := s.SetMonth(0, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}

	if err := s.UpdateExpense(15, "Grocery", 500); err != nil {
		t.Fatalf("update should not fail on a full outbox: %v", err)
	}
	entry, _ := s.Current().Entry(15)
	if entry.Amounts["Grocery"] != 500 {
		t.Fatalf("local edit lost: %v", entry.Amounts["Grocery"])
	}
}

func TestMonthNavigationWraps(t *testing.T) {
	s := New(Options{SnapshotPath: snapshotPath(t)})

	if err := s.SetMonth(0, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}
	s.PrevMonth()
	if s.Month() != 11 || s.Year() != 2024 {
		t.Fatalf("prev from Jan 2025 = (%d, %d), want (11, 2024)", s.Month(), s.Year())
	}
	s.NextMonth()
	if s.Month() != 0 || s.Year() != 2025 {
		t.Fatalf("next from Dec 2024 = (%d, %d), want (0, 2025)", s.Month(), s.Year())
	}

	// Navigating to an untouched month lazily creates an empty grid.
	s.PrevMonth()
	grid := s.Current()
	if core.MonthlyTotal(grid) != 0 {
		t.Fatalf("untouched month total = %v, want 0", core.MonthlyTotal(grid))
	}
	if len(grid.Days) != 31 {
		t.Fatalf("Dec 2024 has %d days, want 31", len(grid.Days))
	}
}

func TestRefreshReplacesLocalState(t *testing.T) {
	date := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.Local)
	remote := &fakeRemote{
		credentialed: true,
		expenses: []core.RemoteExpense{
			{ID: "e1", Amount: 120, Date: date, CategoryID: "srv-1"},
			{ID: "e2", Amount: 80, Date: date, CategoryID: "missing"},
		},
		categories: []core.RemoteCategory{{ID: "srv-1", Name: "Food"}},
	}
	s := New(Options{SnapshotPath: snapshotPath(t), Remote: remote})

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := s.SetMonth(2, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}

	grid := s.Current()
	entry, err := grid.Entry(12)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.Amounts["Food"] != 120 {
		t.Fatalf("Food = %v, want 120", entry.Amounts["Food"])
	}
	if entry.Amounts[core.Uncategorized] != 80 {
		t.Fatalf("Uncategorized = %v, want 80", entry.Amounts[core.Uncategorized])
	}

	// Sample months were fully replaced.
	if err := s.SetMonth(0, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}
	if got := core.MonthlyTotal(s.Current()); got != 0 {
		t.Fatalf("Jan total after refresh = %v, want 0", got)
	}
}

func TestRefreshFailureLeavesLocalState(t *testing.T) {
	remote := &fakeRemote{credentialed: true, err: errors.New("remote down")}
	s := New(Options{SnapshotPath: snapshotPath(t), Remote: remote})
	if err := s.SetMonth(0, 2025); err != nil {
		t.Fatalf("set month: %v", err)
	}
	before := core.MonthlyTotal(s.Current())

	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if got := core.MonthlyTotal(s.Current()); got != before {
		t.Fatalf("total changed on failed refresh: %v != %v", got, before)
	}
}
