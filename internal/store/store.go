// Package store holds the client-side expense grids: local month data,
// snapshot persistence, remote refresh and the hand-off of cell edits to the
// outbox. All state lives in an explicitly constructed Store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"expensegrid/internal/core"
	"expensegrid/internal/outbox"
)

// RemoteClient is the slice of the API client the store uses. Nil means no
// remote is configured and the store works purely locally.
type RemoteClient interface {
	Expenses(ctx context.Context) ([]core.RemoteExpense, error)
	Categories(ctx context.Context) ([]core.RemoteCategory, error)
	HasCredential() bool
}

// CellQueue accepts cell edits for background delivery. *outbox.Outbox
// satisfies it.
type CellQueue interface {
	Enqueue(key outbox.CellKey, amount float64, categoryID string) error
	Status(key outbox.CellKey) outbox.Status
}

// Options configures a Store.
type Options struct {
	// SnapshotPath is the JSON document every mutation is persisted to.
	SnapshotPath string

	// Remote is the API client, nil when unconfigured.
	Remote RemoteClient

	// Queue receives cell edits for delivery, nil to keep edits local only.
	Queue CellQueue
}

// Store is the client data store. Methods are safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	months      core.AllMonths
	categoryIDs map[string]string
	month       int
	year        int

	snapshotPath string
	remote       RemoteClient
	queue        CellQueue
}

// snapshot is the persisted document.
type snapshot struct {
	Months      core.AllMonths    `json:"months"`
	CategoryIDs map[string]string `json:"categoryIds"`
}

// New builds a Store positioned on the current calendar month. When a
// snapshot exists and no remote credential is stored it is loaded as-is;
// otherwise the store starts from sample data and, with a credentialed
// remote, a Refresh replaces it with server state.
func New(opts Options) *Store {
	now := time.Now()
	s := &Store{
		months:       nil,
		categoryIDs:  defaultCategoryIDs(),
		month:        int(now.Month()) - 1,
		year:         now.Year(),
		snapshotPath: opts.SnapshotPath,
		remote:       opts.Remote,
		queue:        opts.Queue,
	}

	if snap, err := s.loadSnapshot(); err == nil {
		s.months = snap.Months
		for name, id := range snap.CategoryIDs {
			s.categoryIDs[name] = id
		}
		return s
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Snapshot unreadable, falling back to sample data",
			"path", s.snapshotPath, "error", err)
	}

	s.months = sampleMonths()
	return s
}

// HasRemote reports whether a credentialed remote is configured, i.e.
// whether Refresh and cell delivery can do anything.
func (s *Store) HasRemote() bool {
	return s.remote != nil && s.remote.HasCredential()
}

// Month returns the zero-based current month.
func (s *Store) Month() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.month
}

// Year returns the current year.
func (s *Store) Year() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.year
}

// Current returns a copy of the grid for the current month, creating an
// empty one on first access.
func (s *Store) Current() *core.MonthGrid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyGrid(s.gridLocked(s.month, s.year))
}

// Grid returns a copy of the grid for an arbitrary month.
func (s *Store) Grid(month, year int) (*core.MonthGrid, error) {
	if month < 0 || month > 11 {
		return nil, fmt.Errorf("month %d: %w", month, core.ErrInvalidMonth)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyGrid(s.gridLocked(month, year)), nil
}

// SetMonth positions the store on an arbitrary month.
func (s *Store) SetMonth(month, year int) error {
	if month < 0 || month > 11 {
		return fmt.Errorf("month %d: %w", month, core.ErrInvalidMonth)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.month = month
	s.year = year
	return nil
}

// PrevMonth moves back one month, wrapping December of the previous year.
func (s *Store) PrevMonth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.month == 0 {
		s.month = 11
		s.year--
		return
	}
	s.month--
}

// NextMonth moves forward one month, wrapping January of the next year.
func (s *Store) NextMonth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.month == 11 {
		s.month = 0
		s.year++
		return
	}
	s.month++
}

// UpdateExpense sets the amount of one cell in the current month. The value
// is absolute, not a delta. The edit is persisted to the snapshot before the
// method returns and handed to the outbox for remote delivery; delivery
// failure never rolls the local edit back.
func (s *Store) UpdateExpense(day int, category string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("amount %v: %w", amount, core.ErrNegativeAmount)
	}

	s.mu.Lock()
	grid := s.gridLocked(s.month, s.year)
	entry, err := grid.Entry(day)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !core.IsCanonical(category) {
		if _, known := entry.Amounts[category]; !known {
			s.mu.Unlock()
			return fmt.Errorf("category %q: %w", category, core.ErrUnknownCategory)
		}
	}
	entry.Amounts[category] = amount

	key := outbox.CellKey{Year: s.year, Month: s.month, Day: day, Category: category}
	categoryID, resolvable := s.resolveCategoryIDLocked(category)
	persistErr := s.persistLocked()
	s.mu.Unlock()

	if persistErr != nil {
		slog.Warn("Snapshot write failed, edit held in memory only",
			"path", s.snapshotPath, "error", persistErr)
	}

	if s.queue == nil || !s.HasRemote() {
		return nil
	}
	if !resolvable {
		slog.Warn("Category has no remote id, keeping edit local",
			"category", category)
		return nil
	}
	if err := s.queue.Enqueue(key, amount, categoryID); err != nil {
		slog.Warn("Outbox rejected cell edit, keeping edit local",
			"cell", key.String(), "error", err)
	}
	return nil
}

// CellStatus reports the delivery state of a cell in the current month.
func (s *Store) CellStatus(day int, category string) outbox.Status {
	s.mu.RLock()
	key := outbox.CellKey{Year: s.year, Month: s.month, Day: day, Category: category}
	s.mu.RUnlock()
	if s.queue == nil {
		return outbox.StatusSynced
	}
	return s.queue.Status(key)
}

// Refresh fetches categories and expenses concurrently and replaces all
// local months with server state. Callers treat an error as advisory: local
// state is left untouched on failure.
func (s *Store) Refresh(ctx context.Context) error {
	if !s.HasRemote() {
		return fmt.Errorf("no credentialed remote configured")
	}

	var (
		records    []core.RemoteExpense
		categories []core.RemoteCategory
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.remote.Expenses(gctx)
		if err != nil {
			return fmt.Errorf("fetch expenses: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		categories, err = s.remote.Categories(gctx)
		if err != nil {
			return fmt.Errorf("fetch categories: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	months := core.MapRemoteToGrids(records, categories)

	s.mu.Lock()
	s.months = months
	for _, cat := range categories {
		s.categoryIDs[cat.Name] = cat.ID
	}
	err := s.persistLocked()
	s.mu.Unlock()

	if err != nil {
		slog.Warn("Snapshot write failed after refresh",
			"path", s.snapshotPath, "error", err)
	}
	slog.Info("Refreshed from remote",
		"expenses", len(records), "months", len(months))
	return nil
}

// gridLocked returns the live grid for a month, creating it lazily. Callers
// hold s.mu.
func (s *Store) gridLocked(month, year int) *core.MonthGrid {
	if s.months == nil {
		s.months = make(core.AllMonths)
	}
	key := core.Key(year, month)
	grid, ok := s.months[key]
	if !ok {
		grid = core.NewMonthGrid(month, year)
		s.months[key] = grid
	}
	return grid
}

// resolveCategoryIDLocked maps a category name to its remote id. The
// Uncategorized sentinel maps to the empty id, which the API stores as a
// null category.
func (s *Store) resolveCategoryIDLocked(category string) (string, bool) {
	if category == core.Uncategorized {
		return "", true
	}
	id, ok := s.categoryIDs[category]
	return id, ok
}

func (s *Store) persistLocked() error {
	if s.snapshotPath == "" {
		return nil
	}
	doc := snapshot{Months: s.months, CategoryIDs: s.categoryIDs}
	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o700); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(s.snapshotPath, buf, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *Store) loadSnapshot() (snapshot, error) {
	var snap snapshot
	if s.snapshotPath == "" {
		return snap, os.ErrNotExist
	}
	if s.remote != nil && s.remote.HasCredential() {
		// A credentialed remote is authoritative: start from sample data
		// and let Refresh replace it.
		return snap, os.ErrNotExist
	}
	buf, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(buf, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Months == nil {
		snap.Months = make(core.AllMonths)
	}
	if snap.CategoryIDs == nil {
		snap.CategoryIDs = make(map[string]string)
	}
	return snap, nil
}

// defaultCategoryIDs mirrors the ids the server seeds the canonical
// categories with, so edits can be delivered before the first refresh.
func defaultCategoryIDs() map[string]string {
	ids := make(map[string]string, len(core.Categories))
	for i, name := range core.Categories {
		ids[name] = fmt.Sprintf("cat-%d", i)
	}
	return ids
}

func copyGrid(grid *core.MonthGrid) *core.MonthGrid {
	out := &core.MonthGrid{
		Month: grid.Month,
		Year:  grid.Year,
		Days:  make([]core.DayEntry, len(grid.Days)),
	}
	for i, day := range grid.Days {
		amounts := make(map[string]float64, len(day.Amounts))
		for k, v := range day.Amounts {
			amounts[k] = v
		}
		out.Days[i] = core.DayEntry{Day: day.Day, Amounts: amounts}
	}
	return out
}

// sampleMonths is the built-in demo data set: a filled-in January 2025 and
// the first week of February 2025.
func sampleMonths() core.AllMonths {
	jan := core.NewMonthGrid(0, 2025)
	janEntries := map[int]map[string]float64{
		15: {"Grocery": 354},
		16: {"Food": 155, "Travel to Office": 60, "Travel from Office": 58},
		17: {"Food": 610},
		18: {"Food": 384},
		19: {"Food": 154, "Travel to Office": 52, "Travel from Office": 67},
		20: {"Food": 196, "Travel to Office": 65, "Travel from Office": 50},
		21: {"Food": 174, "Travel to Office": 80, "Travel from Office": 59},
		22: {"Food": 115, "Travel to Office": 62, "Travel from Office": 39},
		23: {"Food": 174, "Travel to Office": 65, "Travel from Office": 35, "Misc Shopping": 130},
		24: {"Food": 383, "Grocery": 223},
		25: {"Food": 458, "Misc Travelling": 60, "Misc Eating": 50, "Misc Shopping": 141},
		26: {"Food": 305, "Misc Shopping": 102},
		27: {"Travel to Office": 66, "Travel from Office": 45, "Misc Travelling": 59},
		28: {"Food": 156, "Travel to Office": 70},
		29: {"Food": 153, "Travel to Office": 65, "Travel from Office": 82, "Grocery": 314},
		30: {"Food": 424, "Travel to Office": 61, "Travel from Office": 57, "Misc Travelling": 38},
		31: {"Food": 283, "Misc Travelling": 202, "Misc Eating": 190, "Misc Shopping": 200},
	}
	applySample(jan, janEntries)

	feb := core.NewMonthGrid(1, 2025)
	febEntries := map[int]map[string]float64{
		1: {"Food": 283, "Grocery": 106},
		2: {"Food": 153, "Travel to Office": 74, "Travel from Office": 42, "Misc Eating": 197},
		3: {"Food": 128, "Travel to Office": 62, "Travel from Office": 46},
		4: {"Food": 142, "Travel to Office": 69, "Travel from Office": 65},
		5: {"Food": 283, "Travel to Office": 57, "Travel from Office": 63},
		6: {"Food": 307, "Travel to Office": 60, "Travel from Office": 160},
		7: {"Food": 306},
	}
	applySample(feb, febEntries)

	return core.AllMonths{
		core.Key(2025, 0): jan,
		core.Key(2025, 1): feb,
	}
}

func applySample(grid *core.MonthGrid, entries map[int]map[string]float64) {
	for day, amounts := range entries {
		entry, err := grid.Entry(day)
		if err != nil {
			continue
		}
		for name, value := range amounts {
			entry.Amounts[name] = value
		}
	}
}
