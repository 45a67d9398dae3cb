package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a row lookup scoped to a user matches nothing.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already in use")
)

// dateLayout is the canonical storage format for expense instants. Exact
// string equality on this column is what makes the natural-key upsert work,
// so every write path must normalize to UTC before formatting.
const dateLayout = time.RFC3339

type (
	User struct {
		ID           string
		Email        string
		PasswordHash string
		Name         string
		CreatedAt    time.Time
	}

	Category struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	Expense struct {
		ID          string    `json:"id"`
		UserID      string    `json:"userId"`
		Amount      float64   `json:"amount"`
		Description string    `json:"description,omitempty"`
		Date        time.Time `json:"date"`
		CategoryID  string    `json:"categoryId,omitempty"`
	}

	MonthSummary struct {
		UserID    string    `json:"-"`
		Year      int       `json:"year"`
		Month     int       `json:"month"`
		Total     float64   `json:"total"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// migrateUp applies the embedded schema migrations on the repository's own
// pool. m.Close is deliberately skipped: it would close the shared *sql.DB.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("wrap sqlite instance: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return src.Close()
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateUser inserts a new user. A taken email returns ErrDuplicateEmail.
func (r *SQLiteRepository) CreateUser(ctx context.Context, email, passwordHash, name string) (User, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE email = ?`, email).Scan(&exists)
	if err == nil {
		return User{}, ErrDuplicateEmail
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("check email: %w", err)
	}

	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	slog.InfoContext(ctx, "User created", "id", u.ID, "email", u.Email)
	return u, nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, name FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// CreateCategory creates a global category. Re-creating an existing name
// returns the existing row instead of failing, mirroring the seed behavior.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, name string) (Category, error) {
	var existing Category
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM categories WHERE name = ?`, name).
		Scan(&existing.ID, &existing.Name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Category{}, fmt.Errorf("lookup category: %w", err)
	}

	c := Category{ID: uuid.NewString(), Name: name}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (id, name) VALUES (?, ?)`, c.ID, c.Name); err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

// ListExpenses returns all expenses of a user, newest first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID string) ([]Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, amount, description, date, category_id
		 FROM expenses WHERE user_id = ? ORDER BY date DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()
	return scanExpenses(rows)
}

// GetExpense returns one expense of a user, or ErrNotFound.
func (r *SQLiteRepository) GetExpense(ctx context.Context, userID, id string) (Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, amount, description, date, category_id
		 FROM expenses WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return Expense{}, fmt.Errorf("get expense: %w", err)
	}
	defer rows.Close()
	expenses, err := scanExpenses(rows)
	if err != nil {
		return Expense{}, err
	}
	if len(expenses) == 0 {
		return Expense{}, ErrNotFound
	}
	return expenses[0], nil
}

// ListExpensesForMonth returns a user's expenses whose instant falls inside
// the given zero-based month, in date order.
func (r *SQLiteRepository) ListExpensesForMonth(ctx context.Context, userID string, year, month int) ([]Expense, error) {
	from, to := monthBounds(year, month)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, amount, description, date, category_id
		 FROM expenses WHERE user_id = ? AND date >= ? AND date < ? ORDER BY date`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list month expenses: %w", err)
	}
	defer rows.Close()
	return scanExpenses(rows)
}

// UpsertExpense applies the natural-key write contract: when the user
// already has a row at the exact instant and category, amount and
// description are updated in place; otherwise a new row is inserted. The
// returned flag reports whether a row was created.
func (r *SQLiteRepository) UpsertExpense(ctx context.Context, userID string, amount float64, description string, date time.Time, categoryID string) (Expense, bool, error) {
	dateStr := date.UTC().Format(dateLayout)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Expense{}, false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	query := `SELECT id FROM expenses WHERE user_id = ? AND date = ? AND category_id = ?`
	args := []any{userID, dateStr, categoryID}
	if categoryID == "" {
		query = `SELECT id FROM expenses WHERE user_id = ? AND date = ? AND category_id IS NULL`
		args = args[:2]
	}
	err = tx.QueryRowContext(ctx, query, args...).Scan(&existingID)

	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE expenses SET amount = ?, description = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			amount, description, existingID); err != nil {
			return Expense{}, false, fmt.Errorf("update expense: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Expense{}, false, fmt.Errorf("commit upsert: %w", err)
		}
		slog.InfoContext(ctx, "Expense updated in place", "id", existingID, "user", userID, "date", dateStr)
		return Expense{ID: existingID, UserID: userID, Amount: amount, Description: description, Date: date.UTC(), CategoryID: categoryID}, false, nil

	case errors.Is(err, sql.ErrNoRows):
		e := Expense{
			ID:          uuid.NewString(),
			UserID:      userID,
			Amount:      amount,
			Description: description,
			Date:        date.UTC(),
			CategoryID:  categoryID,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (id, user_id, amount, description, date, category_id) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.Amount, e.Description, dateStr, nullable(e.CategoryID)); err != nil {
			return Expense{}, false, fmt.Errorf("insert expense: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Expense{}, false, fmt.Errorf("commit upsert: %w", err)
		}
		slog.InfoContext(ctx, "Expense created", "id", e.ID, "user", userID, "date", dateStr)
		return e, true, nil

	default:
		return Expense{}, false, fmt.Errorf("lookup natural key: %w", err)
	}
}

// UpdateExpense applies a partial update to a user's own expense. Fields
// left nil keep their stored value. Returns ErrNotFound when the id does not
// exist or belongs to another user.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, userID, id string, amount *float64, description *string, date *time.Time, categoryID *string) error {
	set := "updated_at = CURRENT_TIMESTAMP"
	args := []any{}
	if amount != nil {
		set += ", amount = ?"
		args = append(args, *amount)
	}
	if description != nil {
		set += ", description = ?"
		args = append(args, *description)
	}
	if date != nil {
		set += ", date = ?"
		args = append(args, date.UTC().Format(dateLayout))
	}
	if categoryID != nil {
		set += ", category_id = ?"
		args = append(args, nullable(*categoryID))
	}
	args = append(args, id, userID)

	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET `+set+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update expense rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpense removes a user's own expense. Deleting a row that is absent
// or foreign is not an error; the handler decides how to report it.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete expense rows: %w", err)
	}
	return n > 0, nil
}

// SumExpensesForMonth computes the month total straight from the expenses
// table. The worker uses it to rebuild summary rows.
func (r *SQLiteRepository) SumExpensesForMonth(ctx context.Context, userID string, year, month int) (float64, error) {
	from, to := monthBounds(year, month)
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM expenses WHERE user_id = ? AND date >= ? AND date < ?`,
		userID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum month expenses: %w", err)
	}
	return total.Float64, nil
}

func (r *SQLiteRepository) UpsertMonthSummary(ctx context.Context, userID string, year, month int, total float64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO month_summaries (user_id, year, month, total, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id, year, month) DO UPDATE SET total = excluded.total, updated_at = CURRENT_TIMESTAMP`,
		userID, year, month, total)
	if err != nil {
		return fmt.Errorf("upsert month summary: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetMonthSummary(ctx context.Context, userID string, year, month int) (MonthSummary, error) {
	s := MonthSummary{UserID: userID, Year: year, Month: month}
	err := r.db.QueryRowContext(ctx,
		`SELECT total, updated_at FROM month_summaries WHERE user_id = ? AND year = ? AND month = ?`,
		userID, year, month).Scan(&s.Total, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return MonthSummary{}, ErrNotFound
	}
	if err != nil {
		return MonthSummary{}, fmt.Errorf("get month summary: %w", err)
	}
	return s, nil
}

// ListStaleSummaries returns (user, year, month) triples whose expenses
// changed after the summary row was written, plus months with no summary row
// at all. The worker's periodic pass drains this as a backup for lost events.
func (r *SQLiteRepository) ListStaleSummaries(ctx context.Context, limit int) ([]MonthSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.user_id,
		        CAST(strftime('%Y', e.date) AS INTEGER) AS year,
		        CAST(strftime('%m', e.date) AS INTEGER) - 1 AS month
		 FROM expenses e
		 LEFT JOIN month_summaries s
		   ON s.user_id = e.user_id
		  AND s.year = CAST(strftime('%Y', e.date) AS INTEGER)
		  AND s.month = CAST(strftime('%m', e.date) AS INTEGER) - 1
		 WHERE s.user_id IS NULL OR e.updated_at > s.updated_at
		 GROUP BY e.user_id,
		          CAST(strftime('%Y', e.date) AS INTEGER),
		          CAST(strftime('%m', e.date) AS INTEGER) - 1
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale summaries: %w", err)
	}
	defer rows.Close()

	var out []MonthSummary
	for rows.Next() {
		var s MonthSummary
		if err := rows.Scan(&s.UserID, &s.Year, &s.Month); err != nil {
			return nil, fmt.Errorf("scan stale summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanExpenses(rows *sql.Rows) ([]Expense, error) {
	var out []Expense
	for rows.Next() {
		var (
			e       Expense
			dateStr string
			cat     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Description, &dateStr, &cat); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		d, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse expense date %q: %w", dateStr, err)
		}
		e.Date = d
		e.CategoryID = cat.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// monthBounds returns the inclusive start and exclusive end of a zero-based
// month, formatted the way dates are stored. RFC3339 UTC strings compare
// lexicographically in date order.
func monthBounds(year, month int) (string, string) {
	from := time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	return from.Format(dateLayout), to.Format(dateLayout)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
