// Package export writes month grids to Google Sheets: a header of category
// names, one row per day and a totals row.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"expensegrid/internal/core"
)

// SheetWriter exports grids into one spreadsheet tab.
type SheetWriter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// Config locates the target spreadsheet and credentials. CredentialsJSON
// takes precedence over CredentialsFile.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// New creates a writer from service account credentials.
func New(ctx context.Context, cfg Config) (*SheetWriter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Expenses"
	}

	credentials := []byte(cfg.CredentialsJSON)
	if len(credentials) == 0 {
		if cfg.CredentialsFile == "" {
			return nil, errors.New("missing service account credentials")
		}
		buf, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentials = buf
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentials),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &SheetWriter{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
	}, nil
}

// WriteMonthGrid replaces the tab contents with the given month: day rows
// by category columns, a daily-total column and a monthly-total row.
func (w *SheetWriter) WriteMonthGrid(ctx context.Context, grid *core.MonthGrid) error {
	values := GridValues(grid)
	vr := &gsheet.ValueRange{Values: values}
	_, err := w.svc.Spreadsheets.Values.
		Update(w.spreadsheetID, fmt.Sprintf("%s!A1", w.sheetName), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update sheet values: %w", err)
	}
	return nil
}

// GridValues renders a grid as the rectangular matrix written to the sheet.
func GridValues(grid *core.MonthGrid) [][]any {
	categories := core.CategorySet(grid)

	header := make([]any, 0, len(categories)+2)
	header = append(header, fmt.Sprintf("Day (%d-%02d)", grid.Year, grid.Month+1))
	for _, name := range categories {
		header = append(header, name)
	}
	header = append(header, "Daily Total")

	values := [][]any{header}
	for _, entry := range grid.Days {
		row := make([]any, 0, len(categories)+2)
		row = append(row, entry.Day)
		for _, name := range categories {
			row = append(row, entry.Amounts[name])
		}
		row = append(row, core.DailyTotal(entry))
		values = append(values, row)
	}

	totals := make([]any, 0, len(categories)+2)
	totals = append(totals, "Total")
	for _, name := range categories {
		totals = append(totals, core.CategoryTotal(grid, name))
	}
	totals = append(totals, core.MonthlyTotal(grid))
	return append(values, totals)
}
