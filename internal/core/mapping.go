package core

import "time"

// RemoteExpense is the client's ephemeral copy of a backend expense record.
type RemoteExpense struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description,omitempty"`
	Date        time.Time `json:"date"`
	CategoryID  string    `json:"categoryId,omitempty"`
}

// RemoteCategory is a backend category reference.
type RemoteCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MapRemoteToGrids folds a flat list of remote records into per-month grids,
// bucketing each record by the calendar date of its instant in local time.
// The client uses this: grids should read in the user's own time zone.
func MapRemoteToGrids(records []RemoteExpense, categories []RemoteCategory) AllMonths {
	return MapRemoteToGridsIn(time.Local, records, categories)
}

// MapRemoteToGridsIn buckets records by their calendar date in loc.
// A record whose category reference is absent, or dangles on a deleted
// category, lands under Uncategorized. Same-day same-category amounts
// accumulate; nothing is overwritten, so a backend holding several
// transactions per day and category still maps losslessly.
func MapRemoteToGridsIn(loc *time.Location, records []RemoteExpense, categories []RemoteCategory) AllMonths {
	nameByID := make(map[string]string, len(categories))
	for _, c := range categories {
		nameByID[c.ID] = c.Name
	}

	months := make(AllMonths)
	for _, rec := range records {
		d := rec.Date.In(loc)
		year, month, day := d.Year(), int(d.Month())-1, d.Day()

		key := Key(year, month)
		grid, ok := months[key]
		if !ok {
			grid = NewMonthGrid(month, year)
			months[key] = grid
		}

		name := Uncategorized
		if rec.CategoryID != "" {
			if n, ok := nameByID[rec.CategoryID]; ok {
				name = n
			}
		}

		entry := &grid.Days[day-1]
		entry.Amounts[name] += rec.Amount
	}
	return months
}
