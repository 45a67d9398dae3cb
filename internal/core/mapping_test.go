package core

import (
	"testing"
	"time"
)

func localDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.Local)
}

func TestMapRemoteToGrids(t *testing.T) {
	cats := []RemoteCategory{
		{ID: "cat-0", Name: "Food"},
		{ID: "cat-4", Name: "Grocery"},
	}
	records := []RemoteExpense{
		{ID: "e1", Amount: 100, Date: localDate(2025, time.January, 5), CategoryID: "cat-0"},
		{ID: "e2", Amount: 354, Date: localDate(2025, time.January, 15), CategoryID: "cat-4"},
		{ID: "e3", Amount: 50, Date: localDate(2025, time.March, 2), CategoryID: "cat-0"},
	}

	months := MapRemoteToGrids(records, cats)
	if len(months) != 2 {
		t.Fatalf("expected 2 month grids, got %d", len(months))
	}

	jan := months[Key(2025, 0)]
	if jan == nil {
		t.Fatal("missing January grid")
	}
	if got := jan.Days[4].Amounts["Food"]; got != 100 {
		t.Fatalf("Jan 5 Food = %v, want 100", got)
	}
	if got := jan.Days[14].Amounts["Grocery"]; got != 354 {
		t.Fatalf("Jan 15 Grocery = %v, want 354", got)
	}

	mar := months[Key(2025, 2)]
	if mar == nil {
		t.Fatal("missing March grid")
	}
	if got := mar.Days[1].Amounts["Food"]; got != 50 {
		t.Fatalf("Mar 2 Food = %v, want 50", got)
	}
}

func TestMapRemoteAccumulates(t *testing.T) {
	cats := []RemoteCategory{{ID: "cat-0", Name: "Food"}}
	records := []RemoteExpense{
		{ID: "e1", Amount: 30, Date: localDate(2025, time.February, 10), CategoryID: "cat-0"},
		{ID: "e2", Amount: 70, Date: localDate(2025, time.February, 10), CategoryID: "cat-0"},
	}

	months := MapRemoteToGrids(records, cats)
	feb := months[Key(2025, 1)]
	if feb == nil {
		t.Fatal("missing February grid")
	}
	if got := feb.Days[9].Amounts["Food"]; got != 100 {
		t.Fatalf("accumulated Food = %v, want 100", got)
	}
}

// The same instant must land on different calendar days depending on the
// mapping zone: a late-night UTC expense belongs to the next day in a zone
// ahead of UTC, and to the same UTC day when mapped in UTC.
func TestMapRemoteToGridsInZone(t *testing.T) {
	cats := []RemoteCategory{{ID: "cat-0", Name: "Food"}}
	records := []RemoteExpense{
		{ID: "e1", Amount: 60, Date: time.Date(2025, time.January, 31, 23, 30, 0, 0, time.UTC), CategoryID: "cat-0"},
	}

	utc := MapRemoteToGridsIn(time.UTC, records, cats)
	jan := utc[Key(2025, 0)]
	if jan == nil {
		t.Fatal("missing January grid in UTC mapping")
	}
	if got := jan.Days[30].Amounts["Food"]; got != 60 {
		t.Fatalf("UTC Jan 31 Food = %v, want 60", got)
	}

	ahead := MapRemoteToGridsIn(time.FixedZone("UTC+2", 2*60*60), records, cats)
	feb := ahead[Key(2025, 1)]
	if feb == nil {
		t.Fatal("missing February grid in UTC+2 mapping")
	}
	if got := feb.Days[0].Amounts["Food"]; got != 60 {
		t.Fatalf("UTC+2 Feb 1 Food = %v, want 60", got)
	}
}

func TestMapRemoteUncategorizedFallback(t *testing.T) {
	records := []RemoteExpense{
		// No category reference at all.
		{ID: "e1", Amount: 25, Date: localDate(2025, time.April, 1)},
		// Dangling reference to a deleted category.
		{ID: "e2", Amount: 75, Date: localDate(2025, time.April, 1), CategoryID: "cat-gone"},
	}

	months := MapRemoteToGrids(records, nil)
	apr := months[Key(2025, 3)]
	if apr == nil {
		t.Fatal("missing April grid")
	}
	if got := apr.Days[0].Amounts[Uncategorized]; got != 100 {
		t.Fatalf("Uncategorized = %v, want 100", got)
	}
	if got := MonthlyTotal(apr); got != 100 {
		t.Fatalf("MonthlyTotal = %v, Uncategorized must contribute", got)
	}
}

// Flattening a collision-free grid into records and mapping it back must
// reproduce the original amounts exactly.
func TestMapRemoteRoundTrip(t *testing.T) {
	src := NewMonthGrid(0, 2025)
	src.Days[4].Amounts["Food"] = 123.45
	src.Days[4].Amounts["Grocery"] = 67
	src.Days[30].Amounts["Subscription"] = 499

	cats := make([]RemoteCategory, len(Categories))
	idByName := make(map[string]string, len(Categories))
	for i, name := range Categories {
		id := "cat-" + string(rune('0'+i))
		cats[i] = RemoteCategory{ID: id, Name: name}
		idByName[name] = id
	}

	var records []RemoteExpense
	for _, d := range src.Days {
		for name, amount := range d.Amounts {
			if amount == 0 {
				continue
			}
			records = append(records, RemoteExpense{
				Amount:     amount,
				Date:       localDate(2025, time.January, d.Day),
				CategoryID: idByName[name],
			})
		}
	}

	months := MapRemoteToGrids(records, cats)
	got := months[Key(2025, 0)]
	if got == nil {
		t.Fatal("missing mapped grid")
	}
	for i, d := range src.Days {
		for name, amount := range d.Amounts {
			if got.Days[i].Amounts[name] != amount {
				t.Fatalf("day %d %q: got %v, want %v", d.Day, name, got.Days[i].Amounts[name], amount)
			}
		}
	}
	if MonthlyTotal(got) != MonthlyTotal(src) {
		t.Fatalf("totals diverge: %v vs %v", MonthlyTotal(got), MonthlyTotal(src))
	}
}
