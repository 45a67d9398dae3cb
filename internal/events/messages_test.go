package events

import "testing"

func TestExpenseEventRoundTrip(t *testing.T) {
	e := NewExpenseEvent("user-1", 2025, 0, "exp-9")
	body, err := e.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ExpenseEventFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.UserID != "user-1" || got.Year != 2025 || got.Month != 0 || got.ExpenseID != "exp-9" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestExpenseEventRejectsGarbage(t *testing.T) {
	if _, err := ExpenseEventFromJSON([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}
