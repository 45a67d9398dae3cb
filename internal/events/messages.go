package events

import (
	"encoding/json"
	"time"
)

// ExpenseEvent tells the worker that a user's month changed and its summary
// row needs a recompute. It deliberately carries no amounts: the worker
// rereads the expenses table, so replays and reorders are harmless.
type ExpenseEvent struct {
	UserID    string    `json:"userId"`
	Year      int       `json:"year"`
	Month     int       `json:"month"` // zero-based
	ExpenseID string    `json:"expenseId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpenseEvent(userID string, year, month int, expenseID string) *ExpenseEvent {
	return &ExpenseEvent{
		UserID:    userID,
		Year:      year,
		Month:     month,
		ExpenseID: expenseID,
		Timestamp: time.Now(),
	}
}

func (e *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var e ExpenseEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
