package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	EntryID   string    `json:"entry_id,omitempty"`
	UserID    string    `json:"user_id"`
	AdminID   string    `json:"admin_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger writes structured audit lines for every balance mutation and
// withdrawal transition. The log is supplementary; the ledger_entries table is
// the authoritative record.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogMutation(eventType, entryID, userID, amount string, details any) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: eventType,
		EntryID:   entryID,
		UserID:    userID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   details,
	})
}

func (a *Logger) LogTransition(requestID, userID, adminID string, from, to string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "WITHDRAWAL_TRANSITION",
		UserID:    userID,
		AdminID:   adminID,
		Status:    "SUCCESS",
		Details:   map[string]string{"request_id": requestID, "from": from, "to": to},
	})
}

func (a *Logger) LogError(eventType, userID string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
