// Package activity keeps the user activity log shown on the dashboard.
package activity

import (
	"encoding/json"
	"time"
)

// Action names recorded in user_activity.action.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionRestore = "restore"
	ActionLogin   = "login"
)

// Entry is one mutation to record.
type Entry struct {
	UserID int64
	Action string
	Table  string
	RowID  int64
	Data   map[string]any
}

// Item is a recorded entry joined with its actor.
type Item struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	UserName  string          `json:"user_name"`
	Action    string          `json:"action"`
	Table     string          `json:"table"`
	RowID     int64           `json:"row_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
