package bigquery

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-companion/internal/notifications"
)

// NotificationRow is one entry of <dataset>.notification_log.
type NotificationRow struct {
	NotificationID string `bigquery:"notification_id"` // REQUIRED
	UserID         string `bigquery:"user_id"`         // REQUIRED

	Type     string `bigquery:"type"`     // REQUIRED
	Priority string `bigquery:"priority"` // REQUIRED
	Title    string `bigquery:"title"`    // REQUIRED
	Message  string `bigquery:"message"`  // REQUIRED

	ScheduledAt bigquery.NullTimestamp `bigquery:"scheduled_at"` // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
	LoggedTS  time.Time `bigquery:"logged_ts"`  // REQUIRED

	Metadata bigquery.NullJSON `bigquery:"metadata"` // NULLABLE JSON
}

// NotificationLogSchema is the table schema for notification_log.
var NotificationLogSchema = bigquery.Schema{
	{Name: "notification_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "user_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "type", Type: bigquery.StringFieldType, Required: true},
	{Name: "priority", Type: bigquery.StringFieldType, Required: true},
	{Name: "title", Type: bigquery.StringFieldType, Required: true},
	{Name: "message", Type: bigquery.StringFieldType, Required: true},
	{Name: "scheduled_at", Type: bigquery.TimestampFieldType},
	{Name: "created_ts", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "logged_ts", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "metadata", Type: bigquery.JSONFieldType},
}

// NewNotificationRows converts the notifications handed over in one cycle.
func NewNotificationRows(userID string, ns []notifications.Notification, loggedAt time.Time) []*NotificationRow {
	rows := make([]*NotificationRow, 0, len(ns))
	for _, n := range ns {
		row := &NotificationRow{
			NotificationID: n.ID,
			UserID:         userID,
			Type:           string(n.Type),
			Priority:       n.Priority.String(),
			Title:          n.Title,
			Message:        n.Message,
			CreatedTS:      n.CreatedAt,
			LoggedTS:       loggedAt,
		}
		if n.ScheduledAt != nil {
			row.ScheduledAt = bigquery.NullTimestamp{Timestamp: *n.ScheduledAt, Valid: true}
		}
		if len(n.Metadata) > 0 {
			if b, err := json.Marshal(n.Metadata); err == nil {
				row.Metadata = bigquery.NullJSON{JSONVal: string(b), Valid: true}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Notification converts the row back. Unknown types and priorities are kept
// as custom and low.
func (r *NotificationRow) Notification() notifications.Notification {
	n := notifications.Notification{
		ID:        r.NotificationID,
		Type:      notifications.TypeCustom,
		Title:     r.Title,
		Message:   r.Message,
		CreatedAt: r.CreatedTS,
	}
	if t, err := notifications.ParseType(r.Type); err == nil {
		n.Type = t
	}
	if p, err := notifications.ParsePriority(r.Priority); err == nil {
		n.Priority = p
	}
	if r.ScheduledAt.Valid {
		at := r.ScheduledAt.Timestamp
		n.ScheduledAt = &at
	}
	if r.Metadata.Valid {
		var meta map[string]string
		if err := json.Unmarshal([]byte(r.Metadata.JSONVal), &meta); err == nil {
			n.Metadata = meta
		}
	}
	return n
}
