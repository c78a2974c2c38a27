package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-companion/internal/notifications"
)

const (
	notificationLogTable = "notification_log"

	// DefaultRecentLimit bounds RecentNotifications when no limit is given.
	DefaultRecentLimit = 50
)

// EnsureNotificationLogWithClient creates the notification_log table if it
// does not exist yet.
func EnsureNotificationLogWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string) error {
	table := client.DatasetInProject(projectID, datasetID).Table(notificationLogTable)
	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("EnsureNotificationLog: table metadata: %w", err)
	}

	meta := &bigquery.TableMetadata{
		Schema: NotificationLogSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "logged_ts",
		},
	}
	if err := table.Create(ctx, meta); err != nil && !isConflict(err) {
		return fmt.Errorf("EnsureNotificationLog: create table: %w", err)
	}
	return nil
}

// RecordNotificationsWithClient inserts one row per notification.
func RecordNotificationsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, userID string, ns []notifications.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	rows := NewNotificationRows(userID, ns, time.Now().UTC())
	inserter := client.DatasetInProject(projectID, datasetID).Table(notificationLogTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("RecordNotifications: inserting rows: %w", err)
	}
	return nil
}

// RecentNotificationsWithClient returns the user's latest logged
// notifications, newest first.
func RecentNotificationsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, userID string, limit int) ([]*NotificationRow, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			notification_id,
			user_id,
			type,
			priority,
			title,
			message,
			scheduled_at,
			created_ts,
			logged_ts,
			metadata
		FROM `+"`%s.%s.%s`"+`
		WHERE user_id = @user_id
		ORDER BY logged_ts DESC
		LIMIT @limit
	`, projectID, datasetID, notificationLogTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("RecentNotifications: query read: %w", err)
	}

	var rows []*NotificationRow
	for {
		var r NotificationRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("RecentNotifications: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func isConflict(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}
