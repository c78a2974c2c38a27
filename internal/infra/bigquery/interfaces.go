package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"

	"github.com/dvloznov/finance-companion/internal/notifications"
)

// NotificationLog is the audit log of notifications handed to the platform
// notifier. It holds a shared BigQuery client.
type NotificationLog struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewNotificationLog creates a BigQuery client for projectID and makes sure
// the log table exists in datasetID.
func NewNotificationLog(ctx context.Context, projectID, datasetID string, opts ...option.ClientOption) (*NotificationLog, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewNotificationLog: creating client: %w", err)
	}
	if err := EnsureNotificationLogWithClient(ctx, client, projectID, datasetID); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewNotificationLog: %w", err)
	}
	return &NotificationLog{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
	}, nil
}

// Close closes the BigQuery client connection.
func (l *NotificationLog) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}

// RecordNotifications delegates to RecordNotificationsWithClient with the shared client.
func (l *NotificationLog) RecordNotifications(ctx context.Context, userID string, ns []notifications.Notification) error {
	return RecordNotificationsWithClient(ctx, l.client, l.projectID, l.datasetID, userID, ns)
}

// RecentNotifications returns the user's latest logged notifications, newest first.
func (l *NotificationLog) RecentNotifications(ctx context.Context, userID string, limit int) ([]notifications.Notification, error) {
	rows, err := RecentNotificationsWithClient(ctx, l.client, l.projectID, l.datasetID, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]notifications.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Notification())
	}
	return out, nil
}
