package db

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/jonathan/bidpilot/internal/types"
)

// DefaultNotificationPageSize caps ListNotificationLogs when no limit is given
const DefaultNotificationPageSize = 50

// -----------------------------------------------------------------------------
// Notification Log Methods
// -----------------------------------------------------------------------------

// CreateNotificationLog records one send attempt. A second successful send
// for the same (user, job, channel) returns ErrDuplicateSend.
func (db *DB) CreateNotificationLog(ctx context.Context, e *types.NotificationLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO notification_logs (id, tenant_id, user_id, job_id, channel, title, body,
		        match_percentage, status, error, message_id, correlation_id, created_at, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.TenantID, e.UserID, e.JobID, string(e.Channel), e.Title, e.Body,
		e.MatchPercentage, string(e.Status), e.Error, e.MessageID, e.CorrelationID, e.CreatedAt, e.SentAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrDuplicateSend, "user %s job %s channel %s", e.UserID, e.JobID, e.Channel)
		}
		return errors.Wrap(err, "failed to create notification log")
	}
	return nil
}

// CountSentNotifications counts successful sends for (user, job) on any channel
func (db *DB) CountSentNotifications(ctx context.Context, tenantID, userID, jobID uuid.UUID) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification_logs
		 WHERE tenant_id = $1 AND user_id = $2 AND job_id = $3 AND status = 'sent'`,
		tenantID, userID, jobID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count sent notifications")
	}
	return count, nil
}

// ListNotificationLogs returns a user's notification history, newest first
func (db *DB) ListNotificationLogs(ctx context.Context, tenantID, userID uuid.UUID, limit int) ([]types.NotificationLogEntry, error) {
	if limit <= 0 {
		limit = DefaultNotificationPageSize
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, user_id, job_id, channel, title, body, match_percentage,
		        status, error, message_id, correlation_id, created_at, sent_at
		 FROM notification_logs
		 WHERE tenant_id = $1 AND user_id = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		tenantID, userID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notification logs")
	}
	defer rows.Close()

	entries := make([]types.NotificationLogEntry, 0)
	for rows.Next() {
		var e types.NotificationLogEntry
		var channel, status string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.JobID, &channel, &e.Title, &e.Body,
			&e.MatchPercentage, &status, &e.Error, &e.MessageID, &e.CorrelationID, &e.CreatedAt, &e.SentAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan notification log")
		}
		e.Channel = types.Channel(channel)
		e.Status = types.NotificationStatus(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate notification logs")
	}
	return entries, nil
}
