package store

import (
	"context"
	"database/sql"
	"time"

	"eyecare-realtime/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ListNotifications returns one page of the user's notifications, newest
// first. Deleted notifications are never returned.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit, skip int) ([]models.Notification, error) {
	wrapMsg := "unable to list notifications"

	if limit <= 0 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}

	query, args, err := psql.
		Select(
			"id",
			"user_id",
			"type",
			"title",
			"message",
			"coalesce(action_url, '')",
			"is_read",
			"created_at",
			"updated_at").
		From("notifications").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"deleted": false}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(skip)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	notifications := make([]models.Notification, 0, limit)
	for rows.Next() {
		var n models.Notification
		err = rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.ActionURL, &n.Read, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	return notifications, nil
}

// CountNotifications counts the user's notifications that haven't been
// deleted.
func (s *Store) CountNotifications(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, "unable to count notifications", sq.Eq{"user_id": userID}, sq.Eq{"deleted": false})
}

// CountUnreadNotifications counts the user's notifications that haven't been
// marked as read.
func (s *Store) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, "unable to count unread notifications",
		sq.Eq{"user_id": userID}, sq.Eq{"deleted": false}, sq.Eq{"is_read": false})
}

func (s *Store) count(ctx context.Context, wrapMsg string, preds ...sq.Eq) (int64, error) {
	builder := psql.Select("count(*)").From("notifications")
	for _, pred := range preds {
		builder = builder.Where(pred)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}
	return total, nil
}

// SaveNotification inserts n, assigning its id and timestamps.
func (s *Store) SaveNotification(ctx context.Context, n *models.Notification) error {
	wrapMsg := "unable to save notification"

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	var actionURL sql.NullString
	if n.ActionURL != "" {
		actionURL = sql.NullString{String: n.ActionURL, Valid: true}
	}

	query, args, err := psql.
		Insert("notifications").
		Columns(
			"id",
			"user_id",
			"type",
			"title",
			"message",
			"action_url",
			"is_read",
			"created_at",
			"updated_at").
		Values(
			n.ID,
			n.UserID,
			string(n.Type),
			n.Title,
			n.Message,
			actionURL,
			n.Read,
			n.CreatedAt,
			n.UpdatedAt).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// MarkNotificationRead marks a single notification as read. ErrNotFound is
// returned when the notification doesn't exist for the user.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	wrapMsg := "unable to mark notification as read"

	query, args, err := psql.
		Update("notifications").
		Set("is_read", true).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"deleted": false}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return expectOneRow(result, wrapMsg)
}

// MarkAllNotificationsRead marks every unread notification of the user as
// read and returns how many changed.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	wrapMsg := "unable to mark all notifications as read"

	query, args, err := psql.
		Update("notifications").
		Set("is_read", true).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"deleted": false}).
		Where(sq.Eq{"is_read": false}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}

	changed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}
	return changed, nil
}

// DeleteNotification soft-deletes a notification.
func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	wrapMsg := "unable to delete notification"

	query, args, err := psql.
		Update("notifications").
		Set("deleted", true).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"deleted": false}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return expectOneRow(result, wrapMsg)
}
