package store

import (
	"context"
	"database/sql"
	"fmt"

	"eyecare-realtime/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// ListConversations returns the conversations the user takes part in, most
// recently active first, with the last message and the number of messages
// from the other participant that the user hasn't read.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	wrapMsg := "unable to list conversations"

	query, args, err := psql.
		Select(
			"c.id",
			"c.patient_id",
			"coalesce(p.name, '')",
			"c.optometrist_id",
			"coalesce(o.name, '')").
		Column("(SELECT m.content FROM messages m WHERE m.conversation_id = c.id ORDER BY m.created_at DESC LIMIT 1)").
		Column("(SELECT max(m.created_at) FROM messages m WHERE m.conversation_id = c.id) AS last_message_at").
		Column(sq.Expr("(SELECT count(*) FROM messages m WHERE m.conversation_id = c.id AND m.sender_id <> ? AND m.read_at IS NULL)", userID)).
		From("conversations c").
		LeftJoin("users p ON p.id = c.patient_id").
		LeftJoin("users o ON o.id = c.optometrist_id").
		Where(sq.Or{sq.Eq{"c.patient_id": userID}, sq.Eq{"c.optometrist_id": userID}}).
		OrderBy("last_message_at DESC NULLS LAST").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var (
			c             models.Conversation
			patient       models.Participant
			optometrist   models.Participant
			lastMessage   sql.NullString
			lastMessageAt sql.NullTime
		)
		err = rows.Scan(
			&c.ID,
			&patient.UserID,
			&patient.Name,
			&optometrist.UserID,
			&optometrist.Name,
			&lastMessage,
			&lastMessageAt,
			&c.UnreadCount)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}

		patient.Role = models.RolePatient
		optometrist.Role = models.RoleOptometrist
		c.Participants = []models.Participant{patient, optometrist}
		c.LastMessage = lastMessage.String
		if lastMessageAt.Valid {
			t := lastMessageAt.Time
			c.LastMessageAt = &t
		}

		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	return conversations, nil
}

// IsConversationParticipant reports whether the user is the patient or the
// optometrist of the conversation.
func (s *Store) IsConversationParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	wrapMsg := "unable to check conversation membership"

	query, args, err := psql.
		Select("count(*)").
		From("conversations").
		Where(sq.Eq{"id": conversationID}).
		Where(sq.Or{sq.Eq{"patient_id": userID}, sq.Eq{"optometrist_id": userID}}).
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, wrapMsg)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, errors.Wrap(err, wrapMsg)
	}
	return n > 0, nil
}

// ConversationParticipantIDs returns the patient and optometrist ids of the
// conversation.
func (s *Store) ConversationParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	wrapMsg := fmt.Sprintf("unable to look up participants of conversation `%s`", conversationID)

	query, args, err := psql.
		Select("patient_id", "optometrist_id").
		From("conversations").
		Where(sq.Eq{"id": conversationID}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	var patientID, optometristID string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&patientID, &optometristID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return []string{patientID, optometristID}, nil
}
