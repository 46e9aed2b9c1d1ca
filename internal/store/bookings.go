package store

import (
	"context"
	"database/sql"
	"fmt"

	"eyecare-realtime/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// ConsultationAccess decides whether the user may join the consultation
// room. Only the patient and the optometrist of a confirmed booking are let
// in. Booking details are only disclosed to its participants.
func (s *Store) ConsultationAccess(ctx context.Context, roomID, userID string) (*models.ConsultationAccess, error) {
	wrapMsg := fmt.Sprintf("unable to check access to consultation room `%s`", roomID)

	query, args, err := psql.
		Select("id", "status", "patient_id", "optometrist_id", "scheduled_at").
		From("bookings").
		Where(sq.Eq{"room_id": roomID}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	var b models.BookingSummary
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&b.ID, &b.Status, &b.PatientID, &b.OptometristID, &b.ScheduledAt)
	if err == sql.ErrNoRows {
		return &models.ConsultationAccess{RoomID: roomID, Reason: "no booking found for this consultation"}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	if userID != b.PatientID && userID != b.OptometristID {
		return &models.ConsultationAccess{RoomID: roomID, Reason: "you are not a participant of this booking"}, nil
	}

	access := &models.ConsultationAccess{RoomID: roomID, Booking: &b}
	if b.Status != models.BookingConfirmed {
		access.Reason = fmt.Sprintf("booking is %s, not confirmed", b.Status)
		return access, nil
	}

	access.Allowed = true
	return access, nil
}
