package models

import "time"

type NotificationType string

const (
	NotificationAppointmentScheduled NotificationType = "appointment_scheduled"
	NotificationAppointmentCancelled NotificationType = "appointment_cancelled"
	NotificationAppointmentReminder  NotificationType = "appointment_reminder"
	NotificationNewMessage           NotificationType = "new_message"
	NotificationPrescriptionReady    NotificationType = "prescription_ready"
	NotificationSystemAlert          NotificationType = "system_alert"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationAppointmentScheduled,
		NotificationAppointmentCancelled,
		NotificationAppointmentReminder,
		NotificationNewMessage,
		NotificationPrescriptionReady,
		NotificationSystemAlert:
		return true
	}
	return false
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	ActionURL string           `json:"actionUrl,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// NotificationPage is one page of a user's notifications.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Total         int64          `json:"total"`
	UnreadCount   int64          `json:"unreadCount"`
	HasMore       bool           `json:"hasMore"`
}

type UnreadCount struct {
	Count int64 `json:"count"`
}
