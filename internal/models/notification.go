package models

import "time"

// Notification is a typed message from one user to one or more recipients.
// The (Type, ChildType) pair must exist in the notification type registry.
type Notification struct {
	ID         string                 `json:"id"`
	SenderID   string                 `json:"senderId"`
	Recipients []string               `json:"recipients"`
	Type       string                 `json:"type"`
	ChildType  string                 `json:"childType"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data"`
	Timestamp  time.Time              `json:"timestamp"`
}

// PendingIndex is the per-recipient list of notification ids awaiting
// delivery. Entries are removed once pushed to an online recipient.
type PendingIndex struct {
	NotificationIDs []string `json:"notificationIds"`
}
