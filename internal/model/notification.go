package model

// NotificationPreference holds an owner's delivery choices
type NotificationPreference struct {
	OwnerID              string `json:"owner_id"`
	BrowserNotifications bool   `json:"browser_notifications"`
	ToastNotifications   bool   `json:"toast_notifications"`
	EmailNotifications   bool   `json:"email_notifications"`
	PushNotifications    bool   `json:"push_notifications"`
	Email                string `json:"email,omitempty"`
}

// DefaultPreference returns the preference created on first read
func DefaultPreference(ownerID string) NotificationPreference {
	return NotificationPreference{
		OwnerID:              ownerID,
		BrowserNotifications: true,
		ToastNotifications:   true,
	}
}
