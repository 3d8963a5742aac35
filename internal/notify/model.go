package notify

import "time"

// NotificationTypeCompanyUpdate tags notifications produced by the scoring
// engine's change fan-out.
const NotificationTypeCompanyUpdate = "company_update"

// CompanySubscription is the follow relation gating score-change fan-out.
// NotifyOnUpdates defaults to true: following a company opts you in.
type CompanySubscription struct {
	UserID          string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	CompanyID       string    `gorm:"column:company_id;primaryKey;size:190;not null;index"`
	NotifyOnUpdates bool      `gorm:"column:notify_on_updates;not null;default:true"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing company subscriptions.
func (CompanySubscription) TableName() string {
	return "company_subscriptions"
}

// Notification is one outbox record. The engine only ever creates these;
// delivery and read tracking belong to other subsystems.
type Notification struct {
	NotificationID   string `gorm:"column:notification_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_notifications_user_time,priority:1"`
	Type             string `gorm:"column:type;size:64;not null"`
	Title            string `gorm:"column:title;size:320;not null"`
	Message          string `gorm:"column:message;type:text;not null"`
	Link             string `gorm:"column:link;size:512;not null;default:''"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null;default:''"`
	Read             bool   `gorm:"column:read;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_notifications_user_time,priority:2"`
}

// TableName exposes the table backing the notification outbox.
func (Notification) TableName() string {
	return "notifications"
}
