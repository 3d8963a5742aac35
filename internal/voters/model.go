package voters

import "time"

// Profile captures the reputation metadata the scoring engine reads for a
// voter. The zero value is the documented fail-open default: reputation 0,
// not an expert.
type Profile struct {
	UserID     string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Reputation int64     `gorm:"column:reputation;not null;default:0"`
	IsExpert   bool      `gorm:"column:is_expert;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing voter profiles.
func (Profile) TableName() string {
	return "voter_profiles"
}
