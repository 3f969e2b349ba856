package domain

import "time"

const (
	FieldActiveSessionID = "active_session_id"
	FieldLastSeen        = "last_seen"
)

type Profile struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	Email           string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	DisplayName     string     `gorm:"size:255" json:"display_name"`
	Role            string     `gorm:"size:64;index" json:"role"`
	PasswordHash    string     `gorm:"size:128" json:"-"`
	ActiveSessionID *string    `gorm:"size:64;index" json:"active_session_id,omitempty"`
	LastSeen        *time.Time `gorm:"index" json:"last_seen,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
