package model

import "time"

// User is the directory entry consulted by the reminder run.
type User struct {
	ID                 string `gorm:"primaryKey;size:36"`
	Email              string `gorm:"uniqueIndex;size:255"`
	DisplayName        string `gorm:"size:100"`
	Timezone           string `gorm:"size:64"`
	Verified           bool
	EmailNotifications bool
	TelegramChatID     *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Name returns the display name, falling back to the email address.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
