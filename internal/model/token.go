package model

import "time"

// TokenKind distinguishes what a single-use token grants.
type TokenKind string

const (
	TokenVerify TokenKind = "verify"
	TokenReset  TokenKind = "reset"
	// TokenTelegramLink binds a Telegram chat to the token's user.
	TokenTelegramLink TokenKind = "telegram_link"
)

// Token is a single-use, expiring token.
type Token struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"index;size:36"`
	Kind      TokenKind `gorm:"size:20"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}
