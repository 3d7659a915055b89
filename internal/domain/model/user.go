package model

import (
	"time"

	"fitness-payments-bot/internal/domain"

	"github.com/google/uuid"
)

// User is a Telegram user and, once linked, their fitness backend account.
// BackendToken is stored encrypted; the usecase layer decrypts it on demand.
type User struct {
	ID                string
	TelegramID        int64
	Username          string
	Email             string
	BackendUserID     string
	BackendToken      string
	LinkedAt          *time.Time
	RegistrationCoins int64
	ReferredBy        string // referral code the user arrived with; set once
	IsAdmin           bool
	IsBanned          bool
	RegisteredAt      time.Time
	LastActiveAt      time.Time
}

func NewUser(id string, tgID int64, username string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if tgID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:           id,
		TelegramID:   tgID,
		Username:     username,
		RegisteredAt: now,
		LastActiveAt: now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
func (u *User) Touch()       { u.LastActiveAt = time.Now() }

// IsLinked reports whether the user can be credited on the backend.
func (u *User) IsLinked() bool {
	return !u.IsZero() && u.BackendToken != "" && u.LinkedAt != nil
}

// Link records a confirmed backend account. token must already be encrypted.
func (u *User) Link(email, backendUserID, token string, at time.Time) {
	u.Email = email
	u.BackendUserID = backendUserID
	u.BackendToken = token
	u.LinkedAt = &at
}
