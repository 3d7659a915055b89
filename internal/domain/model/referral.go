package model

import (
	"strings"
	"time"

	"fitness-payments-bot/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	referralCodeLen = 8
	maxReferralName = 100
	maxReferralCode = 64 // Telegram deep-link payload limit
)

// ReferralLink is a named /start deep link used to attribute new users.
// Clicks, Registrations and Purchases are counters; Revenue is derived from
// completed payments of the users who arrived through the link, per currency.
type ReferralLink struct {
	ID            string
	Code          string
	Name          string
	CreatorTgID   int64
	Clicks        int64
	Registrations int64
	Purchases     int64
	Revenue       map[string]decimal.Decimal
	IsActive      bool
	CreatedAt     time.Time
}

func NewReferralLink(name string, creatorTgID int64) (*ReferralLink, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxReferralName {
		return nil, domain.ErrInvalidArgument
	}
	return &ReferralLink{
		ID:          uuid.NewString(),
		Code:        strings.ReplaceAll(uuid.NewString(), "-", "")[:referralCodeLen],
		Name:        name,
		CreatorTgID: creatorTgID,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}, nil
}

// ValidReferralCode reports whether code can be a /start payload:
// 1 to 64 characters from A-Z, a-z, 0-9, _ and -.
func ValidReferralCode(code string) bool {
	if code == "" || len(code) > maxReferralCode {
		return false
	}
	for _, c := range code {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// DeepLink is the t.me URL that starts the bot with this link's code.
// It returns the bare code when the bot username is unknown.
func (l *ReferralLink) DeepLink(botUsername string) string {
	botUsername = strings.TrimPrefix(strings.TrimSpace(botUsername), "@")
	if botUsername == "" {
		return l.Code
	}
	return "https://t.me/" + botUsername + "?start=" + l.Code
}
