package usecase

import (
	"sync"

	"fitness-payments-bot/internal/domain"

	"github.com/rs/zerolog"
)

// SettingsService holds runtime-tunable values an admin can change without a restart.
type SettingsService interface {
	RegistrationCoins() int64
	SetRegistrationCoins(n int64) error
}

type settingsService struct {
	mu                sync.RWMutex
	registrationCoins int64
	log               *zerolog.Logger
}

func NewSettingsService(registrationCoins int64, logger *zerolog.Logger) *settingsService {
	return &settingsService{registrationCoins: registrationCoins, log: logger}
}

func (s *settingsService) RegistrationCoins() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registrationCoins
}

func (s *settingsService) SetRegistrationCoins(n int64) error {
	if n < 0 {
		return domain.ErrInvalidArgument
	}
	s.mu.Lock()
	old := s.registrationCoins
	s.registrationCoins = n
	s.mu.Unlock()
	s.log.Info().Int64("old", old).Int64("new", n).Msg("registration bonus changed")
	return nil
}
