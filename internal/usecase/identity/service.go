package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"wrapped-fhe-service/internal/domain"
)

// ErrAddressInvalid возвращается для синтаксически некорректного адреса.
var ErrAddressInvalid = errors.New("некорректный адрес")

var addressRegex = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// Service управляет таблицей регистрации адресов.
type Service struct {
	users domain.UserRepo
}

// NewService создаёт сервис идентификации.
func NewService(users domain.UserRepo) *Service {
	return &Service{users: users}
}

// NormalizeAddress приводит адрес к каноничной нижнерегистровой форме.
func NormalizeAddress(input string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(input))
	if !addressRegex.MatchString(addr) {
		return "", ErrAddressInvalid
	}
	return addr, nil
}

// Register регистрирует адрес. Назначение userId монотонно и окончательно:
// повторная регистрация того же адреса — ошибка.
func (s *Service) Register(address string) (domain.User, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.users.Register(addr)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRegistered) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("регистрация адреса: %w", err)
	}
	return user, nil
}

// Resolve возвращает userId адреса; 0 — незарегистрированный принципал.
func (s *Service) Resolve(address string) (int64, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return 0, err
	}
	user, err := s.users.GetByAddress(addr)
	if errors.Is(err, domain.ErrNotRegistered) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("поиск адреса: %w", err)
	}
	return user.ID, nil
}
