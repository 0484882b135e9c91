package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrocha/chatline/internal/bus"
	"github.com/mrocha/chatline/internal/store"
)

// Username length bounds, applied after trimming surrounding whitespace.
const (
	MinUsernameLen = 3
	MaxUsernameLen = 20
)

// ErrUsernameLength is returned when a submitted username trims to fewer
// than MinUsernameLen or more than MaxUsernameLen characters.
var ErrUsernameLength = fmt.Errorf("username must be between %d and %d characters", MinUsernameLen, MaxUsernameLen)

var validate = validator.New()

// Store holds this installation's identity: a stable device id generated
// on first use, and the display name the user picked. Both persist in the
// profile database.
type Store struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	deviceID string
	username string
	loaded   bool
}

// NewStore creates an identity store over db.
func NewStore(db *store.DB, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{db: db, bus: b, logger: logger}
}

// DeviceID returns the stable per-installation id, generating and
// persisting one on first call.
func (s *Store) DeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return "", err
	}
	if s.deviceID != "" {
		return s.deviceID, nil
	}

	id := uuid.NewString()
	if err := s.db.SetSetting(store.SettingDeviceID, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	s.deviceID = id
	s.logger.Info("generated device id", zap.String("device_id", id))
	return id, nil
}

// Username returns the stored display name, or "" when none was set yet.
func (s *Store) Username() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return "", err
	}
	return s.username, nil
}

// SetUsername validates, trims, and persists the display name, then
// announces the change on the bus.
func (s *Store) SetUsername(name string) error {
	trimmed, err := ValidateUsername(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.SetSetting(store.SettingUsername, trimmed); err != nil {
		return fmt.Errorf("persist username: %w", err)
	}
	s.username = trimmed

	s.bus.Publish(bus.Event{
		Kind:      bus.KindIdentityChanged,
		Timestamp: time.Now(),
		Payload:   trimmed,
	})
	return nil
}

// ValidateUsername trims name and checks the length bounds, returning the
// trimmed value to persist.
func ValidateUsername(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	err := validate.Var(trimmed, fmt.Sprintf("min=%d,max=%d", MinUsernameLen, MaxUsernameLen))
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return "", ErrUsernameLength
		}
		return "", err
	}
	return trimmed, nil
}

// load populates the cached fields once.
func (s *Store) load() error {
	if s.loaded {
		return nil
	}
	deviceID, err := s.db.GetSetting(store.SettingDeviceID)
	if err != nil {
		return fmt.Errorf("load device id: %w", err)
	}
	username, err := s.db.GetSetting(store.SettingUsername)
	if err != nil {
		return fmt.Errorf("load username: %w", err)
	}
	s.deviceID = deviceID
	s.username = username
	s.loaded = true
	return nil
}
