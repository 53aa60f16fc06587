package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lanternlabs/keyline/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates no record exists for the given identifier.
	ErrUserNotFound = errors.New("storage: user not found")
	// ErrMissingDatabase indicates the store was constructed without a database handle.
	ErrMissingDatabase = errors.New("storage: database handle is required")
	// ErrMissingIDProvider indicates the store was constructed without an id provider.
	ErrMissingIDProvider = errors.New("storage: id provider is required")
	// ErrMissingEmail indicates a lookup with an empty email address.
	ErrMissingEmail = errors.New("storage: email is required")
)

// StoreConfig describes the dependencies of the user store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider users.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Store is the gorm-backed storage driver for user records. Writes are full
// record saves with last-writer-wins semantics; there is no optimistic
// concurrency check.
type Store struct {
	db     *gorm.DB
	ids    users.IDProvider
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs the user store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, ErrMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, ErrMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     cfg.Database,
		ids:    cfg.IDProvider,
		clock:  clock,
		logger: logger,
	}, nil
}

// CreateUser inserts a new record. The opaque storage id is assigned here
// when absent, and createdAt is stamped exactly once.
func (s *Store) CreateUser(ctx context.Context, record *users.Record) error {
	if record.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		record.ID = id
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = s.clock().UnixMilli()
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return err
	}
	s.logger.Debug("user created", zap.String("user_id", record.ID))
	return nil
}

// LoadUser returns the record for the given storage id.
func (s *Store) LoadUser(ctx context.Context, id string) (*users.Record, error) {
	var record users.Record
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %q", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindUserByUID returns the record carrying the given external uid.
func (s *Store) FindUserByUID(ctx context.Context, uid string) (*users.Record, error) {
	var record users.Record
	err := s.db.WithContext(ctx).Where("uid = ?", uid).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: uid %q", ErrUserNotFound, uid)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindUserByEmail returns the record carrying the given email address.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*users.Record, error) {
	if email == "" {
		return nil, ErrMissingEmail
	}
	var record users.Record
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: email %q", ErrUserNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateUser saves the full record under the given id. Last writer wins.
func (s *Store) UpdateUser(ctx context.Context, id string, record *users.Record) error {
	record.ID = id
	return s.db.WithContext(ctx).Save(record).Error
}

// DeleteUser removes the record for the given id. Deleting an absent record
// is not an error.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&users.Record{}, "id = ?", id).Error
}
