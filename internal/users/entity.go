package users

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"
)

var (
	// ErrMissingRecord indicates the entity was constructed without a record.
	ErrMissingRecord = errors.New("users: record is required")
	// ErrMissingStorage indicates the entity was constructed without a storage driver.
	ErrMissingStorage = errors.New("users: storage driver is required")
	// ErrMissingTokenSigner indicates the entity was constructed without a token signer.
	ErrMissingTokenSigner = errors.New("users: token signer is required")
	// ErrMissingDigest indicates the entity was constructed without a digest strategy.
	ErrMissingDigest = errors.New("users: digest strategy is required")
	// ErrMissingTokenGenerator indicates the entity was constructed without a token generator.
	ErrMissingTokenGenerator = errors.New("users: token generator is required")
)

// Storage is the persistence collaborator. Load/update/delete errors surface
// to callers unchanged; the entity adds no retry or wrapping of its own.
type Storage interface {
	LoadUser(ctx context.Context, id string) (*Record, error)
	UpdateUser(ctx context.Context, id string, record *Record) error
	DeleteUser(ctx context.Context, id string) error
}

// TokenSigner issues signed, time-bound identity tokens from the full record.
// Implementations must not embed password, oobCode, or refreshToken.
type TokenSigner interface {
	SignIDToken(ctx context.Context, record *Record) (string, error)
}

// TokenGenerator produces fixed-length high-entropy opaque strings, used for
// refresh-token and out-of-band code material.
type TokenGenerator interface {
	Generate(length int) string
}

// Lengths of generated secret material.
const (
	refreshTokenLength = 64
	oobNonceLength     = 32
)

// EntityConfig bundles the collaborators an Entity needs.
type EntityConfig struct {
	Record    *Record
	Storage   Storage
	Signer    TokenSigner
	Digest    Digest
	Generator TokenGenerator
	Clock     func() time.Time
}

// Entity is a transient in-memory handle over one user record. Mutators
// return the same handle so calls chain; nothing is persisted until Save. An
// Entity is built per request and must not be shared across goroutines.
type Entity struct {
	record    *Record
	storage   Storage
	signer    TokenSigner
	digest    Digest
	generator TokenGenerator
	clock     func() time.Time
}

// NewEntity wraps a loaded record with its collaborators.
func NewEntity(cfg EntityConfig) (*Entity, error) {
	if cfg.Record == nil {
		return nil, ErrMissingRecord
	}
	if cfg.Storage == nil {
		return nil, ErrMissingStorage
	}
	if cfg.Signer == nil {
		return nil, ErrMissingTokenSigner
	}
	if cfg.Digest == nil {
		return nil, ErrMissingDigest
	}
	if cfg.Generator == nil {
		return nil, ErrMissingTokenGenerator
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Entity{
		record:    cfg.Record,
		storage:   cfg.Storage,
		signer:    cfg.Signer,
		digest:    cfg.Digest,
		generator: cfg.Generator,
		clock:     clock,
	}, nil
}

// Data returns the full underlying record verbatim. This is the serialization
// escape hatch; it makes no guarantee about field presence and does include
// credential material.
func (e *Entity) Data() *Record {
	return e.record
}

// Info returns the public-safe projection of the record. Absent fields get
// zero-value defaults; password, oobCode, and refreshToken are never present.
func (e *Entity) Info() Info {
	claims := e.record.Claims
	if claims == nil {
		claims = map[string]interface{}{}
	}
	return Info{
		ID:            e.record.ID,
		UID:           e.record.UID,
		ProviderID:    e.record.ProviderID,
		ProviderData:  e.record.ProviderData,
		Email:         e.record.Email,
		EmailVerified: e.record.EmailVerified,
		CreatedAt:     e.record.CreatedAt,
		LastLogin:     e.record.LastLogin,
		Username:      e.record.Username,
		PhoneNumber:   e.record.PhoneNumber,
		DisplayName:   e.record.DisplayName,
		PhotoURL:      e.record.PhotoURL,
		Claims:        claims,
	}
}

// Provider returns the identity-provider slice of the record.
func (e *Entity) Provider() Provider {
	return Provider{
		ProviderID:   e.record.ProviderID,
		ProviderData: e.record.ProviderData,
	}
}

// ComparePassword recomputes digest(uid+candidate) and compares it against
// the stored digest in constant time. A record with no stored password never
// matches.
func (e *Entity) ComparePassword(candidate string) bool {
	if e.record.Password == "" {
		return false
	}
	computed := e.digest.Sum(e.record.UID + candidate)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(e.record.Password)) == 1
}

// SetPassword stores digest(uid+plaintext). Password strength is a caller
// policy concern, not enforced here.
func (e *Entity) SetPassword(plaintext string) *Entity {
	e.record.Password = e.digest.Sum(e.record.UID + plaintext)
	return e
}

// Allow-list for UpdateProfile; every other profile field has a dedicated setter.
var profileFields = []string{"displayName", "photoURL"}

// UpdateProfile overwrites record fields from patch for the allowed profile
// keys only. Empty values are skipped, so this path cannot clear a field;
// that guard is long-standing behavior callers rely on.
func (e *Entity) UpdateProfile(patch map[string]string) *Entity {
	for _, field := range profileFields {
		value, ok := patch[field]
		if !ok || value == "" {
			continue
		}
		switch field {
		case "displayName":
			e.record.DisplayName = value
		case "photoURL":
			e.record.PhotoURL = value
		}
	}
	return e
}

// UpdateClaims shallow-merges patch into the existing claims map. Keys in
// patch override; every other existing key survives.
func (e *Entity) UpdateClaims(patch map[string]interface{}) *Entity {
	if e.record.Claims == nil {
		e.record.Claims = make(map[string]interface{}, len(patch))
	}
	for key, value := range patch {
		e.record.Claims[key] = value
	}
	return e
}

// SetProviderData replaces the provider payload wholesale.
func (e *Entity) SetProviderData(data map[string]interface{}) *Entity {
	e.record.ProviderData = data
	return e
}

// SetEmail replaces the email address. Format validation is a caller concern.
func (e *Entity) SetEmail(email string) *Entity {
	e.record.Email = email
	return e
}

// SetUsername replaces the username.
func (e *Entity) SetUsername(username string) *Entity {
	e.record.Username = username
	return e
}

// SetPhoneNumber replaces the phone number.
func (e *Entity) SetPhoneNumber(phoneNumber string) *Entity {
	e.record.PhoneNumber = phoneNumber
	return e
}

// ConfirmEmail marks the email address verified. There is no unset path
// through this interface.
func (e *Entity) ConfirmEmail() *Entity {
	e.record.EmailVerified = true
	return e
}

// SetLastLogin stamps the record with the current time. Call it on every
// successful authentication.
func (e *Entity) SetLastLogin() *Entity {
	e.record.LastLogin = e.clock().UnixMilli()
	return e
}

// SetOob issues a fresh single-use out-of-band code for the given mode,
// overwriting any previously issued ticket. Modes outside the closed set
// normalize to none rather than erroring.
func (e *Entity) SetOob(mode string) *Entity {
	e.record.OobCode = e.digest.Sum(e.record.UID + e.generator.Generate(oobNonceLength))
	e.record.OobMode = ParseOobMode(mode)
	e.record.OobTimestamp = e.clock().UnixMilli()
	return e
}

// ConsumeOob redeems a presented out-of-band code. It reports the ticket's
// mode and true when the code matches the live ticket and the ticket is no
// older than ttl, clearing the ticket so a second presentation fails. Any
// other outcome leaves the record untouched and returns false.
func (e *Entity) ConsumeOob(code string, ttl time.Duration) (OobMode, bool) {
	if code == "" || e.record.OobCode == "" {
		return OobModeNone, false
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(e.record.OobCode)) != 1 {
		return OobModeNone, false
	}
	if ttl > 0 && e.clock().UnixMilli()-e.record.OobTimestamp > ttl.Milliseconds() {
		return OobModeNone, false
	}
	mode := e.record.OobMode
	if mode == "" {
		mode = OobModeNone
	}
	e.record.OobCode = ""
	e.record.OobMode = OobModeNone
	e.record.OobTimestamp = 0
	return mode, true
}

// SetRefreshToken issues a new opaque refresh token and records its issuance
// time. The previous token is overwritten, so at most one session refresh
// credential is live per user.
func (e *Entity) SetRefreshToken() *Entity {
	e.record.RefreshToken = e.generator.Generate(refreshTokenLength)
	e.record.TokenTimestamp = e.clock().UnixMilli()
	return e
}

// CompareRefreshToken checks a presented refresh token against the live one
// in constant time. An absent stored token never matches.
func (e *Entity) CompareRefreshToken(candidate string) bool {
	if e.record.RefreshToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(e.record.RefreshToken)) == 1
}

// IDToken delegates to the token signer with the full current record.
func (e *Entity) IDToken(ctx context.Context) (string, error) {
	return e.signer.SignIDToken(ctx, e.record)
}

// Save persists the full in-memory record through the storage driver. There
// is no partial update and no concurrency check: last writer wins. Storage
// errors surface unchanged.
func (e *Entity) Save(ctx context.Context) (*Entity, error) {
	if err := e.storage.UpdateUser(ctx, e.record.ID, e.record); err != nil {
		return e, err
	}
	return e, nil
}

// Delete removes the record from storage. The in-memory handle keeps working
// afterwards even though the backing record is gone; a later Save would
// resurrect it.
func (e *Entity) Delete(ctx context.Context) (*Entity, error) {
	if err := e.storage.DeleteUser(ctx, e.record.ID); err != nil {
		return e, err
	}
	return e, nil
}
