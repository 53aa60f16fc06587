package users

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type recordingStorage struct {
	updatedID     string
	updatedRecord *Record
	deletedID     string
	updateErr     error
	deleteErr     error
}

func (s *recordingStorage) LoadUser(_ context.Context, id string) (*Record, error) {
	return nil, fmt.Errorf("not implemented: %s", id)
}

func (s *recordingStorage) UpdateUser(_ context.Context, id string, record *Record) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updatedID = id
	s.updatedRecord = record
	return nil
}

func (s *recordingStorage) DeleteUser(_ context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedID = id
	return nil
}

type stubSigner struct {
	token string
	err   error
	seen  *Record
}

func (s *stubSigner) SignIDToken(_ context.Context, record *Record) (string, error) {
	s.seen = record
	return s.token, s.err
}

type sequenceGenerator struct {
	counter int
}

func (g *sequenceGenerator) Generate(length int) string {
	g.counter++
	out := fmt.Sprintf("token-%d-", g.counter)
	for len(out) < length {
		out += "x"
	}
	return out[:length]
}

// steppingClock advances one millisecond per reading so timestamp ordering is
// observable in tests.
type steppingClock struct {
	current time.Time
}

func (c *steppingClock) now() time.Time {
	c.current = c.current.Add(time.Millisecond)
	return c.current
}

func newTestEntity(t *testing.T, record *Record) (*Entity, *recordingStorage, *stubSigner) {
	t.Helper()
	storage := &recordingStorage{}
	signer := &stubSigner{token: "signed-token"}
	clock := &steppingClock{current: time.UnixMilli(1_700_000_000_000)}
	entity, err := NewEntity(EntityConfig{
		Record:    record,
		Storage:   storage,
		Signer:    signer,
		Digest:    SHA256Digest{},
		Generator: &sequenceGenerator{},
		Clock:     clock.now,
	})
	if err != nil {
		t.Fatalf("failed to construct entity: %v", err)
	}
	return entity, storage, signer
}

func TestNewEntityRequiresCollaborators(t *testing.T) {
	base := EntityConfig{
		Record:    &Record{UID: "u1"},
		Storage:   &recordingStorage{},
		Signer:    &stubSigner{},
		Digest:    SHA256Digest{},
		Generator: &sequenceGenerator{},
	}

	cases := []struct {
		name   string
		mutate func(cfg EntityConfig) EntityConfig
	}{
		{"missing record", func(cfg EntityConfig) EntityConfig { cfg.Record = nil; return cfg }},
		{"missing storage", func(cfg EntityConfig) EntityConfig { cfg.Storage = nil; return cfg }},
		{"missing signer", func(cfg EntityConfig) EntityConfig { cfg.Signer = nil; return cfg }},
		{"missing digest", func(cfg EntityConfig) EntityConfig { cfg.Digest = nil; return cfg }},
		{"missing generator", func(cfg EntityConfig) EntityConfig { cfg.Generator = nil; return cfg }},
	}
	for _, tc := range cases {
		if _, err := NewEntity(tc.mutate(base)); err == nil {
			t.Fatalf("%s: expected constructor error", tc.name)
		}
	}

	if _, err := NewEntity(base); err != nil {
		t.Fatalf("expected full config to construct: %v", err)
	}
}

func TestSetPasswordThenComparePassword(t *testing.T) {
	entity, _, _ := newTestEntity(t, &Record{UID: "u1"})

	entity.SetPassword("secret")

	if !entity.ComparePassword("secret") {
		t.Fatal("expected the set password to compare true")
	}
	if entity.ComparePassword("Secret") {
		t.Fatal("expected a different candidate to compare false")
	}
	if entity.ComparePassword("") {
		t.Fatal("expected the empty candidate to compare false")
	}

	stored := entity.Data().Password
	if stored == "secret" {
		t.Fatal("plaintext must never be stored")
	}
	if len(stored) != 64 {
		t.Fatalf("expected fixed-length digest, got %d characters", len(stored))
	}
}

func TestComparePasswordWithoutStoredDigest(t *testing.T) {
	entity, _, _ := newTestEntity(t, &Record{UID: "u1"})

	if entity.ComparePassword("anything") {
		t.Fatal("expected comparison against an absent digest to fail")
	}
	if entity.ComparePassword("") {
		t.Fatal("expected the empty candidate to fail against an absent digest")
	}
}

func TestUpdateClaimsMergesInsteadOfReplacing(t *testing.T) {
	entity, _, _ := newTestEntity(t, &Record{UID: "u1"})

	entity.UpdateClaims(map[string]interface{}{"a": 1})
	entity.UpdateClaims(map[string]interface{}{"b": 2})

	claims := entity.Data().Claims
	if claims["a"] != 1 || claims["b"] != 2 {
		t.Fatalf("expected merged claims {a:1, b:2}, got %v", claims)
	}

	entity.UpdateClaims(map[string]interface{}{"a": "admin"})
	if entity.Data().Claims["a"] != "admin" {
		t.Fatalf("expected patch keys to override, got %v", entity.Data().Claims)
	}
	if entity.Data().Claims["b"] != 2 {
		t.Fatalf("expected untouched keys to survive, got %v", entity.Data().Claims)
	}
}

func TestUpdateProfileHonorsAllowList(t *testing.T) {
	entity, _, _ := newTestEntity(t, &Record{UID: "u1", PhotoURL: "https://example.com/old.png"})

	entity.UpdateProfile(map[string]string{
		"displayName": "X",
		"extra":       "Y",
		"email":       "attacker@example.com",
	})

	data := entity.Data()
	if data.DisplayName != "X" {
		t.Fatalf("expected display name update, got %q", data.DisplayName)
	}
	if data.Email != "" {
		t.Fatalf("expected disallowed field to be ignored, got %q", data.Email)
	}
	if data.PhotoURL != "https://example.com/old.png" {
		t.Fatalf("expected untouched photo url, got %q", data.PhotoURL)
	}
}

func TestUpdateProfileSkipsEmptyValues(t *testing.T) {
	// Empty strings mean "not provided" on this path: a field cannot be
	// cleared through UpdateProfile.
	entity, _, _ := newTestEntity(t, &Record{UID: "u1", DisplayName: "Original"})

	entity.UpdateProfile(map[string]string{"displayName": ""})

	if entity.Data().DisplayName != "Original" {
		t.Fatalf("expected empty value to leave the field untouched, got %q", entity.Data().DisplayName)
	}
}

func TestDedicatedSettersReplaceFields(t *testing.T) {
	entity, _, _ := newTestEntity(t, &Record{UID: "u1"})

	entity.SetEmail("user@example.com").
		SetUsername("user1").
		SetPhoneNumber("+15550001111").
		SetProviderData(map[string]interface{}{"avatar": "a.png"}).
		ConfirmEmail().
		SetLastLogin()

	data := entity.Data()
	if data.Email != "user@example.com" || data.Username != "user1" || data.PhoneNumber != "+15550001111" {
		t.Fatalf("unexpected field values: %+v", data)
	}
	if !data.EmailVerified {
		t.Fatal("expected email to be verified")
	}
	if data.LastLogin == 0 {
		t.Fatal("expected last login timestamp to be set")
	}

	entity.SetProviderData(map[string]interface{}{"other": true})
	if _, kept := entity.Data().ProviderData["avatar"]; kept {
		t.Fatal("expected provider data to be replaced wholesale, not merged")
	}
}

func TestSetOobNormalizesModeAndOverwritesCode(t *testing.T) {
	entity, _, _ := newTestEntity(t, &Record{UID: "u1"})

	entity.SetOob("resetPassword")
	data := entity.Data()
	if data.OobMode != OobModeResetPassword {
		t.Fatalf("unexpected mode %q", data.OobMode)
	}
	if data.OobCode == "" {
		t.Fatal("expected a non-empty oob code")
	}
	if data.OobTimestamp == 0 {
		t.Fatal("expected an oob timestamp")
	}
	firstCode := data.OobCode

	entity.SetOob("verifyEmail")
	if entity.Data().OobCode == firstCode {
		t.Fatal("expected a reissued code to overwrite the prior one")
	}
	if entity.Data().OobMode != OobModeVerifyEmail {
		t.Fatalf("unexpected mode %q", entity.Data().OobMode)
	}

	entity.SetOob("bogus")
	if entity.Data().OobMode != OobModeNone {
		t.Fatalf("expected unknown mode to normalize to none, got %q", entity.Data().OobMode)
	}
	if entity.Data().OobCode == "" {
		t.Fatal("expected a code even for the normalized mode")
	}
}

func TestConsumeOobRedeemsExactlyOnce(t *testing.T) {
	entity, _, _ := newTestEntity(t, &Record{UID: "u1"})
	entity.SetOob("resetPassword")
	code := entity.Data().OobCode

	if _, ok := entity.ConsumeOob("wrong-code", time.Hour); ok {
		t.Fatal("expected a mismatched code to fail")
	}
	if entity.Data().OobCode != code {
		t.Fatal("expected a failed redemption to leave the ticket intact")
	}

	mode, ok := entity.ConsumeOob(code, time.Hour)
	if !ok {
		t.Fatal("expected the live code to redeem")
	}
	if mode != OobModeResetPassword {
		t.Fatalf("unexpected mode %q", mode)
	}

	data := entity.Data()
	if data.OobCode != "" || data.OobMode != OobModeNone || data.OobTimestamp != 0 {
		t.Fatalf("expected the ticket to clear after redemption: %+v", data)
	}

	if _, ok := entity.ConsumeOob(code, time.Hour); ok {
		t.Fatal("expected a second presentation to fail")
	}
}

func TestConsumeOobRejectsExpiredTicket(t *testing.T) {
	clock := &steppingClock{current: time.UnixMilli(1_700_000_000_000)}
	entity, err := NewEntity(EntityConfig{
		Record:    &Record{UID: "u1"},
		Storage:   &recordingStorage{},
		Signer:    &stubSigner{},
		Digest:    SHA256Digest{},
		Generator: &sequenceGenerator{},
		Clock:     clock.now,
	})
	if err != nil {
		t.Fatalf("failed to construct entity: %v", err)
	}

	entity.SetOob("verifyEmail")
	code := entity.Data().OobCode

	clock.current = clock.current.Add(2 * time.Hour)
	if _, ok := entity.ConsumeOob(code, time.Hour); ok {
		t.Fatal("expected an expired ticket to fail")
	}
	if entity.Data().OobCode == "" {
		t.Fatal("expected the expired ticket to remain until reissued")
	}
}

func TestSetRefreshTokenRotates(t *testing.T) {
	entity, _, _ := newTestEntity(t, &Record{UID: "u1"})

	entity.SetRefreshToken()
	first := entity.Data().RefreshToken
	firstStamp := entity.Data().TokenTimestamp
	if len(first) != 64 {
		t.Fatalf("expected a 64-character token, got %d", len(first))
	}

	entity.SetRefreshToken()
	second := entity.Data().RefreshToken
	if second == first {
		t.Fatal("expected a fresh token on reissue")
	}
	if entity.Data().TokenTimestamp <= firstStamp {
		t.Fatalf("expected the token timestamp to increase: %d -> %d", firstStamp, entity.Data().TokenTimestamp)
	}

	if !entity.CompareRefreshToken(second) {
		t.Fatal("expected the live token to compare true")
	}
	if entity.CompareRefreshToken(first) {
		t.Fatal("expected the overwritten token to compare false")
	}
}

func TestInfoNeverExposesCredentialMaterial(t *testing.T) {
	record := &Record{
		ID:           "id-1",
		UID:          "u1",
		Password:     "deadbeef",
		OobCode:      "oob",
		OobMode:      OobModeResetPassword,
		RefreshToken: "refresh",
	}
	entity, _, _ := newTestEntity(t, record)

	info := entity.Info()
	if info.ID != "id-1" || info.UID != "u1" {
		t.Fatalf("unexpected identity fields: %+v", info)
	}
	if info.Email != "" || info.EmailVerified || info.CreatedAt != 0 || info.LastLogin != 0 {
		t.Fatalf("expected zero-value defaults for absent fields: %+v", info)
	}
	if info.Claims == nil || len(info.Claims) != 0 {
		t.Fatalf("expected an empty claims map, got %v", info.Claims)
	}
}

func TestProviderReturnsProviderSliceOnly(t *testing.T) {
	entity, _, _ := newTestEntity(t, &Record{
		UID:          "u1",
		ProviderID:   "password",
		ProviderData: map[string]interface{}{"avatar": "a.png"},
	})

	provider := entity.Provider()
	if provider.ProviderID != "password" {
		t.Fatalf("unexpected provider id %q", provider.ProviderID)
	}
	if provider.ProviderData["avatar"] != "a.png" {
		t.Fatalf("unexpected provider data %v", provider.ProviderData)
	}
}

func TestIDTokenDelegatesWithFullRecord(t *testing.T) {
	record := &Record{UID: "u1", Email: "user@example.com"}
	entity, _, signer := newTestEntity(t, record)

	token, err := entity.IDToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected id token error: %v", err)
	}
	if token != "signed-token" {
		t.Fatalf("unexpected token %q", token)
	}
	if signer.seen != record {
		t.Fatal("expected the signer to receive the full current record")
	}
}

func TestSaveAndDeleteDelegateToStorage(t *testing.T) {
	record := &Record{ID: "id-1", UID: "u1"}
	entity, storage, _ := newTestEntity(t, record)

	entity.SetPassword("secret")
	if !entity.ComparePassword("secret") {
		t.Fatal("expected the password round trip to hold")
	}

	if _, err := entity.Save(context.Background()); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if storage.updatedID != "id-1" {
		t.Fatalf("expected update by id, got %q", storage.updatedID)
	}
	if storage.updatedRecord != record {
		t.Fatal("expected the full in-memory record to be persisted")
	}

	if _, err := entity.Delete(context.Background()); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if storage.deletedID != "id-1" {
		t.Fatalf("expected delete by id, got %q", storage.deletedID)
	}

	// The handle deliberately stays usable after delete.
	if entity.Data().UID != "u1" {
		t.Fatal("expected the in-memory record to remain readable")
	}
}

func TestSaveSurfacesStorageErrorsUnchanged(t *testing.T) {
	record := &Record{ID: "id-1", UID: "u1"}
	storage := &recordingStorage{updateErr: fmt.Errorf("disk full")}
	entity, err := NewEntity(EntityConfig{
		Record:    record,
		Storage:   storage,
		Signer:    &stubSigner{},
		Digest:    SHA256Digest{},
		Generator: &sequenceGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct entity: %v", err)
	}

	handle, err := entity.Save(context.Background())
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("expected the storage error unchanged, got %v", err)
	}
	if handle != entity {
		t.Fatal("expected the same handle back on failure")
	}
}

func TestParseOobModeClosedSet(t *testing.T) {
	cases := map[string]OobMode{
		"resetPassword": OobModeResetPassword,
		"verifyEmail":   OobModeVerifyEmail,
		"none":          OobModeNone,
		"":              OobModeNone,
		"ResetPassword": OobModeNone,
		"bogus":         OobModeNone,
	}
	for input, want := range cases {
		if got := ParseOobMode(input); got != want {
			t.Fatalf("ParseOobMode(%q) = %q, want %q", input, got, want)
		}
	}
}
