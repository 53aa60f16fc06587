package users

// OobMode tags the purpose of an out-of-band action code.
type OobMode string

const (
	// OobModeNone marks the absence of a live out-of-band ticket.
	OobModeNone OobMode = "none"
	// OobModeResetPassword authorizes a password reset.
	OobModeResetPassword OobMode = "resetPassword"
	// OobModeVerifyEmail authorizes an email-address confirmation.
	OobModeVerifyEmail OobMode = "verifyEmail"
)

// ParseOobMode maps raw input onto the closed mode set. Anything outside the
// set, including the empty string, normalizes to OobModeNone rather than
// failing; leniency here is deliberate.
func ParseOobMode(value string) OobMode {
	switch OobMode(value) {
	case OobModeResetPassword:
		return OobModeResetPassword
	case OobModeVerifyEmail:
		return OobModeVerifyEmail
	default:
		return OobModeNone
	}
}

// Record is the persisted shape of a single authenticated user. Password
// holds a digest of uid+plaintext, never the plaintext itself. Timestamps are
// unix milliseconds.
type Record struct {
	ID             string                 `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UID            string                 `gorm:"column:uid;size:190;not null;uniqueIndex:idx_users_uid" json:"uid"`
	ProviderID     string                 `gorm:"column:provider_id;size:64" json:"providerId,omitempty"`
	ProviderData   map[string]interface{} `gorm:"column:provider_data;type:text;serializer:json" json:"providerData,omitempty"`
	Email          string                 `gorm:"column:email;size:320;index:idx_users_email" json:"email,omitempty"`
	EmailVerified  bool                   `gorm:"column:email_verified;not null;default:false" json:"emailVerified,omitempty"`
	Username       string                 `gorm:"column:username;size:190" json:"username,omitempty"`
	PhoneNumber    string                 `gorm:"column:phone_number;size:32" json:"phoneNumber,omitempty"`
	DisplayName    string                 `gorm:"column:display_name;size:320" json:"displayName,omitempty"`
	PhotoURL       string                 `gorm:"column:photo_url;size:512" json:"photoURL,omitempty"`
	Password       string                 `gorm:"column:password;size:128" json:"password,omitempty"`
	Claims         map[string]interface{} `gorm:"column:claims;type:text;serializer:json" json:"claims,omitempty"`
	CreatedAt      int64                  `gorm:"column:created_at_ms;not null;default:0" json:"createdAt,omitempty"`
	LastLogin      int64                  `gorm:"column:last_login_ms;not null;default:0" json:"lastLogin,omitempty"`
	OobCode        string                 `gorm:"column:oob_code;size:128" json:"oobCode,omitempty"`
	OobMode        OobMode                `gorm:"column:oob_mode;size:32" json:"oobMode,omitempty"`
	OobTimestamp   int64                  `gorm:"column:oob_timestamp_ms;not null;default:0" json:"oobTimestamp,omitempty"`
	RefreshToken   string                 `gorm:"column:refresh_token;size:128" json:"refreshToken,omitempty"`
	TokenTimestamp int64                  `gorm:"column:token_timestamp_ms;not null;default:0" json:"tokenTimestamp,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "users"
}

// Info is the public-safe projection of a Record. It substitutes zero-value
// defaults for absent fields and never carries credential material.
type Info struct {
	ID            string                 `json:"id"`
	UID           string                 `json:"uid"`
	ProviderID    string                 `json:"providerId"`
	ProviderData  map[string]interface{} `json:"providerData"`
	Email         string                 `json:"email"`
	EmailVerified bool                   `json:"emailVerified"`
	CreatedAt     int64                  `json:"createdAt"`
	LastLogin     int64                  `json:"lastLogin"`
	Username      string                 `json:"username"`
	PhoneNumber   string                 `json:"phoneNumber"`
	DisplayName   string                 `json:"displayName"`
	PhotoURL      string                 `json:"photoURL"`
	Claims        map[string]interface{} `json:"claims"`
}

// Provider is the identity-provider slice of a Record.
type Provider struct {
	ProviderID   string                 `json:"providerId"`
	ProviderData map[string]interface{} `json:"providerData"`
}
