package models

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	LastLoginAt  *int64 `json:"last_login_at,omitempty"`
	CreatedAt    int64  `json:"created_at"`

	Profile *Profile `json:"profile,omitempty"`
}

type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	CreatedAt int64  `json:"created_at"`
}

// UserSummary is the admin view of an account.
type UserSummary struct {
	Profile
	Role         string      `json:"role"`
	Limits       *UserLimits `json:"limits,omitempty"`
	DropletCount int         `json:"droplet_count"`
}

// Caller is the authenticated identity an action runs as.
type Caller struct {
	UserID string
	Email  string
	Role   string
}

func (c *Caller) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

type InviteKey struct {
	ID           string        `json:"id"`
	Key          string        `json:"key"`
	IsActive     bool          `json:"is_active"`
	UsedBy       *string       `json:"used_by,omitempty"`
	UsedAt       *int64        `json:"used_at,omitempty"`
	MaxUses      int           `json:"max_uses"`
	CurrentUses  int           `json:"current_uses"`
	PresetLimits *LimitsPreset `json:"preset_limits,omitempty"` // JSON text in DB
	CreatedBy    *string       `json:"created_by,omitempty"`
	CreatedAt    int64         `json:"created_at"`
}

// LimitsPreset is copied into user_limits when an invite is redeemed.
type LimitsPreset struct {
	MaxDroplets     int      `json:"max_droplets"`
	AllowedSizes    []string `json:"allowed_sizes"`
	AutoDestroyDays int      `json:"auto_destroy_days"`
}
