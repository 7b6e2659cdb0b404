package models

import (
	"slices"

	"github.com/lib/pq"
)

// Droplet is the local record of a provider-side virtual machine. Status and IPAddress
// are a cache of what DigitalOcean reports.
type Droplet struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	DigitalOceanID *int64  `json:"digitalocean_id,omitempty"`
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Region         string  `json:"region"`
	Size           string  `json:"size"`
	Image          string  `json:"image"`
	IPAddress      *string `json:"ip_address,omitempty"`
	CreatedAt      int64   `json:"created_at"`
	UpdatedAt      int64   `json:"updated_at"`

	// Populated on admin listings only.
	OwnerEmail string `json:"owner_email,omitempty"`
}

type UserLimits struct {
	UserID          string         `json:"user_id"`
	MaxDroplets     int            `json:"max_droplets"`
	AllowedSizes    pq.StringArray `json:"allowed_sizes"`
	AutoDestroyDays int            `json:"auto_destroy_days"`
	UpdatedAt       int64          `json:"updated_at"`
}

// AllowsSize checks if the user may create a droplet of the given size slug.
func (l *UserLimits) AllowsSize(size string) bool {
	// Empty allowed sizes = allow all
	if len(l.AllowedSizes) == 0 {
		return true
	}
	return slices.Contains(l.AllowedSizes, size)
}
