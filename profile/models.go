package profile

import (
	"strings"

	"helpmate/geo"
)

const (
	MinRadiusMiles     = 1
	MaxRadiusMiles     = 50
	DefaultRadiusMiles = 10
)

// Editable field names.
const (
	FieldName        = "name"
	FieldPhone       = "phone"
	FieldAge         = "age"
	FieldBio         = "bio"
	FieldEmail       = "email"
	FieldAddress     = "address"
	FieldLocation    = "location"
	FieldRadiusMiles = "radiusMiles"
	FieldAvatarRef   = "avatarRef"
)

// Profile is a user's public profile. UserID is the document id.
type Profile struct {
	UserID      string     `json:"-"`
	Name        string     `json:"name" validate:"max=200"`
	Phone       string     `json:"phone" validate:"max=40"`
	Age         string     `json:"age" validate:"max=3"`
	Bio         string     `json:"bio" validate:"max=2000"`
	Email       string     `json:"email,omitempty" validate:"omitempty,email"`
	Address     string     `json:"address" validate:"max=500"`
	Location    *geo.Point `json:"location"`
	RadiusMiles float64    `json:"radiusMiles" validate:"omitempty,gte=1,lte=50"`
	AvatarRef   string     `json:"avatarRef" validate:"omitempty,uri"`
}

// IsComplete reports whether the mandatory fields are filled in.
func (p Profile) IsComplete() bool {
	for _, v := range []string{p.Name, p.Phone, p.Age, p.Address} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// SearchRadius returns the configured radius or the default.
func (p Profile) SearchRadius() float64 {
	if p.RadiusMiles <= 0 {
		return DefaultRadiusMiles
	}
	return p.RadiusMiles
}
