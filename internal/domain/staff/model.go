package staff

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/urgencias/internal/platform/auth"
)

// Staff is a member of the emergency department with exactly one role.
type Staff struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	FullName       string    `db:"full_name" json:"full_name"`
	Role           string    `db:"role" json:"role"`
	Active         bool      `db:"active" json:"active"`
	Phone          string    `db:"phone" json:"phone,omitempty"`
	Specialty      string    `db:"specialty" json:"specialty,omitempty"`
	RegistryNumber string    `db:"registry_number" json:"registry_number,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

var validRoles = map[string]bool{
	auth.RoleParamedic: true,
	auth.RoleTENS:      true,
	auth.RolePhysician: true,
	auth.RoleAdmin:     true,
}

// ValidRole reports whether role is one of the four department roles.
func ValidRole(role string) bool {
	return validRoles[role]
}

// Filter narrows List.
type Filter struct {
	Role       string
	ActiveOnly bool
}
