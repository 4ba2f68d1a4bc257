package notification

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type selectorKind int

const (
	kindByRoles selectorKind = iota + 1
	kindOnDutyByRoles
	kindStaff
)

// Selector names who receives an alert. Build one with ByRole, ByRoles,
// OnDutyByRole, OnDutyByRoles or ToStaff; the zero value selects nobody.
type Selector struct {
	kind  selectorKind
	roles []string
	staff []uuid.UUID
}

func dedupe[T comparable](in []T) []T {
	seen := make(map[T]bool, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// ByRole selects every active staff member with role.
func ByRole(role string) Selector { return ByRoles(role) }

// ByRoles selects every active staff member holding any of roles, once.
func ByRoles(roles ...string) Selector {
	return Selector{kind: kindByRoles, roles: dedupe(roles)}
}

// OnDutyByRole narrows ByRole to staff on an active shift at dispatch time.
func OnDutyByRole(role string) Selector { return OnDutyByRoles(role) }

func OnDutyByRoles(roles ...string) Selector {
	return Selector{kind: kindOnDutyByRoles, roles: dedupe(roles)}
}

// ToStaff selects explicit recipients, skipping uuid.Nil.
func ToStaff(ids ...uuid.UUID) Selector {
	var keep []uuid.UUID
	for _, id := range dedupe(ids) {
		if id != uuid.Nil {
			keep = append(keep, id)
		}
	}
	return Selector{kind: kindStaff, staff: keep}
}

func (s Selector) String() string {
	switch s.kind {
	case kindByRoles:
		return "roles(" + strings.Join(s.roles, ",") + ")"
	case kindOnDutyByRoles:
		return "on_duty(" + strings.Join(s.roles, ",") + ")"
	case kindStaff:
		return "staff(" + strconv.Itoa(len(s.staff)) + ")"
	default:
		return "none"
	}
}

// Staff returns the explicit recipients of a ToStaff selector.
func (s Selector) Staff() []uuid.UUID {
	return append([]uuid.UUID(nil), s.staff...)
}
