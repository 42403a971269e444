package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the closed set of employer roles. The zero value is RoleOther so an
// unset role never carries more than minimal access.
type Role uint8

const (
	RoleOther Role = iota
	RoleCashier
	RoleManager
	RoleOwner
)

var roleNames = map[Role]string{
	RoleOther:   "OTHER",
	RoleCashier: "CASHIER",
	RoleManager: "MANAGER",
	RoleOwner:   "OWNER",
}

// Permission is a "<scope>:<action>" grant checked by downstream services.
type Permission string

const (
	PermOwnerRead     Permission = "owner:read"
	PermOwnerCreate   Permission = "owner:create"
	PermOwnerUpdate   Permission = "owner:update"
	PermOwnerDelete   Permission = "owner:delete"
	PermManagerRead   Permission = "manager:read"
	PermManagerCreate Permission = "manager:create"
	PermManagerUpdate Permission = "manager:update"
	PermManagerDelete Permission = "manager:delete"
	PermCashierRead   Permission = "cashier:read"
	PermCashierCreate Permission = "cashier:create"
	PermCashierUpdate Permission = "cashier:update"
	PermCashierDelete Permission = "cashier:delete"
	PermUserRead      Permission = "user:read"
	PermUserCreate    Permission = "user:create"
	PermUserUpdate    Permission = "user:update"
	PermUserDelete    Permission = "user:delete"
	PermOtherRead     Permission = "other:read"
	PermOtherCreate   Permission = "other:create"
)

var (
	cashierPermissions = []Permission{
		PermCashierRead, PermCashierCreate, PermCashierUpdate, PermCashierDelete,
	}
	managerPermissions = append([]Permission{
		PermManagerRead, PermManagerCreate, PermManagerUpdate, PermManagerDelete,
	}, cashierPermissions...)
	ownerPermissions = append([]Permission{
		PermOwnerRead, PermOwnerCreate, PermOwnerUpdate, PermOwnerDelete,
		PermUserRead, PermUserCreate, PermUserUpdate, PermUserDelete,
	}, managerPermissions...)

	// rolePermissions is the single source of truth for what a role may do.
	rolePermissions = map[Role][]Permission{
		RoleOwner:   ownerPermissions,
		RoleManager: managerPermissions,
		RoleCashier: cashierPermissions,
		RoleOther:   {PermOtherRead, PermOtherCreate},
	}
)

// ParseRole maps a role name, case-insensitively, onto the enum.
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return RoleOther, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Permissions returns a copy of the role's permission set.
func (r Role) Permissions() []Permission {
	perms := rolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

func (r Role) Can(p Permission) bool {
	for _, have := range rolePermissions[r] {
		if have == p {
			return true
		}
	}
	return false
}

func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot encode invalid role %d", uint8(r))
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("role must be a string: %w", err)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
