package domain

import "fmt"

// Address is a base58-encoded 32-byte account key.
type Address string

// Role identifies which collateral pool an account stakes into.
type Role string

// Roles tracked by the qualification registry.
const (
	RoleProvider   Role = "provider"
	RoleArbitrator Role = "arbitrator"
	RoleBuyer      Role = "buyer"
)

// Roles lists every role in a fixed order.
var Roles = []Role{RoleProvider, RoleArbitrator, RoleBuyer}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleProvider, RoleArbitrator, RoleBuyer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}
