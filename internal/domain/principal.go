package domain

import "strings"

// Principal authenticated caller handed to every lifecycle operation by the request layer.
// The engine trusts it and never looks users up by role.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// NewPrincipal builds a principal from raw identity fields; the role is case-insensitive.
func NewPrincipal(userID, role string) (Principal, error) {
	r, err := ParseRole(role)
	if err != nil {
		return Principal{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Principal{}, InvalidArgument("principal user id is required")
	}
	return Principal{UserID: userID, Role: r}, nil
}

func (p Principal) IsTenant() bool   { return p.Role == RoleTenant }
func (p Principal) IsLandlord() bool { return p.Role == RoleLandlord }
