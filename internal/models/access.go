package models

import (
	"time"
)

// Permission is an access level on an object. Levels are ordered:
// read < write < owner.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionOwner Permission = "owner"
)

var permissionRank = map[Permission]int{
	PermissionRead:  1,
	PermissionWrite: 2,
	PermissionOwner: 3,
}

// IsValid checks if the permission is a known level
func (p Permission) IsValid() bool {
	_, ok := permissionRank[p]
	return ok
}

// Covers reports whether the permission satisfies the required level
func (p Permission) Covers(required Permission) bool {
	return permissionRank[p] >= permissionRank[required]
}

// PrincipalType describes what kind of principal holds a grant
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

// AccessGrant is one row of the access table. The first writer of an object
// becomes its owner with write permission; later grants require the caller to
// hold write or owner.
type AccessGrant struct {
	ObjectID      string        `json:"object_id"`
	PrincipalID   string        `json:"principal_id"`
	Permission    Permission    `json:"permission"`
	PrincipalType PrincipalType `json:"principal_type"`
	ObjectType    string        `json:"object_type"`
	Policy        string        `json:"policy,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Validate checks if the access grant is valid
func (g *AccessGrant) Validate() error {
	if g.ObjectID == "" {
		return &ValidationError{Field: "object_id", Message: "object ID is required"}
	}
	if g.PrincipalID == "" {
		return &ValidationError{Field: "principal_id", Message: "principal ID is required"}
	}
	if !g.Permission.IsValid() {
		return &ValidationError{Field: "permission", Message: "permission must be read, write or owner"}
	}
	return nil
}
