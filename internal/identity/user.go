// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrUsernameImmutable  = errors.New("username cannot be changed")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidAccessLevel = errors.New("invalid access level")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrForbidden          = errors.New("insufficient role for this operation")
)

// Role is the administrative scope of a user.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleUser       Role = "user"
)

var roleRank = map[Role]int{
	RoleUser:       1,
	RoleManager:    2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above other. Unknown roles rank below everything.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] > 0 && roleRank[r] >= roleRank[other]
}

// IsAdmin reports whether r is admin or super_admin.
func (r Role) IsAdmin() bool {
	return r.AtLeast(RoleAdmin)
}

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// AccessLevel is the read/write capability a user has on owned resources.
// Several levels are synonyms kept from older data: both = read_write,
// pull = read_only, push = write_only.
type AccessLevel string

const (
	AccessFull      AccessLevel = "full"
	AccessAdmin     AccessLevel = "admin"
	AccessReadWrite AccessLevel = "read_write"
	AccessBoth      AccessLevel = "both"
	AccessReadOnly  AccessLevel = "read_only"
	AccessPull      AccessLevel = "pull"
	AccessWriteOnly AccessLevel = "write_only"
	AccessPush      AccessLevel = "push"
	AccessNone      AccessLevel = "none"
)

// Valid reports whether l is a known access level.
func (l AccessLevel) Valid() bool {
	switch l {
	case AccessFull, AccessAdmin, AccessReadWrite, AccessBoth, AccessReadOnly,
		AccessPull, AccessWriteOnly, AccessPush, AccessNone:
		return true
	}
	return false
}

// CanUpload reports whether the level includes write capability.
func (l AccessLevel) CanUpload() bool {
	switch l {
	case AccessFull, AccessAdmin, AccessReadWrite, AccessBoth, AccessWriteOnly, AccessPush:
		return true
	}
	return false
}

// ParseAccessLevel converts s into an AccessLevel.
func ParseAccessLevel(s string) (AccessLevel, error) {
	l := AccessLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccessLevel, s)
	}
	return l, nil
}

// Status of a user account.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// User represents a user identity in the system
type User struct {
	ID           string
	Username     string // Unique and immutable.
	Email        string
	PasswordHash string
	Role         Role
	AccessLevel  AccessLevel
	Status       Status
	FolderAccess []string
	BucketAccess []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// Sanitized returns a copy without the credential hash.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.FolderAccess = append([]string(nil), u.FolderAccess...)
	u.BucketAccess = append([]string(nil), u.BucketAccess...)
	return u
}

// UserUpdate carries the fields to change. Nil fields are left untouched.
type UserUpdate struct {
	Email        *string
	PasswordHash *string
	Role         *Role
	AccessLevel  *AccessLevel
	FolderAccess *[]string
	BucketAccess *[]string
}

// Fields lists the names of the fields set in u.
func (u UserUpdate) Fields() []string {
	var f []string
	if u.Email != nil {
		f = append(f, "email")
	}
	if u.PasswordHash != nil {
		f = append(f, "password")
	}
	if u.Role != nil {
		f = append(f, "role")
	}
	if u.AccessLevel != nil {
		f = append(f, "access_level")
	}
	if u.FolderAccess != nil {
		f = append(f, "folder_access")
	}
	if u.BucketAccess != nil {
		f = append(f, "bucket_access")
	}
	return f
}

// IsEmpty reports whether no field is set.
func (u UserUpdate) IsEmpty() bool {
	return len(u.Fields()) == 0
}

// UserRepository defines the interface for user persistence.
// Lookups return ErrUserNotFound when no row matches; any other error is a
// storage failure.
type UserRepository interface {
	// FindByUsername retrieves a user by username
	FindByUsername(ctx context.Context, username string) (*User, error)

	// FindByID retrieves a user by ID
	FindByID(ctx context.Context, id string) (*User, error)

	// Create creates a new user
	Create(ctx context.Context, user *User) error

	// UpdateFields applies a partial update and bumps UpdatedAt
	UpdateFields(ctx context.Context, id string, update UserUpdate) error

	// SetStatus activates or deactivates a user
	SetStatus(ctx context.Context, id string, status Status) error

	// ListAll returns every user without password hashes
	ListAll(ctx context.Context) ([]User, error)
}
