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

package authz

import (
	"fmt"
)

// Action is an operation checked against a PermissionSet.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
	ActionGrant  Action = "grant_permission"
	ActionRevoke Action = "revoke_permission"
)

// ResourceType is the kind of resource a permission applies to.
type ResourceType string

const (
	ResourceBucket ResourceType = "bucket"
	ResourceFolder ResourceType = "folder"
	ResourceFile   ResourceType = "file"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceBucket, ResourceFolder, ResourceFile:
		return true
	}
	return false
}

// ParseResourceType converts s into a ResourceType.
func ParseResourceType(s string) (ResourceType, error) {
	t := ResourceType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidResourceType, s)
	}
	return t, nil
}

// PermissionSet is the fixed set of capabilities on one scope.
// FullAccess supersedes every other field.
type PermissionSet struct {
	FullAccess bool `json:"full_access" yaml:"full_access"`
	CanRead    bool `json:"can_read" yaml:"can_read"`
	CanWrite   bool `json:"can_write" yaml:"can_write"`
	CanDelete  bool `json:"can_delete" yaml:"can_delete"`
	CanShare   bool `json:"can_share" yaml:"can_share"`
	CanGrant   bool `json:"can_grant" yaml:"can_grant"`
}

// FullPermissions returns a set with every capability.
func FullPermissions() PermissionSet {
	return PermissionSet{FullAccess: true, CanRead: true, CanWrite: true, CanDelete: true, CanShare: true, CanGrant: true}
}

// Normalize expands FullAccess into every capability.
func (p PermissionSet) Normalize() PermissionSet {
	if p.FullAccess {
		return FullPermissions()
	}
	return p
}

// Merge combines p and o; a capability held by either is held by the result.
func (p PermissionSet) Merge(o PermissionSet) PermissionSet {
	return PermissionSet{
		FullAccess: p.FullAccess || o.FullAccess,
		CanRead:    p.CanRead || o.CanRead,
		CanWrite:   p.CanWrite || o.CanWrite,
		CanDelete:  p.CanDelete || o.CanDelete,
		CanShare:   p.CanShare || o.CanShare,
		CanGrant:   p.CanGrant || o.CanGrant,
	}.Normalize()
}

// Covers reports whether p holds every capability in o.
func (p PermissionSet) Covers(o PermissionSet) bool {
	if p.FullAccess {
		return true
	}
	o = o.Normalize()
	return !o.FullAccess &&
		(p.CanRead || !o.CanRead) &&
		(p.CanWrite || !o.CanWrite) &&
		(p.CanDelete || !o.CanDelete) &&
		(p.CanShare || !o.CanShare) &&
		(p.CanGrant || !o.CanGrant)
}

// IsEmpty reports whether no capability is set.
func (p PermissionSet) IsEmpty() bool {
	return p == PermissionSet{}
}

// Allows reports whether p authorizes action. Unknown actions are denied.
func (p PermissionSet) Allows(action Action) bool {
	if p.FullAccess {
		return knownAction(action)
	}
	switch action {
	case ActionRead:
		return p.CanRead
	case ActionWrite:
		return p.CanWrite
	case ActionDelete:
		return p.CanDelete
	case ActionShare:
		return p.CanShare
	case ActionGrant, ActionRevoke:
		return p.CanGrant
	}
	return false
}

func knownAction(a Action) bool {
	switch a {
	case ActionRead, ActionWrite, ActionDelete, ActionShare, ActionGrant, ActionRevoke:
		return true
	}
	return false
}
