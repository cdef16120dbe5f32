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
	"github.com/opentrusty/bucketwarden/internal/identity"
)

// RoleDefaults maps a role to the permissions it holds on every scope.
type RoleDefaults map[identity.Role]PermissionSet

// BuiltinRoleDefaults returns the defaults applied before any stored grant.
func BuiltinRoleDefaults() RoleDefaults {
	return RoleDefaults{
		identity.RoleSuperAdmin: FullPermissions(),
		identity.RoleAdmin:      FullPermissions(),
		identity.RoleManager: {
			CanRead:   true,
			CanWrite:  true,
			CanDelete: true,
			CanShare:  true,
		},
		identity.RoleUser: {},
	}
}

// With returns a copy of d with extra merged in.
func (d RoleDefaults) With(extra RoleDefaults) RoleDefaults {
	out := make(RoleDefaults, len(d))
	for r, p := range d {
		out[r] = p
	}
	for r, p := range extra {
		out[r] = out[r].Merge(p)
	}
	return out
}
