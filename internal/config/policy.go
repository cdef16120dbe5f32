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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opentrusty/bucketwarden/internal/authz"
	"github.com/opentrusty/bucketwarden/internal/identity"
)

// RolePolicy lists extra default permissions per role, merged into the
// built-in role defaults.
//
//	roles:
//	  user:
//	    can_read: true
type RolePolicy struct {
	Roles map[string]authz.PermissionSet `yaml:"roles"`
}

// LoadRolePolicy reads a role policy file. An empty path yields no extra defaults.
func LoadRolePolicy(path string) (authz.RoleDefaults, error) {
	if path == "" {
		return authz.RoleDefaults{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role policy: %w", err)
	}
	return ParseRolePolicy(data)
}

// ParseRolePolicy decodes a role policy document.
func ParseRolePolicy(data []byte) (authz.RoleDefaults, error) {
	var p RolePolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse role policy: %w", err)
	}
	out := make(authz.RoleDefaults, len(p.Roles))
	for name, perms := range p.Roles {
		role, err := identity.ParseRole(name)
		if err != nil {
			return nil, err
		}
		out[role] = perms.Normalize()
	}
	return out, nil
}
