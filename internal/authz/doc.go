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

// Package authz computes effective permissions on buckets, folders and files
// and manages explicit grants.
//
// Effective permissions are the union of the built-in defaults for the
// user's role, stored role-level grants, explicit user grants on the exact
// scope, and whatever the parent folder resolves to. Any full-access set in
// that chain yields every capability. Every failure resolves to the empty
// set.
//
// Consistency model: permission state is eventually consistent across the
// grant store, the user record's folder_access list and the permission
// cache. Grant and revoke invalidate the grantee's cache entries before they
// return, so the next resolution for that user sees the change. Writes to
// the grant store and to the user record are independent, so a crash between
// them can leave one ahead of the other; resolution takes the union of both,
// and any entry cached from a stale view expires within one cache TTL
// (five minutes by default).
package authz
