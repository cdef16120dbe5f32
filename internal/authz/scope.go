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
	"strings"
)

// MaxPathDepth bounds the number of path segments resolved.
const MaxPathDepth = 64

// Scope is a canonical (resource type, path) pair.
// The bucket root is {ResourceBucket, ""}. Folder paths are "/a/b/" and file
// paths "/a/b.txt".
type Scope struct {
	Type ResourceType
	Path string
}

// NewScope validates and canonicalizes a resource reference. A folder
// reference to "/" or "" is the bucket root.
func NewScope(rt ResourceType, path string) (Scope, error) {
	if !rt.Valid() {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidResourceType, rt)
	}
	segs, err := splitPath(path)
	if err != nil {
		return Scope{}, err
	}

	switch rt {
	case ResourceBucket:
		if len(segs) > 0 {
			return Scope{}, fmt.Errorf("%w: bucket scope takes no path", ErrInvalidPath)
		}
		return Scope{Type: ResourceBucket}, nil
	case ResourceFile:
		if len(segs) == 0 || strings.HasSuffix(path, "/") {
			return Scope{}, fmt.Errorf("%w: file path %q", ErrInvalidPath, path)
		}
		return Scope{Type: ResourceFile, Path: "/" + strings.Join(segs, "/")}, nil
	default:
		if len(segs) == 0 {
			return Scope{Type: ResourceBucket}, nil
		}
		return Scope{Type: ResourceFolder, Path: folderPath(segs)}, nil
	}
}

// IsRoot reports whether s is the bucket root.
func (s Scope) IsRoot() bool {
	return s.Type == ResourceBucket
}

// Parent returns the enclosing folder, or the bucket root.
func (s Scope) Parent() Scope {
	segs, _ := splitPath(s.Path)
	if len(segs) <= 1 {
		return Scope{Type: ResourceBucket}
	}
	return Scope{Type: ResourceFolder, Path: folderPath(segs[:len(segs)-1])}
}

func (s Scope) String() string {
	return string(s.Type) + ":" + s.Path
}

func folderPath(segs []string) string {
	return "/" + strings.Join(segs, "/") + "/"
}

// splitPath returns the non-empty segments of p. Relative segments and
// paths deeper than MaxPathDepth are rejected.
func splitPath(p string) ([]string, error) {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		switch s {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("%w: relative segment in %q", ErrInvalidPath, p)
		}
		segs = append(segs, s)
		if len(segs) > MaxPathDepth {
			return nil, fmt.Errorf("%w: more than %d segments", ErrPathTooDeep, MaxPathDepth)
		}
	}
	return segs, nil
}

// hasSegmentPrefix reports whether path lies at or below prefix, comparing
// whole segments so that "/public/" does not cover "/publications/".
func hasSegmentPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}
