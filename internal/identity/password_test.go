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
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// TestPurpose: Validates Argon2id hashing and legacy bcrypt verification.
// Scope: Unit Test
// Security: Credentials are stored as salted one-way hashes.
// Expected: Correct passwords verify, wrong ones do not, bcrypt hashes flagged for rehash.
// Test Case ID: PWD-01
func TestPasswordHasher_HashAndVerify(t *testing.T) {
	h := testHasher()

	hash, err := h.Hash("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ok, err := h.Verify("correct-horse-battery-staple", hash); err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}
	if ok, _ := h.Verify("wrong", hash); ok {
		t.Fatal("expected wrong password to fail")
	}
	if h.NeedsRehash(hash) {
		t.Fatal("argon2 hash should not need rehash")
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if ok, err := h.Verify("legacy-pass", string(legacy)); err != nil || !ok {
		t.Fatalf("expected legacy hash to verify, ok=%v err=%v", ok, err)
	}
	if ok, _ := h.Verify("nope", string(legacy)); ok {
		t.Fatal("expected wrong legacy password to fail")
	}
	if !h.NeedsRehash(string(legacy)) {
		t.Fatal("bcrypt hash should need rehash")
	}

	if _, err := h.Verify("x", "plaintext"); err == nil {
		t.Fatal("expected malformed hash error")
	}
}

func BenchmarkPasswordHasher_Verify(b *testing.B) {
	hasher := NewPasswordHasher(64*1024, 1, 4, 16, 32)
	password := "correct-horse-battery-staple"
	hash, _ := hasher.Hash(password)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		valid, err := hasher.Verify(password, hash)
		if err != nil || !valid {
			b.Fatalf("verify failed: %v", err)
		}
	}
}
