// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package auth

import (
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"
)

// acceptedKeyCacheSize bounds the digests of keys already verified.
const acceptedKeyCacheSize = 64

// APIKeyVerifier checks presented API keys against bcrypt hashes.
type APIKeyVerifier struct {
	hashes   [][]byte
	accepted *lru.Cache[[sha256.Size]byte, struct{}]
}

// NewAPIKeyVerifier builds a verifier. An empty hash list yields a verifier
// that accepts nothing; callers decide whether to mount it at all.
func NewAPIKeyVerifier(hashes []string) (*APIKeyVerifier, error) {
	cache, err := lru.New[[sha256.Size]byte, struct{}](acceptedKeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}
	v := &APIKeyVerifier{accepted: cache}
	for i, h := range hashes {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("api key hash %d: %w", i, err)
		}
		v.hashes = append(v.hashes, []byte(h))
	}
	return v, nil
}

// Enabled reports whether any key is configured.
func (v *APIKeyVerifier) Enabled() bool {
	return len(v.hashes) > 0
}

// Verify reports whether key matches one of the configured hashes.
func (v *APIKeyVerifier) Verify(key string) bool {
	if key == "" || len(v.hashes) == 0 {
		return false
	}
	digest := sha256.Sum256([]byte(key))
	if v.accepted.Contains(digest) {
		return true
	}
	for _, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			v.accepted.Add(digest, struct{}{})
			return true
		}
	}
	return false
}
