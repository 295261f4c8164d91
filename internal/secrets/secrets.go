// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package secrets provides normalization, digests and generation for
// recovery proof material (answers, backup codes, email tokens).
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// BackupCodeCount is the number of backup codes issued per user.
	BackupCodeCount = 5
	// backupCodeGroupLen is the length of each half of a backup code.
	backupCodeGroupLen = 3
	// TokenLength is the number of random bytes for recovery tokens.
	TokenLength = 32
)

// alphabet for backup codes.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NormalizeUsername normalizes a username for lookup.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeAnswer normalizes a security-question answer before hashing.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// NormalizeCode normalizes a backup code before hashing.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Digest returns the SHA256 hex digest of the input.
// Callers are expected to normalize first.
func Digest(value string) string {
	hash := sha256.Sum256([]byte(value))
	return hex.EncodeToString(hash[:])
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewBackupCodes generates backup codes in the form XXX-YYY.
// Uniqueness against previously issued codes is the caller's concern;
// collisions surface as uniqueness violations at persist time.
func NewBackupCodes() ([]string, error) {
	codes := make([]string, BackupCodeCount)
	for i := range codes {
		code, err := randomCode(2 * backupCodeGroupLen)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = code[:backupCodeGroupLen] + "-" + code[backupCodeGroupLen:]
	}
	return codes, nil
}

// NewToken generates a high-entropy recovery token (hex-encoded).
func NewToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// randomCode returns a random string of the given length over the
// backup code alphabet.
func randomCode(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	for i := range bytes {
		bytes[i] = alphabet[int(bytes[i])%len(alphabet)]
	}
	return string(bytes), nil
}
