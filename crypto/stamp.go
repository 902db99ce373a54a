/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StampVersion is the wire-format version emitted in every stamp.
const StampVersion = "1"

// delimiter precedes the stamp footer in every stamped artifact.
const delimiter = "\n\n---\n"

// stampPattern parses the footer emitted by Emit. Capture groups:
// 1=version 2=shortId8 3=timestamp 4=nonce 5=signature.
var stampPattern = regexp.MustCompile(
	`🔏 Argus v(\S+) · <code>([0-9a-f]{8})</code> · (\S+) · <code>sig:([0-9a-f]+):([0-9a-f]+)</code>`,
)

// Stamp is the parsed, verifiable record carried by every artifact
// Argus emits: a comment, a PR body, a branch commit message.
type Stamp struct {
	InstanceID      string // public, full 64-bit hex instance id of the verifying process
	ShortInstanceID string // the 8-hex-char instance id prefix carried in the footer itself
	Version         string
	Timestamp       time.Time
	Nonce           string // 64-bit hex
	ContentHash     string // hex SHA-256 of the bytes preceding the footer
	Signature       string // hex HMAC-SHA256
}

// IsOwn reports whether a verified stamp was emitted by this same
// Argus instance, as opposed to a different instance whose comments
// happen to appear on the same issue or PR.
func (s Stamp) IsOwn(km *KeyManager) bool {
	return strings.HasPrefix(km.InstanceID(), s.ShortInstanceID)
}

// Stamper emits and verifies stamps using a KeyManager's signing keys
// and a NonceRegistry for anti-replay.
type Stamper struct {
	keys   *KeyManager
	nonces *NonceRegistry
}

// NewStamper builds a Stamper over the given key manager and nonce
// registry.
func NewStamper(keys *KeyManager, nonces *NonceRegistry) *Stamper {
	return &Stamper{keys: keys, nonces: nonces}
}

// Emit appends a stamp footer to content and returns the stamped
// bytes. The signature covers instanceId|timestamp|nonce|content_hash,
// where content_hash is the SHA-256 of content itself (the bytes
// preceding the stamp).
func (s *Stamper) Emit(content string) (string, error) {
	nonce := uuid.NewString()

	ts := now().UTC().Format(time.RFC3339)
	contentHash := sha256Hex([]byte(content))
	instanceID := s.keys.InstanceID()

	sig := s.sign(instanceID, ts, nonce, contentHash, s.keys.CurrentKey())

	shortID := instanceID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	footer := fmt.Sprintf("🔏 Argus v%s · <code>%s</code> · %s · <code>sig:%s:%s</code>",
		StampVersion, shortID, ts, nonce, sig)

	return content + delimiter + footer, nil
}

func (s *Stamper) sign(instanceID, timestamp, nonce, contentHash string, key []byte) string {
	payload := strings.Join([]string{instanceID, timestamp, nonce, contentHash}, "|")
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verification errors returned by Verify.
var (
	ErrNoStamp         = errors.New("crypto: no stamp footer found")
	ErrMalformedStamp  = errors.New("crypto: malformed stamp footer")
	ErrBadSignature    = errors.New("crypto: stamp signature does not verify against any known key")
	ErrFutureTimestamp = errors.New("crypto: stamp timestamp is too far in the future")
)

// maxClockSkew is how far into the future a stamp's timestamp may sit
// before Verify rejects it.
const maxClockSkew = 60 * time.Second

// Verify extracts the stamp footer from stamped, recomputes the
// content hash over the prefix, and validates the HMAC against every
// key in keys (current and previous, to tolerate rotation). commentID
// identifies where this stamp was seen, for nonce-replay binding via
// registry; pass an empty string if the caller has no comment context
// and only wants signature/timestamp verification.
func (s *Stamper) Verify(ctx context.Context, stamped string, commentID string) (Stamp, error) {
	idx := strings.LastIndex(stamped, delimiter)
	if idx < 0 {
		return Stamp{}, ErrNoStamp
	}
	content := stamped[:idx]
	footer := stamped[idx+len(delimiter):]

	m := stampPattern.FindStringSubmatch(footer)
	if m == nil {
		return Stamp{}, ErrMalformedStamp
	}
	version, shortID, timestampRaw, nonce, signature := m[1], m[2], m[3], m[4], m[5]

	ts, err := time.Parse(time.RFC3339, timestampRaw)
	if err != nil {
		return Stamp{}, fmt.Errorf("%w: %v", ErrMalformedStamp, err)
	}
	if ts.After(now().Add(maxClockSkew)) {
		return Stamp{}, ErrFutureTimestamp
	}

	contentHash := sha256Hex([]byte(content))

	// Verify() only confirms this process's own artifacts: a stamp
	// whose short ID doesn't match our instance ID can never validate
	// against our keys, so it fails signature comparison below rather
	// than needing a separate short-circuit.
	instanceID := s.keys.InstanceID()

	valid := false
	for _, key := range s.keys.VerificationKeys() {
		expected := s.sign(instanceID, timestampRaw, nonce, contentHash, key)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1 {
			valid = true
			break
		}
	}
	if !valid {
		return Stamp{}, ErrBadSignature
	}

	if s.nonces != nil {
		if err := s.nonces.Register(ctx, NonceEntry{
			Nonce:     nonce,
			Timestamp: ts,
			CommentID: commentID,
			Action:    "stamp-verify",
		}); err != nil {
			return Stamp{}, err
		}
	}

	return Stamp{
		InstanceID:      instanceID,
		ShortInstanceID: shortID,
		Version:         version,
		Timestamp:       ts,
		Nonce:           nonce,
		ContentHash:     contentHash,
		Signature:       signature,
	}, nil
}

// ParseShortInstanceID extracts the 8-character instance id prefix
// from a stamp footer without verifying its signature. Used by
// pranalyzer to tell "our own PR" from "a different Argus instance's
// PR" when scanning competing pull requests we have no key to verify.
func ParseShortInstanceID(stamped string) (string, bool) {
	idx := strings.LastIndex(stamped, delimiter)
	if idx < 0 {
		return "", false
	}
	m := stampPattern.FindStringSubmatch(stamped[idx+len(delimiter):])
	if m == nil {
		return "", false
	}
	return m[2], true
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
