/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"crypto/rand"
	"encoding/hex"
)

// randomString returns a short random hex string, used by tests that just
// need a unique value and don't care what it is.
func randomString() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
