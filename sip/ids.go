package sip

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	satori "github.com/satori/go.uuid"
)

// GenerateCallID produces a fresh Call-ID local part, grounded on the
// teacher's sipgo.Init()/uuid.EnableRandPool() use of google/uuid for
// per-request identifiers.
func GenerateCallID() string {
	return uuid.New().String()
}

// GenerateTag produces a local or to-tag value (RFC 3261 §19.3 wants at
// least 32 bits of randomness; the 8 hex digits of a uuid's first section
// carry exactly 32).
func GenerateTag() string {
	return uuid.New().String()[:8]
}

// GenerateBranch produces a Via branch parameter. RFC 3261 §8.1.1.7 requires
// the "z9hG4bK" magic cookie prefix so downstream elements can recognize an
// RFC 3261 compliant branch.
func GenerateBranch() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable on any real OS; fall back to
		// a UUID-derived branch rather than panic.
		return "z9hG4bK" + uuid.New().String()[:16]
	}
	return "z9hG4bK" + hex.EncodeToString(buf)
}

// NextEventID assigns a correlation id to an emitted UA event so a shell's
// log viewer can line up a `log` line with the `status`/`callState` event it
// caused. Grounded on the teacher's sip.NextMessageID, which used the same
// satori/go.uuid call for the same purpose (tagging an otherwise anonymous
// unit of work with a traceable id).
func NextEventID() string {
	return satori.Must(satori.NewV4()).String()
}
