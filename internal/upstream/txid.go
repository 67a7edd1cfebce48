package upstream

import (
	"crypto/rand"
	"encoding/binary"
)

// newTxID generates a random DNS transaction ID. Randomness here is a
// cache/spoofing defense, not a security boundary on its own — paired
// with validateResponse's question-echo check per the teacher's own
// anti-poisoning posture.
func newTxID() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}
