package auth

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// DeriveFingerprint hashes client and network characteristics into a
// non-reversible device signature. It is a continuity heuristic, not a
// security boundary: collisions are possible, and the trust check treats
// any ambiguity as untrusted.
func DeriveFingerprint(ipAddress, userAgent, displaySignature string) string {
	data := strings.Join([]string{ipAddress, userAgent, displaySignature}, ":")
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)[:32]
}
