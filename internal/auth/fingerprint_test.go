package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveFingerprint_Deterministic(t *testing.T) {
	a := DeriveFingerprint("192.168.1.1", "Mozilla/5.0", "1920x1080")
	b := DeriveFingerprint("192.168.1.1", "Mozilla/5.0", "1920x1080")

	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestDeriveFingerprint_SensitiveToEachInput(t *testing.T) {
	base := DeriveFingerprint("192.168.1.1", "Mozilla/5.0", "1920x1080")

	assert.NotEqual(t, base, DeriveFingerprint("10.0.0.1", "Mozilla/5.0", "1920x1080"))
	assert.NotEqual(t, base, DeriveFingerprint("192.168.1.1", "curl/8.0", "1920x1080"))
	assert.NotEqual(t, base, DeriveFingerprint("192.168.1.1", "Mozilla/5.0", "2560x1440"))
}

func TestDeriveFingerprint_NotReversible(t *testing.T) {
	fp := DeriveFingerprint("192.168.1.1", "Mozilla/5.0", "1920x1080")

	assert.NotContains(t, fp, "192.168.1.1")
	assert.NotContains(t, fp, "Mozilla")
}
