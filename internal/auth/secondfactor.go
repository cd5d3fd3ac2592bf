package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// SecondFactorManager generates, encrypts, and validates TOTP secrets for
// the second-factor step. How codes are displayed to the user is the
// authenticator app's concern; this only decides pass/fail.
type SecondFactorManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string
}

// NewSecondFactorManager creates a new SecondFactorManager.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewSecondFactorManager(encryptionKey []byte, issuer string) (*SecondFactorManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &SecondFactorManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// Enrollment is the result of provisioning a new TOTP secret.
type Enrollment struct {
	EncryptedSecret string // store this on the subject row
	Secret          string // show once during setup
	QRDataURL       string // provisioning URI as a PNG data URL
}

// Enroll generates a secret for accountEmail and returns the encrypted
// form for storage plus the setup material.
func (sm *SecondFactorManager) Enroll(accountEmail string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      sm.issuer,
		AccountName: accountEmail,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, err := sm.encryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		EncryptedSecret: encrypted,
		Secret:          key.Secret(),
		QRDataURL:       "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// Validate checks a TOTP code against a stored encrypted secret.
// Allows ±1 time step for clock drift.
func (sm *SecondFactorManager) Validate(encryptedSecret, code string) (bool, error) {
	secret, err := sm.decryptSecret(encryptedSecret)
	if err != nil {
		return false, err
	}

	valid, err := totp.ValidateCustom(code, string(secret), time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}

	return valid, nil
}

// encryptSecret seals the secret with AES-256-GCM. The nonce is prepended
// to the ciphertext so a single column stores the whole thing.
func (sm *SecondFactorManager) encryptSecret(secret []byte) (string, error) {
	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, secret, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (sm *SecondFactorManager) decryptSecret(encrypted string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret: %w", err)
	}

	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted secret too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return plaintext, nil
}
