// Package comms implements the workshop channel cipher: AES-256-GCM with a
// PBKDF2-derived key per channel. The passphrase and salt are deterministic
// functions of the channel name, so anyone who knows the channel name can
// derive the same key. This obfuscates content against the storage operator;
// it is not confidentiality between members of the same channel.
package comms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyIterations = 100000
	keyLength     = 32
	ivLength      = 12

	// DecryptFailed is returned in place of plaintext when a message cannot
	// be decrypted, so chat history rendering never blocks on bad ciphertext.
	DecryptFailed = "[ENCRYPTED - Unable to decrypt]"
)

func channelPassphrase(channel string) string {
	return "workshop-secure-comms-" + channel + "-v1"
}

func channelSalt(channel string) []byte {
	return []byte("kintsugi-workshop-" + channel)
}

// DeriveChannelKey derives the AES-256 key for a channel.
func DeriveChannelKey(channel string) []byte {
	return pbkdf2.Key([]byte(channelPassphrase(channel)), channelSalt(channel), keyIterations, keyLength, sha256.New)
}

// EncryptMessage encrypts plaintext for a channel. The random IV is prepended
// to the ciphertext and the combined buffer is base64 encoded.
func EncryptMessage(plaintext, channel string) (string, error) {
	block, err := aes.NewCipher(DeriveChannelKey(channel))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	combined := append(iv, sealed...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

// DecryptMessage reverses EncryptMessage. On any failure it returns the
// DecryptFailed sentinel instead of an error.
func DecryptMessage(encoded, channel string) string {
	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(combined) < ivLength {
		return DecryptFailed
	}
	block, err := aes.NewCipher(DeriveChannelKey(channel))
	if err != nil {
		return DecryptFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return DecryptFailed
	}
	iv := combined[:ivLength]
	plaintext, err := gcm.Open(nil, iv, combined[ivLength:], nil)
	if err != nil {
		return DecryptFailed
	}
	return string(plaintext)
}

// GenerateChannelID returns a random 32-char hex channel identifier.
func GenerateChannelID() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashString returns the SHA-256 hex digest of input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
