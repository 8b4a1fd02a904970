package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

const base62Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ComputeHMAC256 signs the payload with HMAC-SHA256 and returns the
// lowercase hex digest.
func ComputeHMAC256(toSign []byte, secretKey string) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(toSign)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// VerifyHMAC256 recomputes the signature for the payload and compares
// it to the provided hex digest in constant time.
func VerifyHMAC256(secretKey string, toSign []byte, providedHex string) bool {
	computed := ComputeHMAC256(toSign, secretKey)
	return hmac.Equal([]byte(computed), []byte(providedHex))
}

func Sha256Hash(str string) []byte {
	hash := sha256.Sum256([]byte(str))
	return hash[:]
}

// Sha256Hex returns the hex digest of the SHA-256 hash of str. Used as
// the non-reversible stored form of API key secrets.
func Sha256Hex(str string) string {
	return hex.EncodeToString(Sha256Hash(str))
}

// SecureCompare reports whether a equals b without leaking the position
// of the first differing byte.
func SecureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// RandomBase62 returns a random string of length n over [A-Za-z0-9],
// drawn from crypto/rand with rejection sampling to keep the
// distribution uniform.
func RandomBase62(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			// 248 is the largest multiple of 62 below 256.
			if b >= 248 {
				continue
			}
			out = append(out, base62Alphabet[int(b)%62])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// EncryptString encrypts str with AES-256-GCM using a key derived from
// the passphrase, returning a hex string of nonce||ciphertext.
func EncryptString(str string, passphrase string) (string, error) {
	data := []byte(str)

	block, _ := aes.NewCipher(Sha256Hash(passphrase))

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("EncryptString error: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("EncryptString reader error: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, data, nil)

	return fmt.Sprintf("%x", ciphertext), nil
}

func Decrypt(data []byte, passphrase string) ([]byte, error) {
	block, err := aes.NewCipher(Sha256Hash(passphrase))
	if err != nil {
		return nil, fmt.Errorf("Decrypt new cipher error: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("Decrypt new gcm error: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("Decrypt data shorter than nonce")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("Decrypt open gcm error: %w", err)
	}

	return plaintext, nil
}

func DecryptFromHexString(str string, passphrase string) (string, error) {
	if str == "" {
		return "", fmt.Errorf("DecryptFromHexString empty string")
	}

	data, err := hex.DecodeString(str)
	if err != nil {
		return "", fmt.Errorf("DecryptFromHexString decode error: %w", err)
	}

	decodedBytes, errDec := Decrypt(data, passphrase)
	if errDec != nil {
		return "", fmt.Errorf("DecryptFromHexString decrypt error: %w", errDec)
	}

	return string(decodedBytes), nil
}
