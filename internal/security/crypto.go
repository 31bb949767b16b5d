package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Supported encryption algorithms.
const (
	AlgorithmAES256GCM = "aes-256-gcm"
	AlgorithmAES256CBC = "aes-256-cbc"
)

// Ciphertext layout: a two-byte header (format version, algorithm id),
// the 16-byte IV, the 16-byte authentication tag for authenticated modes,
// then the ciphertext. The header lets decrypt reject a buffer produced by
// a different algorithm instead of misreading its layout.
const (
	formatVersion = 0x01
	algIDGCM      = 0x01
	algIDCBC      = 0x02
	headerLen     = 2
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	keyLen       = 32 // 256 bits
	ivLen        = 16
	gcmTagLen    = 16
)

// Key derivation uses a fixed salt so the same passphrase always yields the
// same key; the ciphertext layout carries no salt.
var kdfSalt = []byte("file-service/encryption/v1")

// CryptoError describes a failed encryption or decryption operation. Decrypt
// returns it before any plaintext when authentication or padding fails.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

func deriveKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), kdfSalt, argonTime, argonMemory, argonThreads, keyLen)
}

func algorithmID(algorithm string) (byte, error) {
	switch algorithm {
	case AlgorithmAES256GCM:
		return algIDGCM, nil
	case AlgorithmAES256CBC:
		return algIDCBC, nil
	default:
		return 0, fmt.Errorf("unknown algorithm: %s", algorithm)
	}
}

// Encrypt encrypts data with a key derived from passphrase using the named
// algorithm and prepends the versioned format header.
func Encrypt(data []byte, passphrase, algorithm string) ([]byte, error) {
	if passphrase == "" {
		return nil, &CryptoError{Op: "encrypt", Err: fmt.Errorf("encryption key is not configured")}
	}
	id, err := algorithmID(algorithm)
	if err != nil {
		return nil, &CryptoError{Op: "encrypt", Err: err}
	}
	switch id {
	case algIDGCM:
		return encryptGCM(data, passphrase)
	default:
		return encryptCBC(data, passphrase)
	}
}

// Decrypt is the exact inverse of Encrypt. It validates the format header
// against the requested algorithm before touching the ciphertext; a wrong
// passphrase, tampered bytes, or an algorithm mismatch fail with CryptoError
// and no partial plaintext is ever returned.
func Decrypt(data []byte, passphrase, algorithm string) ([]byte, error) {
	if passphrase == "" {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("encryption key is not configured")}
	}
	id, err := algorithmID(algorithm)
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Err: err}
	}
	if len(data) < headerLen {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("ciphertext too short: %d bytes", len(data))}
	}
	if data[0] != formatVersion {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("unsupported format version: %#x", data[0])}
	}
	if data[1] != id {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("ciphertext algorithm %#x does not match %s", data[1], algorithm)}
	}

	body := data[headerLen:]
	switch id {
	case algIDGCM:
		return decryptGCM(body, passphrase)
	default:
		return decryptCBC(body, passphrase)
	}
}

func encryptGCM(plaintext []byte, passphrase string) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return nil, &CryptoError{Op: "encrypt", Err: fmt.Errorf("new cipher: %w", err)}
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, &CryptoError{Op: "encrypt", Err: fmt.Errorf("new gcm: %w", err)}
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, &CryptoError{Op: "encrypt", Err: fmt.Errorf("generate iv: %w", err)}
	}

	// Seal appends the tag after the ciphertext; the stored layout puts it
	// between IV and ciphertext instead.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcmTagLen]
	tag := sealed[len(sealed)-gcmTagLen:]

	out := make([]byte, 0, headerLen+ivLen+gcmTagLen+len(ciphertext))
	out = append(out, formatVersion, algIDGCM)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

func decryptGCM(body []byte, passphrase string) ([]byte, error) {
	if len(body) < ivLen+gcmTagLen {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("ciphertext too short: %d bytes", len(body))}
	}
	iv := body[:ivLen]
	tag := body[ivLen : ivLen+gcmTagLen]
	ciphertext := body[ivLen+gcmTagLen:]

	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("new cipher: %w", err)}
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("new gcm: %w", err)}
	}

	sealed := make([]byte, 0, len(ciphertext)+gcmTagLen)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("authentication failed: %w", err)}
	}
	return plaintext, nil
}

func encryptCBC(plaintext []byte, passphrase string) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return nil, &CryptoError{Op: "encrypt", Err: fmt.Errorf("new cipher: %w", err)}
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, &CryptoError{Op: "encrypt", Err: fmt.Errorf("generate iv: %w", err)}
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, headerLen+ivLen+len(ciphertext))
	out = append(out, formatVersion, algIDCBC)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

func decryptCBC(body []byte, passphrase string) ([]byte, error) {
	if len(body) < ivLen+aes.BlockSize || (len(body)-ivLen)%aes.BlockSize != 0 {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("invalid ciphertext length: %d bytes", len(body))}
	}
	iv := body[:ivLen]
	ciphertext := body[ivLen:]

	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Err: fmt.Errorf("new cipher: %w", err)}
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, &CryptoError{Op: "decrypt", Err: err}
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length: %d bytes", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
