package pgctl

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	scramIterations = 4096
	scramSaltLen    = 16
	scramPrefix     = "SCRAM-SHA-256$"
)

// SCRAMVerifier returns the pg_authid.rolpassword form of password, so the
// plaintext never reaches the server or its statement log.
func SCRAMVerifier(password string) (string, error) {
	salt := make([]byte, scramSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return scramVerifier(password, salt, scramIterations), nil
}

func scramVerifier(password string, salt []byte, iterations int) string {
	stored, server := scramKeys(password, salt, iterations)
	enc := base64.StdEncoding
	return fmt.Sprintf("%s%d:%s$%s:%s", scramPrefix, iterations,
		enc.EncodeToString(salt), enc.EncodeToString(stored), enc.EncodeToString(server))
}

func scramKeys(password string, salt []byte, iterations int) (stored, server []byte) {
	salted := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)

	mac := hmac.New(sha256.New, salted)
	mac.Write([]byte("Client Key"))
	clientKey := mac.Sum(nil)
	sum := sha256.Sum256(clientKey)

	mac = hmac.New(sha256.New, salted)
	mac.Write([]byte("Server Key"))
	return sum[:], mac.Sum(nil)
}

// VerifySCRAM reports whether verifier was derived from password.
func VerifySCRAM(verifier, password string) (bool, error) {
	rest, ok := strings.CutPrefix(verifier, scramPrefix)
	if !ok {
		return false, ErrInvalidVerifier
	}
	params, keys, ok := strings.Cut(rest, "$")
	if !ok {
		return false, ErrInvalidVerifier
	}
	iterStr, saltStr, ok := strings.Cut(params, ":")
	if !ok {
		return false, ErrInvalidVerifier
	}
	storedStr, serverStr, ok := strings.Cut(keys, ":")
	if !ok {
		return false, ErrInvalidVerifier
	}

	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		return false, ErrInvalidVerifier
	}
	enc := base64.StdEncoding
	salt, err := enc.DecodeString(saltStr)
	if err != nil {
		return false, ErrInvalidVerifier
	}
	wantStored, err := enc.DecodeString(storedStr)
	if err != nil {
		return false, ErrInvalidVerifier
	}
	wantServer, err := enc.DecodeString(serverStr)
	if err != nil {
		return false, ErrInvalidVerifier
	}

	stored, server := scramKeys(password, salt, iterations)
	return subtle.ConstantTimeCompare(stored, wantStored) == 1 &&
		subtle.ConstantTimeCompare(server, wantServer) == 1, nil
}
