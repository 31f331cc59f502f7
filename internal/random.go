package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"math/big"
	"strings"
)

// BackupCodeAlphabet excludes visually ambiguous characters (0/O, 1/I/L).
const BackupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewBackupCode generates one random backup code of the given length from
// [BackupCodeAlphabet]. randomIndex may be injected for deterministic tests;
// nil selects crypto/rand.
func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

func cryptoRandomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// FormatBackupCode inserts a mid-point dash for display (ABCDE-FGHJK).
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode strips whitespace and dashes and uppercases, so
// user input matches regardless of formatting.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeHash binds the code hash to its owner so identical codes issued
// to different users never collide in storage.
func BackupCodeHash(userID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

// NewOTP generates a numeric one-time code with the given digit count.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// HashCode is the storage form of short-lived one-time codes (SMS). The
// plaintext is returned to the caller for delivery and never persisted.
func HashCode(userID, code string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(code))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, code...)
	return sha256.Sum256(data)
}

// ConstantTimeEqual compares two 32-byte digests without leaking timing.
func ConstantTimeEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
