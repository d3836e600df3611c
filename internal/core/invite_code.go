package core

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// InviteCodeAlphabet has 32 symbols and omits 0, O, 1 and I.
	InviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	InviteCodeLength   = 10
	InviteCodeTTL      = 7 * 24 * time.Hour
)

// NewInviteCode draws a code from crypto/rand.
func NewInviteCode() (string, error) {
	return GenerateInviteCode(rand.Reader)
}

// GenerateInviteCode draws InviteCodeLength symbols from r. 256 is a
// multiple of the alphabet size so the modulo does not bias the result.
func GenerateInviteCode(r io.Reader) (string, error) {
	buf := make([]byte, InviteCodeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	var b strings.Builder
	b.Grow(InviteCodeLength)
	for _, v := range buf {
		b.WriteByte(InviteCodeAlphabet[int(v)%len(InviteCodeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeInviteCode trims and upper-cases a code typed by a user.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
