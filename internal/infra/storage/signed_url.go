package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid download token")
	ErrTokenExpired = errors.New("download token expired")
)

// Signer creates and validates signed download tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Generate returns "<path>.<expiry>.<signature>" with the path base64url encoded.
func (s *Signer) Generate(fileID string, ttl time.Duration) (string, time.Time, error) {
	if fileID == "" {
		return "", time.Time{}, fmt.Errorf("file id required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := s.now().Add(ttl)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(fileID))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	return strings.Join([]string{encoded, ts, s.sign(encoded, ts)}, "."), expiresAt, nil
}

// Parse validates a token and returns the file ID it carries.
func (s *Signer) Parse(token string) (string, time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", time.Time{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(s.sign(parts[0], parts[1])), []byte(parts[2])) {
		return "", time.Time{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", time.Time{}, ErrInvalidToken
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, ErrInvalidToken
	}
	expiresAt := time.Unix(exp, 0)
	if s.now().After(expiresAt) {
		return "", expiresAt, ErrTokenExpired
	}
	return string(raw), expiresAt, nil
}

func (s *Signer) sign(encoded, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encoded + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
