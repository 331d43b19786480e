// Package signature signs ticket fields with HMAC-SHA256 under a rotating key ring.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	version   = "v1"
	delimiter = "\n"

	// MaxRetiredKeys bounds how many retired keys are still consulted.
	MaxRetiredKeys = 3
)

var (
	ErrNoSigningKey = errors.New("signing key is empty")
	ErrFieldInvalid = errors.New("field contains the signature delimiter")
	ErrMismatch     = errors.New("signature mismatch")
)

type retiredKey struct {
	secret    []byte
	retiredAt time.Time
}

// KeyRing holds the current signing key plus recently retired ones.
// A retired key keeps verifying for Grace after its retirement.
type KeyRing struct {
	current []byte
	retired []retiredKey
	grace   time.Duration
	now     func() time.Time
}

type Option func(*KeyRing)

// WithRetiredKey adds a key that stopped signing at retiredAt.
func WithRetiredKey(secret string, retiredAt time.Time) Option {
	return func(k *KeyRing) {
		if secret == "" {
			return
		}
		k.retired = append(k.retired, retiredKey{secret: []byte(secret), retiredAt: retiredAt})
	}
}

func WithGrace(grace time.Duration) Option {
	return func(k *KeyRing) {
		k.grace = grace
	}
}

func WithClock(now func() time.Time) Option {
	return func(k *KeyRing) {
		k.now = now
	}
}

func NewKeyRing(current string, opts ...Option) (*KeyRing, error) {
	if current == "" {
		return nil, ErrNoSigningKey
	}
	k := &KeyRing{
		current: []byte(current),
		grace:   72 * time.Hour,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	// newest retirements first, older ones beyond the cap are dropped
	sort.SliceStable(k.retired, func(i, j int) bool {
		return k.retired[i].retiredAt.After(k.retired[j].retiredAt)
	})
	if len(k.retired) > MaxRetiredKeys {
		k.retired = k.retired[:MaxRetiredKeys]
	}
	return k, nil
}

// Canonical builds the exact byte string that is signed.
func Canonical(fields ...string) (string, error) {
	for _, f := range fields {
		if strings.Contains(f, delimiter) {
			return "", ErrFieldInvalid
		}
	}
	return version + delimiter + strings.Join(fields, delimiter), nil
}

// Sign signs the ordered fields with the current key.
func (k *KeyRing) Sign(fields ...string) (string, error) {
	msg, err := Canonical(fields...)
	if err != nil {
		return "", err
	}
	return encode(mac(k.current, msg)), nil
}

// Verify checks sig against the current key and every retired key still inside the grace window.
func (k *KeyRing) Verify(sig string, fields ...string) error {
	msg, err := Canonical(fields...)
	if err != nil {
		return err
	}
	got, err := base64.RawURLEncoding.Strict().DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: undecodable signature", ErrMismatch)
	}

	if hmac.Equal(got, mac(k.current, msg)) {
		return nil
	}
	now := k.now()
	for _, rk := range k.retired {
		if now.Sub(rk.retiredAt) > k.grace {
			continue
		}
		if hmac.Equal(got, mac(rk.secret, msg)) {
			return nil
		}
	}
	return ErrMismatch
}

func mac(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

func encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
