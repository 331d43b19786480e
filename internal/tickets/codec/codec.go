// Package codec turns a ticket into a self-describing, signed transport string
// that a scanner can verify without a database round-trip.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ms-engagements/internal/config"
	"ms-engagements/internal/models"
	"ms-engagements/internal/signature"
)

var (
	ErrMalformedTicket = errors.New("malformed ticket")
	ErrUnsigned        = errors.New("ticket has no signature")
)

var transport = base64.RawURLEncoding.Strict()

// Payload is the decoded content of a transport string.
type Payload struct {
	TicketID  string `json:"tid"`
	EventID   string `json:"eid"`
	HolderID  string `json:"hid"`
	IssuedAt  int64  `json:"iat"`
	Signature string `json:"sig"`
}

func (p Payload) IssuedTime() time.Time {
	return time.Unix(p.IssuedAt, 0).UTC()
}

type Codec struct {
	keys *signature.KeyRing
}

func New(keys *signature.KeyRing) *Codec {
	return &Codec{keys: keys}
}

// Sign computes sign(id, eventId, holderId, issuedAt) under the current key.
func (c *Codec) Sign(t models.Ticket) (string, error) {
	return c.keys.Sign(signedFields(t.ID, t.EventID, t.HolderID, t.IssuedAt.Unix())...)
}

// Encode serializes the ticket's claims and stored signature.
func (c *Codec) Encode(t models.Ticket) (string, error) {
	if t.Signature == "" {
		return "", ErrUnsigned
	}
	return encodePayload(Payload{
		TicketID:  t.ID,
		EventID:   t.EventID,
		HolderID:  t.HolderID,
		IssuedAt:  t.IssuedAt.Unix(),
		Signature: t.Signature,
	})
}

// Decode parses a transport string. Anything other than the canonical encoding
// of a complete payload is ErrMalformedTicket.
func Decode(s string) (Payload, error) {
	raw, err := transport.DecodeString(s)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedTicket, err)
	}

	var p Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedTicket, err)
	}
	if p.TicketID == "" || p.EventID == "" || p.HolderID == "" || p.Signature == "" || p.IssuedAt <= 0 {
		return Payload{}, fmt.Errorf("%w: missing claims", ErrMalformedTicket)
	}

	canonical, err := encodePayload(p)
	if err != nil || canonical != s {
		return Payload{}, fmt.Errorf("%w: non-canonical encoding", ErrMalformedTicket)
	}
	return p, nil
}

// Validate decodes s and re-derives its signature. A payload that decodes but
// does not verify is still returned so the caller can log the attempt.
func (c *Codec) Validate(s string) (bool, *Payload) {
	p, err := Decode(s)
	if err != nil {
		return false, nil
	}
	if err := c.keys.Verify(p.Signature, signedFields(p.TicketID, p.EventID, p.HolderID, p.IssuedAt)...); err != nil {
		return false, &p
	}
	return true, &p
}

func signedFields(id, eventID, holderID string, issuedAt int64) []string {
	return []string{id, eventID, holderID, strconv.FormatInt(issuedAt, 10)}
}

func encodePayload(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return transport.EncodeToString(raw), nil
}

// FromConfig builds a codec over the configured current and retired signing keys.
func FromConfig(cfg config.TicketConfig) (*Codec, error) {
	opts := []signature.Option{signature.WithGrace(cfg.KeyGrace)}
	for _, k := range cfg.RetiredKeys {
		opts = append(opts, signature.WithRetiredKey(k.Secret, k.RetiredAt))
	}
	keys, err := signature.NewKeyRing(cfg.SigningKey, opts...)
	if err != nil {
		return nil, err
	}
	return New(keys), nil
}
