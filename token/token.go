// Package token issues and verifies analyzer credentials:
// base64url(header) "." base64url(payload) "." HEX(ed25519 signature).
// The signature segment is hex, not base64url, because that is what
// the analyzer side decoder expects.
package token

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/identity"
)

const (
	DefaultMaxLen = 1024
	// signing input must fit firmware buffer
	MaxSigningInput = 767

	// PlausibleUnix is 2023-11-14. Timestamps below come from a clock
	// that was not synchronized yet.
	PlausibleUnix int64 = 1700000000
)

var (
	ErrNoIdentity   = errors.New("token: no identity")
	ErrTooLarge     = errors.New("token: too large")
	ErrSign         = errors.New("token: sign failed")
	ErrSelfVerify   = errors.New("token: self verification failed")
	ErrMalformed    = errors.New("token: malformed")
	ErrBadSignature = errors.New("token: invalid signature")
	ErrAudience     = errors.New("token: audience does not match")
)

var header = []byte(`{"alg":"Ed25519","typ":"JWT"}`)

// Claims field order is the wire order.
type Claims struct {
	PublicKey string `json:"publicKey"`
	Audience  string `json:"aud"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Client    string `json:"client,omitempty"`
}

type Options struct {
	Audience string
	IssuedAt time.Time
	TTL      time.Duration
	Owner    string // owner public key hex
	Client   string // client version tag
	MaxLen   int
}

// Issue signs new token and verifies the signature before returning it.
// On error nothing is returned.
func Issue(id identity.Identity, opt Options) (string, *Claims, error) {
	if id == nil || len(id.PublicKey()) != ed25519.PublicKeySize {
		return "", nil, ErrNoIdentity
	}
	if opt.Audience == "" {
		return "", nil, errors.NotValidf("token audience=%q", opt.Audience)
	}
	maxLen := opt.MaxLen
	if maxLen == 0 {
		maxLen = DefaultMaxLen
	}
	pub := id.PublicKey()
	claims := &Claims{
		PublicKey: helpers.HexUpper(pub),
		Audience:  opt.Audience,
		IssuedAt:  opt.IssuedAt.Unix(),
		Owner:     strings.ToUpper(opt.Owner),
		Client:    opt.Client,
	}
	if opt.TTL > 0 {
		claims.ExpiresAt = claims.IssuedAt + int64(opt.TTL/time.Second)
	}
	payload, err := marshal(claims)
	if err != nil {
		return "", nil, errors.Annotate(err, "token payload")
	}

	enc := base64.RawURLEncoding
	input := make([]byte, 0, enc.EncodedLen(len(header))+1+enc.EncodedLen(len(payload)))
	input = appendBase64(input, header)
	input = append(input, '.')
	input = appendBase64(input, payload)
	if len(input) > MaxSigningInput {
		return "", nil, errors.Wrap(errors.Errorf("signing input length=%d", len(input)), ErrTooLarge)
	}

	sig, err := id.Sign(input)
	if err != nil {
		return "", nil, errors.Wrap(err, ErrSign)
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, input, sig) {
		return "", nil, ErrSelfVerify
	}

	total := len(input) + 1 + hex.EncodedLen(len(sig))
	if total >= maxLen {
		return "", nil, errors.Wrap(errors.Errorf("token length=%d max=%d", total, maxLen), ErrTooLarge)
	}
	var b strings.Builder
	b.Grow(total)
	b.Write(input)
	b.WriteByte('.')
	b.WriteString(helpers.HexUpper(sig))
	return b.String(), claims, nil
}

// Parse decodes claims without checking the signature.
func Parse(tok string) (*Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return nil, errors.Wrap(errors.Errorf("parts=%d", len(parts)), ErrMalformed)
	}
	h, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errors.Wrap(err, ErrMalformed)
	}
	if !bytes.Equal(h, header) {
		return nil, errors.Wrap(errors.Errorf("header=%s", h), ErrMalformed)
	}
	p, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.Wrap(err, ErrMalformed)
	}
	c := &Claims{}
	if err = json.Unmarshal(p, c); err != nil {
		return nil, errors.Wrap(err, ErrMalformed)
	}
	return c, nil
}

// Verify checks signature against public key embedded in claims.
// Non-empty audience must match.
func Verify(tok string, audience string) (*Claims, error) {
	c, err := Parse(tok)
	if err != nil {
		return nil, err
	}
	i := strings.LastIndexByte(tok, '.')
	sig, err := hex.DecodeString(tok[i+1:])
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, ErrBadSignature
	}
	pub, err := hex.DecodeString(c.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, errors.Wrap(errors.Errorf("publicKey=%s", c.PublicKey), ErrMalformed)
	}
	if !ed25519.Verify(pub, []byte(tok[:i]), sig) {
		return nil, ErrBadSignature
	}
	if audience != "" && c.Audience != audience {
		return nil, ErrAudience
	}
	return c, nil
}

// RenewalDue reports whether token with these claims must be replaced:
// no expiry, expiry recorded before clock sync, or within buffer of expiry.
func (c *Claims) RenewalDue(now time.Time, buffer time.Duration) bool {
	if c == nil || c.ExpiresAt == 0 || c.ExpiresAt < PlausibleUnix {
		return true
	}
	return now.Unix() >= c.ExpiresAt-int64(buffer/time.Second)
}

func (c *Claims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.ExpiresAt, 0)
}

func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	e := json.NewEncoder(&buf)
	e.SetEscapeHTML(false)
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func appendBase64(dst, src []byte) []byte {
	n := len(dst)
	enc := base64.RawURLEncoding
	dst = append(dst, make([]byte, enc.EncodedLen(len(src)))...)
	enc.Encode(dst[n:], src)
	return dst
}
