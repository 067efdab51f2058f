// Package identity is the node signing capability used for analyzer tokens.
// Node keys come in two forms: 32 byte ed25519 seed, or the 64 byte
// expanded private key (clamped scalar and nonce prefix) that radio firmware
// stores, optionally followed by the 32 byte public key.
package identity

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"strings"

	"filippo.io/edwards25519"
	"github.com/juju/errors"
	"github.com/temoto/meshrelay/helpers"
)

const (
	SeedSize     = ed25519.SeedSize
	ExpandedSize = 64
	PublicSize   = ed25519.PublicKeySize
)

type Identity interface {
	PublicKey() []byte
	Sign(msg []byte) ([]byte, error)
}

// PublicHex is uppercase hex public key, as used in usernames and tokens.
func PublicHex(id Identity) string {
	if id == nil {
		return ""
	}
	return helpers.HexUpper(id.PublicKey())
}

type seedKey struct{ prv ed25519.PrivateKey }

func FromSeed(seed []byte) (Identity, error) {
	if len(seed) != SeedSize {
		return nil, errors.NotValidf("seed length=%d", len(seed))
	}
	return seedKey{prv: ed25519.NewKeyFromSeed(seed)}, nil
}

func Generate(rand io.Reader) (Identity, error) {
	_, prv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, errors.Annotate(err, "identity generate")
	}
	return seedKey{prv: prv}, nil
}

func (k seedKey) PublicKey() []byte { return append([]byte(nil), k.prv.Public().(ed25519.PublicKey)...) }
func (k seedKey) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(k.prv, msg), nil
}

// Expanded signs with 64 byte expanded private key directly,
// stdlib ed25519 can only start from a seed.
type Expanded struct {
	scalar *edwards25519.Scalar
	prefix [32]byte
	pub    [PublicSize]byte
}

func FromExpanded(prv []byte) (*Expanded, error) {
	if len(prv) != ExpandedSize {
		return nil, errors.NotValidf("expanded key length=%d", len(prv))
	}
	s, err := edwards25519.NewScalar().SetBytesWithClamping(prv[:32])
	if err != nil {
		return nil, errors.Annotate(err, "expanded key scalar")
	}
	e := &Expanded{scalar: s}
	copy(e.prefix[:], prv[32:])
	copy(e.pub[:], new(edwards25519.Point).ScalarBaseMult(s).Bytes())
	return e, nil
}

// ExpandSeed returns expanded private key form of ed25519 seed.
func ExpandSeed(seed []byte) []byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:]
}

func (e *Expanded) PublicKey() []byte { return append([]byte(nil), e.pub[:]...) }

// Sign is RFC 8032 ed25519 with precomputed scalar and prefix.
func (e *Expanded) Sign(msg []byte) ([]byte, error) {
	h := sha512.New()
	h.Write(e.prefix[:])
	h.Write(msg)
	r, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, errors.Annotate(err, "sign nonce")
	}
	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	h.Reset()
	h.Write(R)
	h.Write(e.pub[:])
	h.Write(msg)
	k, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, errors.Annotate(err, "sign challenge")
	}
	S := edwards25519.NewScalar().MultiplyAdd(k, e.scalar, r)

	sig := make([]byte, 0, ed25519.SignatureSize)
	sig = append(sig, R...)
	sig = append(sig, S.Bytes()...)
	return sig, nil
}

// Parse accepts hex of seed, expanded key or expanded key followed by public key.
func Parse(s string) (Identity, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Annotate(err, "identity hex")
	}
	switch len(b) {
	case SeedSize:
		return FromSeed(b)
	case ExpandedSize:
		return FromExpanded(b)
	case ExpandedSize + PublicSize:
		e, err := FromExpanded(b[:ExpandedSize])
		if err != nil {
			return nil, err
		}
		if !ed25519.PublicKey(e.pub[:]).Equal(ed25519.PublicKey(b[ExpandedSize:])) {
			return nil, errors.Errorf("identity public key does not match private key")
		}
		return e, nil
	}
	return nil, errors.NotValidf("identity length=%d", len(b))
}

func LoadFile(fs helpers.FullReader, path string) (Identity, error) {
	b, err := fs.ReadAll(fs.Normalize(path))
	if err != nil {
		return nil, errors.Annotatef(err, "identity file=%s", path)
	}
	if b == nil {
		return nil, errors.NotFoundf("identity file=%s", path)
	}
	id, err := Parse(string(b))
	return id, errors.Annotatef(err, "identity file=%s", path)
}
