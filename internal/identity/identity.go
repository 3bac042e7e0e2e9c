// Package identity creates and restores the anonymous per-device session
// identity.
//
// The session key is 32 random bytes. The operator id is derived from it the
// way an Ethereum address is derived from a private key's hash: the last 20
// bytes of its Keccak-256 digest, hex encoded with a 0x prefix. Only the
// operator id ever leaves the device.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/toecm/pureconvo/internal/localstore"
)

// ErrInvalidKey is returned when a stored session key cannot be decoded.
var ErrInvalidKey = errors.New("identity: invalid session key")

const keyBytes = 32

// Identity is the durable anonymous identity of this device.
type Identity struct {
	// SessionID is the opaque session key, 0x-prefixed hex.
	SessionID string

	// OperatorID is the pseudo-address derived from SessionID.
	OperatorID string
}

// Short returns the abbreviated operator id shown in the UI footer.
func (id Identity) Short() string {
	if len(id.OperatorID) <= 6 {
		return id.OperatorID
	}
	return id.OperatorID[:6] + "..."
}

// Option configures [LoadOrCreate].
type Option func(*options)

type options struct {
	rand io.Reader
}

// WithRand overrides the entropy source. Intended for tests.
func WithRand(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

// LoadOrCreate returns the identity stored in s, generating and persisting a
// new one on first use. A missing operator id is re-derived and written back.
func LoadOrCreate(ctx context.Context, s localstore.Store, opts ...Option) (Identity, error) {
	o := options{rand: rand.Reader}
	for _, fn := range opts {
		fn(&o)
	}

	key, ok, err := s.Get(ctx, localstore.KeySession)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: load: %w", err)
	}
	if !ok {
		key, err = newKey(o.rand)
		if err != nil {
			return Identity{}, err
		}
		if err := s.Set(ctx, localstore.KeySession, key); err != nil {
			return Identity{}, fmt.Errorf("identity: persist session key: %w", err)
		}
		slog.Info("identity: created new session")
	}

	operator, err := Derive(key)
	if err != nil {
		return Identity{}, err
	}

	stored, ok, err := s.Get(ctx, localstore.KeyOperator)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: load operator: %w", err)
	}
	if !ok || stored != operator {
		if err := s.Set(ctx, localstore.KeyOperator, operator); err != nil {
			return Identity{}, fmt.Errorf("identity: persist operator: %w", err)
		}
	}

	return Identity{SessionID: key, OperatorID: operator}, nil
}

// Derive computes the operator id for a session key.
func Derive(sessionKey string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sessionKey, "0x"))
	if err != nil || len(raw) != keyBytes {
		return "", ErrInvalidKey
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:]), nil
}

func newKey(r io.Reader) (string, error) {
	b := make([]byte, keyBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("identity: generate key: %w", err)
	}
	return "0x" + hex.EncodeToString(b), nil
}
