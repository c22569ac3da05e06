package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// AddressLength is the byte length of an account address.
const AddressLength = 20

// Address identifies an account. The zero value is the mint/burn sentinel.
type Address [AddressLength]byte

// ZeroAddress is the mint/burn sentinel.
var ZeroAddress Address

// ParseAddress decodes a hex address with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) != 2*AddressLength {
		return a, fmt.Errorf("invalid address length %d", len(s))
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, fmt.Errorf("invalid address: %w", err)
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// NewAddress returns a random non-zero address.
func NewAddress() Address {
	var a Address
	id := uuid.New()
	tail := uuid.New()
	copy(a[:16], id[:])
	copy(a[16:], tail[:4])
	return a
}

// DeriveAddress returns a deterministic address for a module label, such as
// the bridge gateway or the staking engine.
func DeriveAddress(label string) Address {
	var a Address
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("govtoken/" + label))
	copy(a[:], h.Sum(nil)[12:])
	return a
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MessageID identifies a cross-chain message.
type MessageID [32]byte

// ParseMessageID decodes a 32-byte hex message id.
func ParseMessageID(s string) (MessageID, error) {
	var m MessageID
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return m, fmt.Errorf("invalid message id length %d", len(s))
	}
	if _, err := hex.Decode(m[:], []byte(s)); err != nil {
		return m, fmt.Errorf("invalid message id: %w", err)
	}
	return m, nil
}

func (m MessageID) Hex() string {
	return "0x" + hex.EncodeToString(m[:])
}

func (m MessageID) String() string {
	return m.Hex()
}

func (m MessageID) MarshalText() ([]byte, error) {
	return []byte(m.Hex()), nil
}

func (m *MessageID) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageID(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ChainID identifies a remote chain.
type ChainID uint64

// AssetID names an asset held by the treasury.
type AssetID string

const (
	AssetToken  AssetID = "token"
	AssetNative AssetID = "native"
)
