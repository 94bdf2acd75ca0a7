package mifare

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// KeySize is the length of a MIFARE Classic sector key in bytes.
const KeySize = 6

// KeyType selects KeyA or KeyB. The values are the MIFARE authentication
// command codes used in the PC/SC General Authenticate data object.
type KeyType byte

const (
	KeyA KeyType = 0x60
	KeyB KeyType = 0x61
)

// KeyTypes lists both key slots in the order they are recovered.
var KeyTypes = []KeyType{KeyA, KeyB}

func (t KeyType) String() string {
	switch t {
	case KeyA:
		return "KeyA"
	case KeyB:
		return "KeyB"
	default:
		return fmt.Sprintf("KeyType(0x%02X)", byte(t))
	}
}

// Letter returns "A" or "B".
func (t KeyType) Letter() string {
	if t == KeyB {
		return "B"
	}
	return "A"
}

// Key is a 48-bit MIFARE Classic sector key.
type Key [KeySize]byte

// ParseKey decodes 12 hexadecimal characters into a Key.
func ParseKey(s string) (Key, error) {
	var k Key
	s = strings.TrimSpace(s)
	if len(s) != 2*KeySize {
		return k, fmt.Errorf("key must be %d hex chars, got %d", 2*KeySize, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("invalid hex key: %w", err)
	}
	copy(k[:], b)
	return k, nil
}

// String renders the key as 12 uppercase hex characters.
func (k Key) String() string {
	return HexUpper(k[:])
}

// UID is a card identifier as returned by anticollision / GET DATA.
type UID []byte

// String renders the UID as uppercase hex with no separators.
func (u UID) String() string {
	return HexUpper(u)
}

// HexUpper encodes b as uppercase hex with no separators.
func HexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// HexPairs encodes b as space-separated two-digit uppercase hex ("00 1A FF").
func HexPairs(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}
