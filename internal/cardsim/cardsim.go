// Package cardsim simulates a MIFARE Classic card behind a mifare.Transceiver.
package cardsim

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

// DefaultKey is the factory key of a blank card.
var DefaultKey = mifare.Key{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// DefaultAccessBits are the transport-configuration access bits (FF 07 80 69).
var DefaultAccessBits = []byte{0xFF, 0x07, 0x80, 0x69}

// HiddenKeyByte fills the key portions of a trailer read. Real cards return
// zeros for KeyA; a distinctive value makes leaks visible in tests.
const HiddenKeyByte = 0xEE

// ErrTransport is returned for keys listed in Card.TransportErrKeys.
var ErrTransport = errors.New("cardsim: transport error")

type slot struct {
	sector  int
	keyType mifare.KeyType
}

// Card is an in-memory MIFARE Classic card. It is not safe for concurrent use.
type Card struct {
	UID    mifare.UID
	Layout mifare.Layout

	// Absent makes every call fail as if the card left the field.
	Absent bool
	// RemoveAfter removes the card once that many Authenticate calls were made (0 = never).
	RemoveAfter int
	// TransportErrKeys fail with ErrTransport instead of a key rejection.
	TransportErrKeys map[mifare.Key]bool
	// FailReads makes ReadBlock reject these blocks.
	FailReads map[int]bool
	// OnAuthenticate runs before every authentication attempt.
	OnAuthenticate func(sector int, keyType mifare.KeyType, key mifare.Key)

	keys      [][2]mifare.Key
	blocks    [][]byte
	authed    int
	attempts  map[slot]int
	authCalls int
	stops     int
}

// New returns a card with factory keys on every sector and zeroed data blocks.
func New(uid mifare.UID, layout mifare.Layout) *Card {
	c := &Card{
		UID:      uid,
		Layout:   layout,
		keys:     make([][2]mifare.Key, layout.Sectors),
		blocks:   make([][]byte, layout.Blocks()),
		authed:   -1,
		attempts: make(map[slot]int),
	}
	for s := range c.keys {
		c.keys[s] = [2]mifare.Key{DefaultKey, DefaultKey}
	}
	for b := range c.blocks {
		c.blocks[b] = make([]byte, layout.BlockSize)
		if layout.IsTrailer(b) {
			copy(c.blocks[b][mifare.KeySize:], DefaultAccessBits)
		}
	}
	return c
}

// SetKeys sets the true keys of sector.
func (c *Card) SetKeys(sector int, keyA, keyB mifare.Key) {
	c.keys[sector] = [2]mifare.Key{keyA, keyB}
}

// SetBlock replaces the stored bytes of block.
func (c *Card) SetBlock(block int, data []byte) {
	c.blocks[block] = append([]byte(nil), data...)
}

// SetAccessBits replaces the access bits of sector's trailer.
func (c *Card) SetAccessBits(sector int, bits []byte) {
	copy(c.blocks[c.Layout.TrailerBlock(sector)][mifare.KeySize:mifare.KeySize+4], bits)
}

// Attempts returns the number of authentications tried on sector with keyType.
func (c *Card) Attempts(sector int, keyType mifare.KeyType) int {
	return c.attempts[slot{sector, keyType}]
}

// AuthCalls returns the total number of Authenticate calls.
func (c *Card) AuthCalls() int { return c.authCalls }

// Stops returns the number of StopCrypto calls.
func (c *Card) Stops() int { return c.stops }

func (c *Card) DetectAndSelect(ctx context.Context) (mifare.UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Absent {
		return nil, mifare.ErrTimeout
	}
	return append(mifare.UID(nil), c.UID...), nil
}

func (c *Card) Authenticate(ctx context.Context, keyType mifare.KeyType, block int, key mifare.Key, uid mifare.UID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if block < 0 || block >= c.Layout.Blocks() {
		return fmt.Errorf("block %d out of range", block)
	}
	sector := c.Layout.SectorOf(block)
	if c.OnAuthenticate != nil {
		c.OnAuthenticate(sector, keyType, key)
	}
	c.authCalls++
	c.attempts[slot{sector, keyType}]++
	if c.RemoveAfter > 0 && c.authCalls > c.RemoveAfter {
		c.Absent = true
	}
	if c.Absent {
		return mifare.ErrCardAbsent
	}
	if len(uid) > 0 && !bytes.Equal(uid, c.UID) {
		return &mifare.SWError{Cmd: 0x86, SW: mifare.SWOperationFailed}
	}
	if c.TransportErrKeys[key] {
		return ErrTransport
	}
	want := c.keys[sector][0]
	if keyType == mifare.KeyB {
		want = c.keys[sector][1]
	}
	if key != want {
		c.authed = -1
		return &mifare.SWError{Cmd: 0x86, SW: mifare.SWOperationFailed}
	}
	c.authed = sector
	return nil
}

func (c *Card) ReadBlock(ctx context.Context, block int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Absent {
		return nil, mifare.ErrCardAbsent
	}
	if block < 0 || block >= c.Layout.Blocks() {
		return nil, fmt.Errorf("block %d out of range", block)
	}
	if c.authed != c.Layout.SectorOf(block) || c.FailReads[block] {
		return nil, &mifare.SWError{Cmd: 0xB0, SW: mifare.SWSecurityNotSatisfied}
	}
	data := append([]byte(nil), c.blocks[block]...)
	if c.Layout.IsTrailer(block) {
		for i := 0; i < mifare.KeySize; i++ {
			data[i] = HiddenKeyByte
			data[len(data)-1-i] = HiddenKeyByte
		}
	}
	return data, nil
}

func (c *Card) StopCrypto() error {
	c.stops++
	c.authed = -1
	if c.Absent {
		return mifare.ErrCardAbsent
	}
	return nil
}

var _ mifare.Transceiver = (*Card)(nil)
