// Package profile holds the persisted per-card state: recovered sector keys and
// the last known contents of every block.
package profile

import (
	"errors"
	"fmt"

	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

// ErrKeyConflict is returned when a known key would be replaced by a different value.
var ErrKeyConflict = errors.New("profile: key already recorded with a different value")

// SectorKeys holds the recovered keys of one sector. Nil means not yet recovered.
type SectorKeys struct {
	KeyA *mifare.Key
	KeyB *mifare.Key
}

// Get returns the key for keyType and whether it is known.
func (s SectorKeys) Get(keyType mifare.KeyType) (mifare.Key, bool) {
	k := s.KeyA
	if keyType == mifare.KeyB {
		k = s.KeyB
	}
	if k == nil {
		return mifare.Key{}, false
	}
	return *k, true
}

// Profile is the accumulated knowledge about one physical card.
// Sectors[s] governs Blocks[4s..4s+3].
type Profile struct {
	UID     string
	Layout  mifare.Layout
	Sectors []SectorKeys
	Blocks  [][]byte // nil entries have never been read
}

// New returns an empty profile for uid.
func New(uid string, layout mifare.Layout) *Profile {
	return &Profile{
		UID:     uid,
		Layout:  layout,
		Sectors: make([]SectorKeys, layout.Sectors),
		Blocks:  make([][]byte, layout.Blocks()),
	}
}

// Key returns the known key of sector for keyType.
func (p *Profile) Key(sector int, keyType mifare.KeyType) (mifare.Key, bool) {
	return p.Sectors[sector].Get(keyType)
}

// SetKey records a recovered key. Recording the same value again is a no-op;
// a different value for an already known slot is refused with ErrKeyConflict.
func (p *Profile) SetKey(sector int, keyType mifare.KeyType, key mifare.Key) error {
	if sector < 0 || sector >= len(p.Sectors) {
		return fmt.Errorf("sector %d out of range (0..%d)", sector, len(p.Sectors)-1)
	}
	slot := &p.Sectors[sector].KeyA
	if keyType == mifare.KeyB {
		slot = &p.Sectors[sector].KeyB
	}
	if *slot != nil {
		if **slot == key {
			return nil
		}
		return fmt.Errorf("sector %d %s: %w", sector, keyType, ErrKeyConflict)
	}
	k := key
	*slot = &k
	return nil
}

// MissingKeys lists the sectors whose keyType slot is unknown, in ascending order.
func (p *Profile) MissingKeys(keyType mifare.KeyType) []int {
	var missing []int
	for s := range p.Sectors {
		if _, ok := p.Sectors[s].Get(keyType); !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// SetBlock stores a copy of data as the contents of block.
func (p *Profile) SetBlock(block int, data []byte) error {
	if block < 0 || block >= len(p.Blocks) {
		return fmt.Errorf("block %d out of range (0..%d)", block, len(p.Blocks)-1)
	}
	if len(data) != p.Layout.BlockSize {
		return fmt.Errorf("block %d: expected %d bytes, got %d", block, p.Layout.BlockSize, len(data))
	}
	p.Blocks[block] = append([]byte(nil), data...)
	return nil
}

// Block returns the stored contents of block, or nil if it was never read.
func (p *Profile) Block(block int) []byte {
	return p.Blocks[block]
}

// AccessBits returns the 4 access-condition bytes of sector's trailer, or nil
// if the trailer was never read.
func (p *Profile) AccessBits(sector int) []byte {
	t := p.Blocks[p.Layout.TrailerBlock(sector)]
	if t == nil {
		return nil
	}
	return t[mifare.KeySize : mifare.KeySize+4]
}

// ComposeTrailer builds a trailer block from the sector's known keys and the
// access bits of a raw read. Key bytes of the raw read are never used; unknown
// keys are zero-filled.
func (p *Profile) ComposeTrailer(sector int, raw []byte) []byte {
	out := make([]byte, p.Layout.BlockSize)
	if len(raw) == p.Layout.BlockSize {
		copy(out[mifare.KeySize:mifare.KeySize+4], raw[mifare.KeySize:mifare.KeySize+4])
	}
	if k, ok := p.Key(sector, mifare.KeyA); ok {
		copy(out[:mifare.KeySize], k[:])
	}
	if k, ok := p.Key(sector, mifare.KeyB); ok {
		copy(out[p.Layout.BlockSize-mifare.KeySize:], k[:])
	}
	return out
}
