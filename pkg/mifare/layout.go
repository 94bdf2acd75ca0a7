package mifare

import "fmt"

// Layout describes the memory topology of a MIFARE Classic card.
// Values are fixed for the lifetime of a session; pass it by value.
type Layout struct {
	Sectors         int // number of sectors (16 on a 1K card)
	BlocksPerSector int // blocks per sector (4 on a 1K card)
	BlockSize       int // bytes per block (16)
	KeyHexLen       int // hex characters per key (12, i.e. 6 bytes)
}

// Classic1K is the layout of a MIFARE Classic 1K card.
var Classic1K = Layout{
	Sectors:         16,
	BlocksPerSector: 4,
	BlockSize:       16,
	KeyHexLen:       2 * KeySize,
}

// Blocks returns the total number of blocks (64 on a 1K card).
func (l Layout) Blocks() int {
	return l.Sectors * l.BlocksPerSector
}

// FirstBlock returns the index of the first block of sector.
func (l Layout) FirstBlock(sector int) int {
	return sector * l.BlocksPerSector
}

// TrailerBlock returns the key-block index of sector (4s+3 on a 1K card).
func (l Layout) TrailerBlock(sector int) int {
	return l.FirstBlock(sector) + l.BlocksPerSector - 1
}

// SectorOf returns the sector that owns block.
func (l Layout) SectorOf(block int) int {
	return block / l.BlocksPerSector
}

// IsTrailer reports whether block is the key-block of its sector.
func (l Layout) IsTrailer(block int) bool {
	return (block+1)%l.BlocksPerSector == 0
}

// Validate checks that the layout can describe a MIFARE Classic card.
func (l Layout) Validate() error {
	if l.Sectors <= 0 {
		return fmt.Errorf("layout: sectors must be > 0, got %d", l.Sectors)
	}
	if l.BlocksPerSector < 2 {
		return fmt.Errorf("layout: blocks per sector must be >= 2, got %d", l.BlocksPerSector)
	}
	if l.BlockSize != 16 {
		return fmt.Errorf("layout: block size must be 16, got %d", l.BlockSize)
	}
	if l.KeyHexLen != 2*KeySize {
		return fmt.Errorf("layout: key length must be %d hex chars, got %d", 2*KeySize, l.KeyHexLen)
	}
	if l.Blocks() > 256 {
		return fmt.Errorf("layout: %d blocks exceed the addressable range", l.Blocks())
	}
	return nil
}
