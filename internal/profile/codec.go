package profile

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

// ErrInvalidProfile is returned when a profile document does not match the card layout.
var ErrInvalidProfile = errors.New("profile: invalid document")

// document is the on-disk JSON shape of a profile.
type document struct {
	UID        string            `json:"UID"`
	SectorKeys []keyPair         `json:"SectorKeys"`
	Blocks     map[string]string `json:"blocks"`
}

type keyPair struct {
	KeyA string `json:"KeyA"`
	KeyB string `json:"KeyB"`
}

// Marshal encodes p as indented JSON. Every block index is written; blocks
// that were never read are stored as "".
func Marshal(p *Profile) ([]byte, error) {
	doc := document{
		UID:        p.UID,
		SectorKeys: make([]keyPair, len(p.Sectors)),
		Blocks:     make(map[string]string, len(p.Blocks)),
	}
	for s, sk := range p.Sectors {
		if sk.KeyA != nil {
			doc.SectorKeys[s].KeyA = sk.KeyA.String()
		}
		if sk.KeyB != nil {
			doc.SectorKeys[s].KeyB = sk.KeyB.String()
		}
	}
	for b, data := range p.Blocks {
		doc.Blocks[strconv.Itoa(b)] = mifare.HexPairs(data)
	}
	return json.MarshalIndent(doc, "", "    ")
}

// Unmarshal decodes a profile and rejects documents whose sector or block
// topology does not match layout.
func Unmarshal(data []byte, layout mifare.Layout) (*Profile, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	if len(doc.SectorKeys) != layout.Sectors {
		return nil, fmt.Errorf("%w: expected %d sectors, got %d", ErrInvalidProfile, layout.Sectors, len(doc.SectorKeys))
	}

	p := New(strings.ToUpper(strings.TrimSpace(doc.UID)), layout)
	for s, pair := range doc.SectorKeys {
		if err := decodeKey(p, s, mifare.KeyA, pair.KeyA); err != nil {
			return nil, err
		}
		if err := decodeKey(p, s, mifare.KeyB, pair.KeyB); err != nil {
			return nil, err
		}
	}
	for idx, value := range doc.Blocks {
		b, err := strconv.Atoi(idx)
		if err != nil || b < 0 || b >= layout.Blocks() {
			return nil, fmt.Errorf("%w: block index %q out of range (0..%d)", ErrInvalidProfile, idx, layout.Blocks()-1)
		}
		value = strings.ReplaceAll(strings.TrimSpace(value), " ", "")
		if value == "" {
			continue
		}
		raw, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %w", ErrInvalidProfile, b, err)
		}
		if err := p.SetBlock(b, raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
	}
	return p, nil
}

func decodeKey(p *Profile, sector int, keyType mifare.KeyType, s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	k, err := mifare.ParseKey(s)
	if err != nil {
		return fmt.Errorf("%w: sector %d %s: %w", ErrInvalidProfile, sector, keyType, err)
	}
	return p.SetKey(sector, keyType, k)
}
