package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/barnettlynn/nfctools/classicdump/internal/profile"
	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

func unknownPairs(n int) string {
	return strings.TrimSpace(strings.Repeat("-- ", n))
}

// keyLabel renders a known key as hex pairs, or dashes when unknown.
func keyLabel(p *profile.Profile, sector int, keyType mifare.KeyType) string {
	k, ok := p.Key(sector, keyType)
	if !ok {
		return unknownPairs(mifare.KeySize)
	}
	return mifare.HexPairs(k[:])
}

// printProfile prints every sector of the card. Key-blocks are recomposed from
// the recovered keys and the stored access bits.
func printProfile(w io.Writer, p *profile.Profile) {
	l := p.Layout
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintf(w, "UID %s  (access: %s)\n", p.UID, profile.Classify(p))
	fmt.Fprintln(w, rule)

	for sector := 0; sector < l.Sectors; sector++ {
		fmt.Fprintf(w, "Sector %d\n", sector)
		for b := l.FirstBlock(sector); b <= l.TrailerBlock(sector); b++ {
			switch {
			case l.IsTrailer(b):
				access := unknownPairs(4)
				if bits := p.AccessBits(sector); bits != nil {
					access = mifare.HexPairs(bits)
				}
				fmt.Fprintf(w, "  %2d  %s | %s | %s\n", b,
					keyLabel(p, sector, mifare.KeyA), access, keyLabel(p, sector, mifare.KeyB))
			case p.Block(b) == nil:
				fmt.Fprintf(w, "  %2d  %s\n", b, unknownPairs(l.BlockSize))
			case b == 0:
				fmt.Fprintf(w, "  %2d  %s  (manufacturer)\n", b, mifare.HexPairs(p.Block(b)))
			default:
				fmt.Fprintf(w, "  %2d  %s\n", b, mifare.HexPairs(p.Block(b)))
			}
		}
	}
	fmt.Fprintln(w, rule)
}
