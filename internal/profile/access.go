package profile

import "github.com/barnettlynn/nfctools/classicdump/pkg/mifare"

// Access classifies how much key material of a card is known.
type Access int

const (
	// AccessNone: no key is known for any sector.
	AccessNone Access = iota
	// AccessSparse: some keys are known but no column is complete.
	AccessSparse
	// AccessPartial: all KeyA or all KeyB are known, not both.
	AccessPartial
	// AccessFull: every sector has both keys.
	AccessFull
)

func (a Access) String() string {
	switch a {
	case AccessNone:
		return "none"
	case AccessSparse:
		return "sparse"
	case AccessPartial:
		return "partial"
	case AccessFull:
		return "full"
	default:
		return "unknown"
	}
}

// Readable reports whether a block sweep may run: a complete KeyA or KeyB
// column is required.
func (a Access) Readable() bool {
	return a == AccessPartial || a == AccessFull
}

// Classify derives the access class from the profile's sector keys.
func Classify(p *Profile) Access {
	allA := len(p.MissingKeys(mifare.KeyA)) == 0
	allB := len(p.MissingKeys(mifare.KeyB)) == 0
	switch {
	case allA && allB:
		return AccessFull
	case allA || allB:
		return AccessPartial
	}
	for _, s := range p.Sectors {
		if s.KeyA != nil || s.KeyB != nil {
			return AccessSparse
		}
	}
	return AccessNone
}
