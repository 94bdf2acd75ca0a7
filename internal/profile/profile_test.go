package profile

import (
	"bytes"
	"errors"
	"testing"

	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

func mustKey(t *testing.T, s string) mifare.Key {
	t.Helper()
	k, err := mifare.ParseKey(s)
	if err != nil {
		t.Fatalf("parse key %q: %v", s, err)
	}
	return k
}

func TestSetKeyNeverOverwrites(t *testing.T) {
	p := New("DEADBEEF", mifare.Classic1K)
	first := mustKey(t, "A0A1A2A3A4A5")
	if err := p.SetKey(2, mifare.KeyA, first); err != nil {
		t.Fatalf("SetKey returned error: %v", err)
	}
	if err := p.SetKey(2, mifare.KeyA, first); err != nil {
		t.Fatalf("re-recording the same key must succeed, got %v", err)
	}
	err := p.SetKey(2, mifare.KeyA, mustKey(t, "FFFFFFFFFFFF"))
	if !errors.Is(err, ErrKeyConflict) {
		t.Fatalf("expected ErrKeyConflict, got %v", err)
	}
	got, ok := p.Key(2, mifare.KeyA)
	if !ok || got != first {
		t.Fatalf("expected key %s to survive, got %s (known=%v)", first, got, ok)
	}
}

func TestMissingKeys(t *testing.T) {
	p := New("DEADBEEF", mifare.Classic1K)
	for s := 0; s < 16; s++ {
		if s == 3 || s == 7 {
			continue
		}
		if err := p.SetKey(s, mifare.KeyB, mustKey(t, "FFFFFFFFFFFF")); err != nil {
			t.Fatalf("SetKey: %v", err)
		}
	}
	missing := p.MissingKeys(mifare.KeyB)
	if len(missing) != 2 || missing[0] != 3 || missing[1] != 7 {
		t.Fatalf("expected [3 7], got %v", missing)
	}
	if len(p.MissingKeys(mifare.KeyA)) != 16 {
		t.Fatalf("expected all KeyA missing")
	}
}

func TestComposeTrailerIgnoresRawKeyBytes(t *testing.T) {
	p := New("DEADBEEF", mifare.Classic1K)
	keyA := mustKey(t, "A0A1A2A3A4A5")
	if err := p.SetKey(1, mifare.KeyA, keyA); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	raw := []byte{
		0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE,
		0xFF, 0x07, 0x80, 0x69,
		0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE,
	}
	got := p.ComposeTrailer(1, raw)
	want := []byte{
		0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5,
		0xFF, 0x07, 0x80, 0x69,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected % X, got % X", want, got)
	}
}

func TestClassify(t *testing.T) {
	keyed := func(t *testing.T, cols ...mifare.KeyType) *Profile {
		p := New("01020304", mifare.Classic1K)
		for _, col := range cols {
			for s := 0; s < 16; s++ {
				if err := p.SetKey(s, col, mustKey(t, "FFFFFFFFFFFF")); err != nil {
					t.Fatalf("SetKey: %v", err)
				}
			}
		}
		return p
	}

	if got := Classify(keyed(t)); got != AccessNone {
		t.Fatalf("empty profile: expected none, got %v", got)
	}
	if got := Classify(keyed(t, mifare.KeyA)); got != AccessPartial {
		t.Fatalf("all KeyA: expected partial, got %v", got)
	}
	if got := Classify(keyed(t, mifare.KeyB)); got != AccessPartial {
		t.Fatalf("all KeyB: expected partial, got %v", got)
	}
	if got := Classify(keyed(t, mifare.KeyA, mifare.KeyB)); got != AccessFull {
		t.Fatalf("both columns: expected full, got %v", got)
	}

	sparse := keyed(t)
	if err := sparse.SetKey(3, mifare.KeyA, mustKey(t, "A0A1A2A3A4A5")); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if got := Classify(sparse); got != AccessSparse {
		t.Fatalf("single key: expected sparse, got %v", got)
	}
	if Classify(sparse).Readable() || AccessNone.Readable() {
		t.Fatal("sparse and none must not be readable")
	}
	if !AccessPartial.Readable() || !AccessFull.Readable() {
		t.Fatal("partial and full must be readable")
	}

	almost := keyed(t, mifare.KeyA)
	almost.Sectors[15].KeyA = nil
	if err := almost.SetKey(0, mifare.KeyB, mustKey(t, "FFFFFFFFFFFF")); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if got := Classify(almost); got != AccessSparse {
		t.Fatalf("15 of 16 KeyA: expected sparse, got %v", got)
	}
}
