package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/barnettlynn/nfctools/classicdump/internal/cardsim"
	"github.com/barnettlynn/nfctools/classicdump/internal/profile"
	"github.com/barnettlynn/nfctools/classicdump/internal/recovery"
	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

var testUID = mifare.UID{0x9A, 0x3B, 0x10, 0x05}

type promptLog struct {
	answer bool
	calls  []mifare.KeyType
}

func (p *promptLog) Confirm(_ context.Context, keyType mifare.KeyType, _ []int) (bool, error) {
	p.calls = append(p.calls, keyType)
	return p.answer, nil
}

func mustKey(t *testing.T, s string) mifare.Key {
	t.Helper()
	k, err := mifare.ParseKey(s)
	if err != nil {
		t.Fatalf("parse key %q: %v", s, err)
	}
	return k
}

func newStore(t *testing.T, withTemplate bool) (*profile.Store, string) {
	t.Helper()
	tmp := t.TempDir()
	tmplPath := filepath.Join(tmp, "mifareCardTemplate.json")
	if withTemplate {
		data, err := profile.Marshal(profile.New("", mifare.Classic1K))
		if err != nil {
			t.Fatalf("marshal template: %v", err)
		}
		if err := os.WriteFile(tmplPath, data, 0o644); err != nil {
			t.Fatalf("write template: %v", err)
		}
	}
	dataDir := filepath.Join(tmp, "data")
	return profile.NewStore(dataDir, tmplPath, mifare.Classic1K, nil), dataDir
}

func newController(card *cardsim.Card, store *profile.Store, confirm recovery.Confirmer, dict mifare.Dictionary, out *bytes.Buffer) *Controller {
	return New(Config{
		Layout:     mifare.Classic1K,
		Port:       card,
		Store:      store,
		Dictionary: dict,
		Confirm:    confirm,
		Out:        out,
	})
}

func TestRunRecoversReadsAndResumes(t *testing.T) {
	store, dataDir := newStore(t, true)
	card := cardsim.New(testUID, mifare.Classic1K)
	card.SetKeys(3, mustKey(t, "A0A1A2A3A4A5"), mustKey(t, "B0B1B2B3B4B5"))
	card.SetBlock(13, bytes.Repeat([]byte{0x42}, 16))
	dict := mifare.Dictionary{cardsim.DefaultKey, mustKey(t, "A0A1A2A3A4A5"), mustKey(t, "B0B1B2B3B4B5")}
	prompt := &promptLog{answer: true}
	var out bytes.Buffer

	res, err := newController(card, store, prompt, dict, &out).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Handle.Created || res.Initial != profile.AccessNone {
		t.Fatalf("expected a fresh profile, created=%v access=%v", res.Handle.Created, res.Initial)
	}
	if res.Recovery.Access != profile.AccessFull {
		t.Fatalf("expected full access after recovery, got %v", res.Recovery.Access)
	}
	if len(prompt.calls) != 2 {
		t.Fatalf("expected one prompt per key column, got %v", prompt.calls)
	}
	if res.Dump.Updated() != 16 {
		t.Fatalf("expected all sectors read, got %d", res.Dump.Updated())
	}
	if _, err := os.Stat(filepath.Join(dataDir, "9A3B1005.json")); err != nil {
		t.Fatalf("profile not persisted: %v", err)
	}

	// Second session with the same card resumes without brute force.
	authBefore := card.AuthCalls()
	prompt2 := &promptLog{answer: true}
	res2, err := newController(card, store, prompt2, dict, &bytes.Buffer{}).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if res2.Handle.Created {
		t.Fatal("second session must reuse the stored profile")
	}
	if res2.Initial != profile.AccessFull || len(prompt2.calls) != 0 {
		t.Fatalf("expected resumed full access without prompts, got %v / %v", res2.Initial, prompt2.calls)
	}
	if got := card.AuthCalls() - authBefore; got != 16 {
		t.Fatalf("expected only the 16 read authentications, got %d", got)
	}
	if !bytes.Equal(res2.Profile.Block(13), bytes.Repeat([]byte{0x42}, 16)) {
		t.Fatalf("block 13 not read: % X", res2.Profile.Block(13))
	}
}

func TestRunDeclinedEverythingReadsNothing(t *testing.T) {
	store, _ := newStore(t, true)
	card := cardsim.New(testUID, mifare.Classic1K)
	prompt := &promptLog{answer: false}
	var out bytes.Buffer

	res, err := newController(card, store, prompt, mifare.Dictionary{cardsim.DefaultKey}, &out).Run(context.Background())
	if err != nil {
		t.Fatalf("declining is not an error, got %v", err)
	}
	if res.Dump.Ran || card.AuthCalls() != 0 {
		t.Fatalf("expected no card access, ran=%v auth=%d", res.Dump.Ran, card.AuthCalls())
	}
	for _, want := range []string{"Skipping Keys A", "Skipping Keys B", "no keys"} {
		if !bytes.Contains(out.Bytes(), []byte(want)) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestRunTemplateMissingIsFatal(t *testing.T) {
	store, _ := newStore(t, false)
	card := cardsim.New(testUID, mifare.Classic1K)

	_, err := newController(card, store, &promptLog{answer: true}, mifare.Dictionary{cardsim.DefaultKey}, &bytes.Buffer{}).Run(context.Background())
	if !errors.Is(err, profile.ErrTemplateMissing) {
		t.Fatalf("expected ErrTemplateMissing, got %v", err)
	}
	if card.AuthCalls() != 0 {
		t.Fatal("no card access expected without a profile")
	}
}

func TestRunNoCard(t *testing.T) {
	store, _ := newStore(t, true)
	card := cardsim.New(testUID, mifare.Classic1K)
	card.Absent = true

	_, err := newController(card, store, &promptLog{answer: true}, mifare.Dictionary{cardsim.DefaultKey}, &bytes.Buffer{}).Run(context.Background())
	if !errors.Is(err, mifare.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRunInterruptedDuringRecovery(t *testing.T) {
	store, _ := newStore(t, true)
	card := cardsim.New(testUID, mifare.Classic1K)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	card.OnAuthenticate = func(sector int, keyType mifare.KeyType, _ mifare.Key) {
		if keyType == mifare.KeyB && sector == 2 {
			cancel()
		}
	}
	dict := mifare.Dictionary{mustKey(t, "000000000000"), cardsim.DefaultKey}

	res, err := newController(card, store, &promptLog{answer: true}, dict, &bytes.Buffer{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	reloaded, err := res.Handle.Load()
	if err != nil {
		t.Fatalf("profile unreadable after interrupt: %v", err)
	}
	if len(reloaded.MissingKeys(mifare.KeyA)) != 0 {
		t.Fatalf("KeyA column lost: missing %v", reloaded.MissingKeys(mifare.KeyA))
	}
	if missing := reloaded.MissingKeys(mifare.KeyB); len(missing) != 14 || missing[0] != 2 {
		t.Fatalf("expected KeyB known for sectors 0-1 only, missing %v", missing)
	}
}
