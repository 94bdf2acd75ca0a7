package mifare

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ebfe/scard"
)

// fieldCard answers every pseudo-APDU with success until it leaves the field.
type fieldCard struct {
	removed     bool
	resets      int
	disconnects int
}

func (c *fieldCard) Transmit(apdu []byte) ([]byte, error) {
	if c.removed {
		return nil, scard.ErrRemovedCard
	}
	if apdu[1] == 0xB0 {
		return append(make([]byte, 16), 0x90, 0x00), nil
	}
	return []byte{0x90, 0x00}, nil
}

func (c *fieldCard) Reconnect(scard.ShareMode, scard.Protocol, scard.Disposition) error {
	if c.removed {
		return scard.ErrRemovedCard
	}
	c.resets++
	return nil
}

func (c *fieldCard) Disconnect(scard.Disposition) error {
	c.disconnects++
	return nil
}

type presentation struct {
	card *fieldCard
	uid  UID
}

// newFieldReader returns a Reader whose field presents cards in order and then
// stays empty until ctx is done.
func newFieldReader(cards ...presentation) (*Reader, *int) {
	waits := 0
	r := &Reader{layout: Classic1K, pollInterval: time.Millisecond}
	r.waitCard = func(ctx context.Context) (connectedCard, UID, error) {
		waits++
		if len(cards) == 0 {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}
		next := cards[0]
		cards = cards[1:]
		return next.card, next.uid, nil
	}
	return r, &waits
}

var fieldUID = UID{0x0A, 0x1B, 0x2C, 0x3D}

func TestReaderWaitsForRemovedCardToReturn(t *testing.T) {
	first, back := &fieldCard{}, &fieldCard{}
	r, waits := newFieldReader(presentation{first, fieldUID}, presentation{back, fieldUID})
	ctx := context.Background()

	if _, err := r.DetectAndSelect(ctx); err != nil {
		t.Fatalf("DetectAndSelect returned error: %v", err)
	}
	first.removed = true

	err := r.Authenticate(ctx, KeyA, 11, Key{}, fieldUID)
	if !errors.Is(err, ErrCardAbsent) || Classify(err) != AuthAbsent {
		t.Fatalf("expected card absent while the card is out, got %v", err)
	}
	if first.disconnects != 1 {
		t.Fatalf("expected stale handle released, got %d disconnects", first.disconnects)
	}
	if err := r.StopCrypto(); err != nil {
		t.Fatalf("StopCrypto without a card returned error: %v", err)
	}

	if err := r.Authenticate(ctx, KeyA, 15, Key{}, fieldUID); err != nil {
		t.Fatalf("expected the next sector to authenticate once the card returned, got %v", err)
	}
	if *waits != 2 {
		t.Fatalf("expected a second presence wait, got %d", *waits)
	}
	data, err := r.ReadBlock(ctx, 12)
	if err != nil || len(data) != 16 {
		t.Fatalf("ReadBlock after return: data=%d err=%v", len(data), err)
	}
	if err := r.StopCrypto(); err != nil || back.resets != 1 {
		t.Fatalf("StopCrypto on returned card: err=%v resets=%d", err, back.resets)
	}
}

func TestReaderIgnoresOtherCardWhileWaiting(t *testing.T) {
	first, stranger, back := &fieldCard{}, &fieldCard{}, &fieldCard{}
	r, waits := newFieldReader(
		presentation{first, fieldUID},
		presentation{stranger, UID{0x99, 0x99, 0x99, 0x99}},
		presentation{back, fieldUID},
	)
	ctx := context.Background()

	if _, err := r.DetectAndSelect(ctx); err != nil {
		t.Fatalf("DetectAndSelect returned error: %v", err)
	}
	first.removed = true
	_, _ = r.ReadBlock(ctx, 4)

	if err := r.Authenticate(ctx, KeyB, 7, Key{}, fieldUID); err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if stranger.disconnects != 1 {
		t.Fatal("a different card must be released, not used")
	}
	if *waits != 3 {
		t.Fatalf("expected 3 presence waits, got %d", *waits)
	}
}

func TestReaderWaitForCardHonoursContext(t *testing.T) {
	first := &fieldCard{}
	r, _ := newFieldReader(presentation{first, fieldUID})

	if _, err := r.DetectAndSelect(context.Background()); err != nil {
		t.Fatalf("DetectAndSelect returned error: %v", err)
	}
	first.removed = true
	if err := r.StopCrypto(); !errors.Is(err, ErrCardAbsent) {
		t.Fatalf("expected card absent from StopCrypto, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Authenticate(ctx, KeyA, 3, Key{}, fieldUID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the wait to end with the context, got %v", err)
	}
}

func TestReaderAuthenticateBeforeSelect(t *testing.T) {
	r, waits := newFieldReader()
	if err := r.Authenticate(context.Background(), KeyA, 3, Key{}, nil); !errors.Is(err, ErrCardAbsent) {
		t.Fatalf("expected card absent before any selection, got %v", err)
	}
	if *waits != 0 {
		t.Fatal("no card was ever selected, nothing to wait for")
	}
}
