package mifare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ebfe/scard"
)

// DefaultPollInterval is how long a single GetStatusChange wait lasts.
const DefaultPollInterval = time.Second

// connectedCard is the part of *scard.Card the reader relies on.
type connectedCard interface {
	Card
	Reconnect(mode scard.ShareMode, proto scard.Protocol, disp scard.Disposition) error
	Disconnect(disp scard.Disposition) error
}

// Reader is a PC/SC reader driving MIFARE Classic cards through pseudo-APDUs.
// It implements Transceiver.
//
// Once a card has been selected the reader remembers its UID. If the card
// leaves the field, the call that noticed fails with ErrCardAbsent and the
// next Authenticate blocks until the same card is presented again.
type Reader struct {
	ctx          *scard.Context
	card         connectedCard
	uid          UID
	Name         string
	ReaderIdx    int
	layout       Layout
	pollInterval time.Duration

	// waitCard blocks until a card is in the field and connected.
	waitCard func(ctx context.Context) (connectedCard, UID, error)
}

// Connect establishes a PC/SC context and picks a reader by index.
// No card connection is made until DetectAndSelect.
func Connect(readerIndex int, layout Layout, pollInterval time.Duration) (*Reader, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("no readers found: %v", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}

	r := &Reader{
		ctx:          ctx,
		Name:         readers[readerIndex],
		ReaderIdx:    readerIndex,
		layout:       layout,
		pollInterval: pollInterval,
	}
	r.waitCard = r.pollCard
	return r, nil
}

// Close disconnects the card and releases the PC/SC context.
func (r *Reader) Close() {
	if r == nil {
		return
	}
	r.dropCard()
	if r.ctx != nil {
		_ = r.ctx.Release()
		r.ctx = nil
	}
}

// DetectAndSelect polls the reader until a card is present, connects to it and
// returns its UID. Cancelling ctx interrupts the pending GetStatusChange.
func (r *Reader) DetectAndSelect(ctx context.Context) (UID, error) {
	r.dropCard()
	card, uid, err := r.waitCard(ctx)
	if err != nil {
		return nil, err
	}
	r.card = card
	r.uid = append(UID(nil), uid...)
	return uid, nil
}

// pollCard waits on GetStatusChange for a present, responsive card and
// connects to it.
func (r *Reader) pollCard(ctx context.Context) (connectedCard, UID, error) {
	stop := context.AfterFunc(ctx, func() { _ = r.ctx.Cancel() })
	defer stop()

	states := []scard.ReaderState{{
		Reader:       r.Name,
		CurrentState: scard.StateUnaware,
	}}
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := r.ctx.GetStatusChange(states, r.pollInterval); err != nil {
			if errors.Is(err, scard.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("GetStatusChange: %w", err)
		}

		rs := states[0]
		states[0].CurrentState = rs.EventState
		if rs.EventState&scard.StatePresent == 0 || rs.EventState&scard.StateMute != 0 {
			continue
		}

		card, err := r.ctx.Connect(r.Name, scard.ShareShared, scard.ProtocolAny)
		if err != nil {
			slog.Debug("connect after card present failed, polling again", "reader", r.Name, "error", err)
			continue
		}
		uid, err := GetUID(card)
		if err != nil {
			_ = card.Disconnect(scard.LeaveCard)
			slog.Debug("card present but UID unavailable, polling again", "error", err)
			continue
		}
		return card, uid, nil
	}
}

// reselect blocks until the card selected by DetectAndSelect is back in the
// field. Other cards are released and ignored.
func (r *Reader) reselect(ctx context.Context) error {
	if len(r.uid) == 0 {
		return ErrCardAbsent
	}
	slog.Warn("card lost, waiting for it to return to the reader", "uid", r.uid.String())
	for {
		card, uid, err := r.waitCard(ctx)
		if err != nil {
			return err
		}
		if bytes.Equal(uid, r.uid) {
			r.card = card
			slog.Info("card back in the field", "uid", uid.String())
			return nil
		}
		_ = card.Disconnect(scard.LeaveCard)
		slog.Warn("different card presented, waiting for the original", "want", r.uid.String(), "got", uid.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

// Authenticate loads key into the reader and authenticates block. When the
// card was lost earlier it first waits for the same card to return.
// The uid is implied by the selected card on PC/SC readers.
func (r *Reader) Authenticate(ctx context.Context, keyType KeyType, block int, key Key, _ UID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.checkBlock(block); err != nil {
		return err
	}
	if r.card == nil {
		if err := r.reselect(ctx); err != nil {
			return err
		}
	}
	if err := LoadKey(r.card, key); err != nil {
		return r.mapErr(err)
	}
	return r.mapErr(GeneralAuthenticate(r.card, block, keyType))
}

// ReadBlock reads one block of the authenticated sector.
func (r *Reader) ReadBlock(ctx context.Context, block int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.checkBlock(block); err != nil {
		return nil, err
	}
	if r.card == nil {
		return nil, ErrCardAbsent
	}
	data, err := ReadBinary(r.card, block, r.layout.BlockSize)
	if err != nil {
		return nil, r.mapErr(err)
	}
	return data, nil
}

// StopCrypto resets the card so the next authentication starts from a fresh
// selection. MIFARE Classic halts after a failed authentication, so this is
// required between candidate keys.
func (r *Reader) StopCrypto() error {
	if r.card == nil {
		return nil
	}
	return r.mapErr(r.card.Reconnect(scard.ShareShared, scard.ProtocolAny, scard.ResetCard))
}

func (r *Reader) checkBlock(block int) error {
	if block < 0 || block >= r.layout.Blocks() {
		return fmt.Errorf("block %d out of range (0..%d)", block, r.layout.Blocks()-1)
	}
	return nil
}

func (r *Reader) dropCard() {
	if r.card != nil {
		_ = r.card.Disconnect(scard.LeaveCard)
		r.card = nil
	}
}

// mapErr turns card-gone errors into ErrCardAbsent and forgets the stale
// handle so the next Authenticate waits for the card.
func (r *Reader) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, scard.ErrRemovedCard) || errors.Is(err, scard.ErrNoSmartcard) ||
		errors.Is(err, scard.ErrUnpoweredCard) || errors.Is(err, scard.ErrUnresponsiveCard) {
		r.dropCard()
		return fmt.Errorf("%w: %v", ErrCardAbsent, err)
	}
	return err
}
