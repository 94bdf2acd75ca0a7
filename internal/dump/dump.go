// Package dump reads every block of the sectors whose keys are known and
// merges the result into the card profile.
package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/barnettlynn/nfctools/classicdump/internal/profile"
	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

// Saver persists a profile.
type Saver interface {
	Save(p *profile.Profile) error
}

// Config wires a Reader.
type Config struct {
	Layout mifare.Layout
	Port   mifare.Transceiver
	Saver  Saver
	Logger *slog.Logger
	Out    io.Writer
}

// Reader sweeps a card sector by sector.
type Reader struct {
	layout mifare.Layout
	port   mifare.Transceiver
	saver  Saver
	logger *slog.Logger
	out    io.Writer
}

func New(cfg Config) *Reader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Reader{
		layout: cfg.Layout,
		port:   cfg.Port,
		saver:  cfg.Saver,
		logger: cfg.Logger,
		out:    cfg.Out,
	}
}

// SectorResult records what happened to one sector during a sweep.
type SectorResult struct {
	Sector  int
	KeyType mifare.KeyType
	NoKey   bool // no key known, sector not attempted
	Updated bool
	Err     error
}

// Report summarises a sweep.
type Report struct {
	Access  profile.Access
	Ran     bool
	Sectors []SectorResult
}

// Updated returns the number of sectors refreshed by the sweep.
func (r Report) Updated() int {
	n := 0
	for _, s := range r.Sectors {
		if s.Updated {
			n++
		}
	}
	return n
}

// Sweep authenticates each sector once, preferring KeyA, reads all of its
// blocks and merges them into p. A sector that fails keeps its previous
// contents. The profile is saved once at the end; on cancellation whatever was
// merged so far is saved before ctx's error is returned.
func (r *Reader) Sweep(ctx context.Context, uid mifare.UID, p *profile.Profile) (Report, error) {
	report := Report{Access: profile.Classify(p)}
	fmt.Fprintln(r.out, "> Reading card....")
	switch {
	case report.Access == profile.AccessNone:
		fmt.Fprintln(r.out, "> There are no keys so it is not possible to read the blocks")
		return report, nil
	case !report.Access.Readable():
		fmt.Fprintln(r.out, "> There are not enough keys to read the blocks (no complete KeyA or KeyB column)")
		r.logger.Info("read sweep skipped", "access", report.Access)
		return report, nil
	}
	report.Ran = true

	for sector := 0; sector < r.layout.Sectors; sector++ {
		if err := ctx.Err(); err != nil {
			if saveErr := r.saver.Save(p); saveErr != nil {
				return report, errors.Join(err, saveErr)
			}
			return report, err
		}
		res := r.readSector(ctx, uid, p, sector)
		report.Sectors = append(report.Sectors, res)
	}

	if err := r.saver.Save(p); err != nil {
		return report, err
	}
	r.logger.Info("read sweep finished", "access", report.Access, "sectors_updated", report.Updated())
	return report, nil
}

func (r *Reader) readSector(ctx context.Context, uid mifare.UID, p *profile.Profile, sector int) SectorResult {
	res := SectorResult{Sector: sector, KeyType: mifare.KeyA}
	key, ok := p.Key(sector, mifare.KeyA)
	if !ok {
		res.KeyType = mifare.KeyB
		key, ok = p.Key(sector, mifare.KeyB)
	}
	if !ok {
		res.NoKey = true
		r.logger.Debug("no key known, sector skipped", "sector", sector)
		return res
	}
	defer func() { _ = r.port.StopCrypto() }()

	first := r.layout.FirstBlock(sector)
	if err := r.port.Authenticate(ctx, res.KeyType, first, key, uid); err != nil {
		res.Err = err
		r.logger.Warn("sector not updated: authentication failed", "sector", sector, "key_type", res.KeyType, "status", mifare.Classify(err), "error", err)
		return res
	}

	blocks := make([][]byte, 0, r.layout.BlocksPerSector)
	for b := first; b < first+r.layout.BlocksPerSector; b++ {
		data, err := r.port.ReadBlock(ctx, b)
		if err != nil {
			res.Err = err
			r.logger.Warn("sector not updated: read failed", "sector", sector, "block", b, "status", mifare.Classify(err), "error", err)
			return res
		}
		if len(data) != r.layout.BlockSize {
			res.Err = fmt.Errorf("block %d: expected %d bytes, got %d", b, r.layout.BlockSize, len(data))
			r.logger.Warn("sector not updated: short read", "sector", sector, "block", b, "len", len(data))
			return res
		}
		blocks = append(blocks, data)
	}

	for i, data := range blocks {
		b := first + i
		if r.layout.IsTrailer(b) {
			data = p.ComposeTrailer(sector, data)
		}
		_ = p.SetBlock(b, data) // lengths checked above
	}
	res.Updated = true
	return res
}
