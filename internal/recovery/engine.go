// Package recovery brute-forces unknown MIFARE Classic sector keys from an
// ordered dictionary and records them in a card profile.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/barnettlynn/nfctools/classicdump/internal/profile"
	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

// Confirmer decides whether a brute force over sectors may run.
type Confirmer interface {
	Confirm(ctx context.Context, keyType mifare.KeyType, sectors []int) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, keyType mifare.KeyType, sectors []int) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, keyType mifare.KeyType, sectors []int) (bool, error) {
	return f(ctx, keyType, sectors)
}

// Saver persists a profile.
type Saver interface {
	Save(p *profile.Profile) error
}

// Config wires an Engine.
type Config struct {
	Layout     mifare.Layout
	Dictionary mifare.Dictionary
	Port       mifare.Transceiver
	Confirm    Confirmer
	Saver      Saver
	Logger     *slog.Logger
	Out        io.Writer // operator-facing progress; io.Discard if nil
}

// Engine fills unknown key slots of a profile.
type Engine struct {
	layout  mifare.Layout
	dict    mifare.Dictionary
	port    mifare.Transceiver
	confirm Confirmer
	saver   Saver
	logger  *slog.Logger
	out     io.Writer
}

// New returns an Engine. Confirm, Saver and Port are required.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Engine{
		layout:  cfg.Layout,
		dict:    cfg.Dictionary,
		port:    cfg.Port,
		confirm: cfg.Confirm,
		saver:   cfg.Saver,
		logger:  cfg.Logger,
		out:     cfg.Out,
	}
}

// SectorOutcome is the result of scanning one sector's key slot.
type SectorOutcome struct {
	Sector    int
	KeyType   mifare.KeyType
	Found     bool
	Key       mifare.Key
	Attempts  int  // authentication attempts made
	Abandoned bool // the card stopped answering mid-scan
}

// ColumnReport summarises one key column (all KeyA or all KeyB).
type ColumnReport struct {
	KeyType      mifare.KeyType
	Pending      []int // sectors that were unknown when the column started
	AlreadyKnown bool
	Declined     bool
	Outcomes     []SectorOutcome
	Access       profile.Access // classification after the column
}

// Unresolved lists sectors still missing a key after the column ran.
func (c ColumnReport) Unresolved() []int {
	if c.Declined {
		return c.Pending
	}
	found := make(map[int]bool, len(c.Outcomes))
	for _, o := range c.Outcomes {
		if o.Found {
			found[o.Sector] = true
		}
	}
	var out []int
	for _, s := range c.Pending {
		if !found[s] {
			out = append(out, s)
		}
	}
	return out
}

// Report is the result of a full recovery run.
type Report struct {
	Columns []ColumnReport
	Access  profile.Access
}

// Run recovers KeyA then KeyB. On cancellation the profile is saved up to the
// last completed sector and ctx's error is returned.
func (e *Engine) Run(ctx context.Context, uid mifare.UID, p *profile.Profile) (Report, error) {
	var report Report
	for _, kt := range mifare.KeyTypes {
		col, err := e.RecoverColumn(ctx, uid, p, kt)
		report.Columns = append(report.Columns, col)
		if err != nil {
			report.Access = profile.Classify(p)
			return report, err
		}
	}
	report.Access = profile.Classify(p)
	return report, nil
}

// RecoverColumn brute-forces keyType for every sector that lacks it, after
// asking for confirmation. The profile is saved after every sector.
func (e *Engine) RecoverColumn(ctx context.Context, uid mifare.UID, p *profile.Profile, keyType mifare.KeyType) (ColumnReport, error) {
	col := ColumnReport{KeyType: keyType, Pending: p.MissingKeys(keyType)}

	if len(col.Pending) == 0 {
		col.AlreadyKnown = true
		fmt.Fprintf(e.out, "> All Keys %s already known\n", keyType.Letter())
		col.Access = profile.Classify(p)
		return col, nil
	}

	ok, err := e.confirm.Confirm(ctx, keyType, col.Pending)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return col, ctxErr
		}
		e.logger.Warn("brute force confirmation failed, skipping column", "key_type", keyType, "error", err)
		ok = false
	}
	if !ok {
		col.Declined = true
		fmt.Fprintf(e.out, "> Skipping Keys %s for sectors %v\n", keyType.Letter(), col.Pending)
		col.Access = profile.Classify(p)
		return col, nil
	}

	for _, sector := range col.Pending {
		outcome, err := e.RecoverSector(ctx, uid, sector, keyType)
		if err != nil {
			// Interrupted mid-sector: keep everything finished so far.
			if saveErr := e.saver.Save(p); saveErr != nil {
				return col, errors.Join(err, saveErr)
			}
			return col, err
		}
		col.Outcomes = append(col.Outcomes, outcome)
		if outcome.Found {
			if err := p.SetKey(sector, keyType, outcome.Key); err != nil {
				return col, err
			}
		}
		if err := e.saver.Save(p); err != nil {
			return col, err
		}
	}

	if rest := col.Unresolved(); len(rest) == 0 {
		fmt.Fprintf(e.out, "> All Keys %s recovered\n", keyType.Letter())
	} else {
		fmt.Fprintf(e.out, "> Keys %s still unknown for sectors %v\n", keyType.Letter(), rest)
	}
	col.Access = profile.Classify(p)
	return col, nil
}

// RecoverSector tries dictionary keys in order against sector's key-block and
// stops at the first one that authenticates and reads. It does not touch any
// profile. The only error it returns is ctx's.
func (e *Engine) RecoverSector(ctx context.Context, uid mifare.UID, sector int, keyType mifare.KeyType) (SectorOutcome, error) {
	out := SectorOutcome{Sector: sector, KeyType: keyType}
	block := e.layout.TrailerBlock(sector)
	fmt.Fprintf(e.out, "> [i] Bruteforcing sector %d - block %d (%s)\n", sector, block, keyType)

	for i, key := range e.dict {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res := mifare.Probe(ctx, e.port, uid, keyType, block, e.layout.FirstBlock(sector), key)
		out.Attempts = i + 1

		switch res.Status {
		case mifare.AuthOK:
			out.Found = true
			out.Key = key
			fmt.Fprintf(e.out, "> [OK] KEY FOUND: %s\n", key)
			e.logger.Info("key found", "sector", sector, "key_type", keyType, "attempts", out.Attempts)
			return out, nil
		case mifare.AuthAbsent:
			out.Abandoned = true
			fmt.Fprintf(e.out, "> [X] Card not responding, giving up on sector %d\n", sector)
			e.logger.Warn("card absent, sector abandoned", "sector", sector, "key_type", keyType, "error", res.Err)
			return out, nil
		case mifare.AuthTransportError:
			if err := ctx.Err(); err != nil {
				return out, err
			}
			e.logger.Debug("transport error, trying next key", "sector", sector, "key", key.String(), "error", res.Err)
		default:
			e.logger.Debug("key rejected", "sector", sector, "key", key.String())
		}
	}

	fmt.Fprintf(e.out, "> [X] Unable to find any key from the dictionary for sector %d\n", sector)
	e.logger.Info("dictionary exhausted", "sector", sector, "key_type", keyType, "attempts", out.Attempts)
	return out, nil
}
