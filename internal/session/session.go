// Package session runs one card-present session: resolve the card profile,
// recover missing keys, read the card and persist the result.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/barnettlynn/nfctools/classicdump/internal/dump"
	"github.com/barnettlynn/nfctools/classicdump/internal/profile"
	"github.com/barnettlynn/nfctools/classicdump/internal/recovery"
	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

// Config wires a Controller.
type Config struct {
	Layout     mifare.Layout
	Port       mifare.Transceiver
	Store      *profile.Store
	Dictionary mifare.Dictionary
	Confirm    recovery.Confirmer
	Logger     *slog.Logger
	Out        io.Writer
}

// Controller owns the reader and the in-memory profile for one session.
type Controller struct {
	cfg Config
}

func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Controller{cfg: cfg}
}

// Result is what a session produced, possibly partially.
type Result struct {
	UID      mifare.UID
	Handle   *profile.Handle
	Profile  *profile.Profile
	Initial  profile.Access
	Recovery recovery.Report
	Dump     dump.Report
}

// Run executes resolve -> classify -> recover -> read. Profile store errors
// end the session; card errors only leave sectors unresolved or unread.
// When ctx is cancelled the profile has already been saved and ctx's error is
// returned together with the partial result.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	out, logger := c.cfg.Out, c.cfg.Logger
	res := &Result{}

	fmt.Fprintln(out, "> Please put the card in the reader.....")
	uid, err := c.cfg.Port.DetectAndSelect(ctx)
	if err != nil {
		return res, fmt.Errorf("detect card: %w", err)
	}
	res.UID = uid
	fmt.Fprintf(out, "UID: %s\n", uid)
	logger = logger.With("uid", uid.String())

	h, err := c.cfg.Store.Resolve(uid)
	if err != nil {
		return res, fmt.Errorf("resolve profile: %w", err)
	}
	res.Handle = h
	if h.Created {
		fmt.Fprintf(out, "> New UID detected. Creating save file in: %s\n", h.Path)
	} else {
		fmt.Fprintf(out, "> UID already saved in file %s, restoring configuration for this card...\n", h.Path)
	}

	p, err := h.Load()
	if err != nil {
		return res, fmt.Errorf("load profile: %w", err)
	}
	res.Profile = p
	res.Initial = profile.Classify(p)
	logger.Info("profile loaded", "path", h.Path, "created", h.Created, "access", res.Initial)

	engine := recovery.New(recovery.Config{
		Layout:     c.cfg.Layout,
		Dictionary: c.cfg.Dictionary,
		Port:       c.cfg.Port,
		Confirm:    c.cfg.Confirm,
		Saver:      h,
		Logger:     logger,
		Out:        out,
	})
	res.Recovery, err = engine.Run(ctx, uid, p)
	if err != nil {
		return res, fmt.Errorf("key recovery: %w", err)
	}
	logger.Info("key recovery finished", "access", res.Recovery.Access)

	reader := dump.New(dump.Config{
		Layout: c.cfg.Layout,
		Port:   c.cfg.Port,
		Saver:  h,
		Logger: logger,
		Out:    out,
	})
	res.Dump, err = reader.Sweep(ctx, uid, p)
	if err != nil {
		return res, fmt.Errorf("read card: %w", err)
	}
	return res, nil
}
