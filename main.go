package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/barnettlynn/nfctools/classicdump/internal/config"
	"github.com/barnettlynn/nfctools/classicdump/internal/profile"
	"github.com/barnettlynn/nfctools/classicdump/internal/session"
	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
)

const configFileName = "config.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configFlag := flag.String("config", "", "path to config.yaml (default: next to the executable, then cwd)")
	flag.Parse()

	// Configure slog
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	configPath := *configFlag
	if configPath == "" {
		var err error
		configPath, err = defaultConfigPath()
		if err != nil {
			log.Fatalf("resolve config path failed: %v", err)
		}
	}
	fmt.Printf("Using config: %s\n", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	dict, err := mifare.LoadDictionary(cfg.Paths.DictionaryFile)
	if err != nil {
		log.Fatalf("dictionary load failed: %v", err)
	}
	fmt.Printf("Dictionary: %s (%d keys)\n", cfg.Paths.DictionaryFile, len(dict))

	layout := mifare.Classic1K
	reader, err := mifare.Connect(*cfg.Runtime.ReaderIndex, layout, cfg.Runtime.PollInterval)
	if err != nil {
		log.Fatal(err)
	}
	defer reader.Close()
	fmt.Printf("Using reader [%d]: %s\n", reader.ReaderIdx, reader.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default().With("session", uuid.NewString())
	fmt.Print(banner + "\n")

	ctrl := session.New(session.Config{
		Layout:     layout,
		Port:       reader,
		Store:      profile.NewStore(cfg.Paths.DataDir, cfg.Paths.TemplateFile, layout, logger),
		Dictionary: dict,
		Confirm:    newPrompter(os.Stdin, os.Stdout),
		Logger:     logger,
		Out:        os.Stdout,
	})
	res, err := ctrl.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		fmt.Println("\n\n> Closing program.... See you soon")
		return 0
	case err != nil:
		fmt.Println("> Something went wrong...")
		fmt.Println(err)
		return 1
	}

	printProfile(os.Stdout, res.Profile)
	return 0
}

const banner = `
  ___ _            _      ___
 / __| |__ _ ______(_)__  |   \ _  _ _ __  _ __
| (__| / _' (_-<_-< / _| | |) | || | '  \| '_ \
 \___|_\__,_/__/__/_\__| |___/ \_,_|_|_|_| .__/
                                          |_|
MIFARE Classic 1K key recovery + dump
`

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), configFileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	// Fallback for `go run`, where the executable is placed in a temp directory.
	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, configFileName)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
