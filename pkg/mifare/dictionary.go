package mifare

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Dictionary is an ordered list of candidate keys. Order is try order;
// duplicates are kept so that line numbers and attempt counts line up.
type Dictionary []Key

// LoadDictionary reads a key dictionary from a line-oriented text file.
func LoadDictionary(path string) (Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dict, err := ParseDictionary(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dict, nil
}

// ParseDictionary takes the first 12 characters of every line as a key.
// Blank lines, '#' comments and lines that are not hex are skipped.
func ParseDictionary(r io.Reader) (Dictionary, error) {
	var dict Dictionary
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(line) < 2*KeySize {
			slog.Debug("dictionary line too short, skipped", "line", lineNo)
			continue
		}
		key, err := ParseKey(line[:2*KeySize])
		if err != nil {
			slog.Debug("dictionary line skipped", "line", lineNo, "error", err)
			continue
		}
		dict = append(dict, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(dict) == 0 {
		return nil, errors.New("dictionary has no keys")
	}
	return dict, nil
}
