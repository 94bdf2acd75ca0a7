package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/barnettlynn/nfctools/classicdump/pkg/mifare"
	"golang.org/x/term"
)

// prompter asks the operator before every brute force. When stdin is not a
// terminal nobody can answer, so the answer is no.
//
// A single goroutine owns the input and hands over one line per answer, so a
// Confirm abandoned by cancellation leaves its line for the next Confirm.
type prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool

	once  sync.Once
	lines chan answer
}

func newPrompter(in *os.File, out io.Writer) *prompter {
	return &prompter{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: term.IsTerminal(int(in.Fd())),
	}
}

type answer struct {
	line string
	err  error
}

func (p *prompter) readLines() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		p.lines <- answer{line: line, err: err}
		if err != nil {
			return
		}
	}
}

func (p *prompter) Confirm(ctx context.Context, keyType mifare.KeyType, sectors []int) (bool, error) {
	fmt.Fprintf(p.out, "> Keys %s not found for sectors: %v. Do you want to bruteforce them? [y/n] ", keyType.Letter(), sectors)
	if !p.interactive {
		fmt.Fprintln(p.out, "n (stdin is not a terminal)")
		return false, nil
	}

	p.once.Do(func() {
		p.lines = make(chan answer)
		go p.readLines()
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a, ok := <-p.lines:
		if !ok {
			return false, fmt.Errorf("read answer: %w", io.EOF)
		}
		if a.err != nil && a.line == "" {
			return false, fmt.Errorf("read answer: %w", a.err)
		}
		input := strings.ToLower(strings.TrimSpace(a.line))
		return input == "y" || input == "yes", nil
	}
}
