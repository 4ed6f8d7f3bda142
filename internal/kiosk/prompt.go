package kiosk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrTimeout is returned when the customer does not answer in time.
var ErrTimeout = errors.New("prompt timed out")

// ErrCancelled is returned when the customer leaves a prompt empty where
// an empty answer means "go back".
var ErrCancelled = errors.New("cancelled")

// Prompter reads answers line by line with a per-prompt timeout.
//
// Input is read on a separate goroutine so a prompt can give up without
// losing the next line. After Close the goroutine exits as soon as its
// pending read returns; a read blocked on a terminal ends with stdin.
type Prompter struct {
	out     io.Writer
	timeout time.Duration
	lines   chan string
	eof     chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewPrompter starts reading in.
func NewPrompter(in io.Reader, out io.Writer, timeout time.Duration) *Prompter {
	p := &Prompter{
		out:     out,
		timeout: timeout,
		lines:   make(chan string),
		eof:     make(chan struct{}),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(p.eof)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case p.lines <- sc.Text():
			case <-p.done:
				return
			}
		}
	}()
	return p
}

// Close stops delivering lines. Prompts asked after Close report io.EOF.
func (p *Prompter) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Ask prints prompt and waits for one line. It returns ErrTimeout after the
// prompt timeout and io.EOF when input ends.
func (p *Prompter) Ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	var timeout <-chan time.Time
	if p.timeout > 0 {
		t := time.NewTimer(p.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case line := <-p.lines:
		return strings.TrimSpace(line), nil
	case <-p.eof:
		return "", io.EOF
	case <-p.done:
		return "", io.EOF
	case <-timeout:
		fmt.Fprintln(p.out)
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Wait blocks for one line without a timeout.
func (p *Prompter) Wait(ctx context.Context) (string, error) {
	select {
	case line := <-p.lines:
		return strings.TrimSpace(line), nil
	case <-p.eof:
		return "", io.EOF
	case <-p.done:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AskInt asks until the answer is an integer in [min, max]. An empty answer
// yields def, or ErrCancelled when def is below min.
func (p *Prompter) AskInt(ctx context.Context, prompt string, min, max, def int) (int, error) {
	for {
		ans, err := p.Ask(ctx, prompt)
		if err != nil {
			return 0, err
		}
		if ans == "" {
			if def < min {
				return 0, ErrCancelled
			}
			return def, nil
		}
		n, err := strconv.Atoi(ans)
		if err == nil && n >= min && n <= max {
			return n, nil
		}
		fmt.Fprintf(p.out, "Please enter a number from %d to %d.\n", min, max)
	}
}

// AskAmount asks for a Rupiah amount. Dots and commas used as grouping
// separators are ignored ("50.000" is 50000). Empty cancels.
func (p *Prompter) AskAmount(ctx context.Context, prompt string) (int64, error) {
	for {
		ans, err := p.Ask(ctx, prompt)
		if err != nil {
			return 0, err
		}
		if ans == "" {
			return 0, ErrCancelled
		}
		clean := strings.NewReplacer(".", "", ",", "", "Rp", "", "rp", "", " ", "").Replace(ans)
		n, err := strconv.ParseInt(clean, 10, 64)
		if err == nil && n >= 0 {
			return n, nil
		}
		fmt.Fprintln(p.out, "Please enter an amount, e.g. 50000.")
	}
}
