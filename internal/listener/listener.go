// Package listener feeds characters from an input stream into the
// aggregator. It stands in for the platform keyboard hook: anything
// that can deliver single printable characters can drive it.
package listener

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"unicode"

	"keytally/internal/classify"
	"keytally/internal/counter"
	"keytally/internal/model"
)

// Options controls which categories are tracked separately. Disabled
// categories fold into other before recording, matching the
// count-numbers / count-symbols config keys.
type Options struct {
	CountNumbers bool
	CountSymbols bool
}

// DefaultOptions tracks every category.
func DefaultOptions() Options {
	return Options{CountNumbers: true, CountSymbols: true}
}

// Listener classifies incoming runes and records them.
type Listener struct {
	agg  *counter.Aggregator
	opts Options
}

// New creates a listener recording into agg.
func New(agg *counter.Aggregator, opts Options) *Listener {
	return &Listener{agg: agg, opts: opts}
}

// Deliver records one character. Control characters are dropped, the
// same filtering the upstream hook applies before the classifier.
func (l *Listener) Deliver(r rune) {
	if unicode.IsControl(r) {
		return
	}
	cat := classify.Rune(r)
	switch {
	case cat == model.CategoryNumber && !l.opts.CountNumbers:
		cat = model.CategoryOther
	case cat == model.CategorySymbol && !l.opts.CountSymbols:
		cat = model.CategoryOther
	}
	l.agg.Record(cat)
}

// Run reads runes from r until EOF or ctx cancellation and delivers
// each one. It returns nil on EOF.
func (l *Listener) Run(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ch, _, err := reader.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		l.Deliver(ch)
	}
}
