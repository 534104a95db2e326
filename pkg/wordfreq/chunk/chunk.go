// Package chunk splits normalized text into bounded chunks that never cut a
// word in half.
//
// A chunk ends at the first whitespace at or after its target length. Runs of
// non-whitespace that span the target with no word boundary inside the
// backward search window are treated as corrupt and dropped, except at the
// very start of the input where the whole first word is emitted instead so the
// chunker always makes progress.
package chunk

import (
	"fmt"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
)

const (
	// MinSize is the smallest accepted chunk size, in characters.
	MinSize = 45

	// DefaultSearchDistance is how far back (in characters) the chunker
	// looks for a word boundary when the target lands inside a word.
	DefaultSearchDistance = 45
)

// Options controls chunk sizing. Lengths are counted in characters (runes).
type Options struct {
	Size           int
	SearchDistance int // 0 selects min(DefaultSearchDistance, Size)
}

// Validate checks the options and fills in the default search distance.
func (o Options) Validate() (Options, error) {
	if o.Size < MinSize {
		return o, fmt.Errorf("%w: chunk size %d is below the minimum of %d", internalerr.ErrInvalidConfig, o.Size, MinSize)
	}
	if o.SearchDistance < 0 {
		return o, fmt.Errorf("%w: boundary search distance %d is negative", internalerr.ErrInvalidConfig, o.SearchDistance)
	}
	if o.SearchDistance == 0 {
		o.SearchDistance = min(DefaultSearchDistance, o.Size)
	}
	if o.SearchDistance > o.Size {
		return o, fmt.Errorf("%w: boundary search distance %d exceeds chunk size %d", internalerr.ErrInvalidConfig, o.SearchDistance, o.Size)
	}
	return o, nil
}

// Chunker yields chunks of one text lazily. It is not safe for concurrent use.
type Chunker struct {
	text      string
	opts      Options
	pos       int // byte offset of the cursor
	yielded   bool
	discarded int
}

// New validates opts and returns a chunker positioned at the start of text.
// No text is inspected when opts are invalid.
func New(text string, opts Options) (*Chunker, error) {
	opts, err := opts.Validate()
	if err != nil {
		return nil, err
	}
	return &Chunker{text: text, opts: opts}, nil
}

// Split collects every chunk of text. Prefer New for large inputs.
func Split(text string, opts Options) ([]string, error) {
	c, err := New(text, opts)
	if err != nil {
		return nil, err
	}
	var out []string
	for s := range c.All() {
		out = append(out, s)
	}
	return out, nil
}

// Estimate is the advisory chunk count ceil(len/size) used for progress
// reporting. It does not predict the number of chunks actually produced.
func Estimate(text string, size int) int {
	if size <= 0 {
		return 0
	}
	n := utf8.RuneCountInString(text)
	return (n + size - 1) / size
}

// Options returns the validated options in effect.
func (c *Chunker) Options() Options { return c.opts }

// Discarded reports how many malformed regions have been dropped so far.
func (c *Chunker) Discarded() int { return c.discarded }

// All returns the remaining chunks as a single-use sequence.
func (c *Chunker) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			s, ok := c.Next()
			if !ok || !yield(s) {
				return
			}
		}
	}
}

// Next returns the next chunk, or false once the text is exhausted.
// Returned chunks are never empty and carry no leading or trailing whitespace.
func (c *Chunker) Next() (string, bool) {
	t := c.text
	for {
		c.pos = c.skipSpace(c.pos)
		if c.pos >= len(t) {
			return "", false
		}

		target := c.advance(c.pos, c.opts.Size)
		if target >= len(t) {
			chunk := strings.TrimRightFunc(t[c.pos:], unicode.IsSpace)
			c.pos = len(t)
			c.yielded = true
			return chunk, true
		}

		var end int
		switch {
		case c.spaceAt(target):
			end = target
		case c.boundaryBefore(target):
			end = c.wordEnd(target)
		case !c.yielded:
			end = c.wordEnd(c.pos)
		default:
			// Malformed run: drop everything up to the end of the word at target.
			c.pos = c.wordEnd(target)
			c.discarded++
			continue
		}

		chunk := strings.TrimRightFunc(t[c.pos:end], unicode.IsSpace)
		c.pos = end
		c.yielded = true
		return chunk, true
	}
}

// advance moves n runes forward from i, stopping at the end of the text.
func (c *Chunker) advance(i, n int) int {
	for ; n > 0 && i < len(c.text); n-- {
		_, size := utf8.DecodeRuneInString(c.text[i:])
		i += size
	}
	return i
}

// boundaryBefore reports whether whitespace occurs within SearchDistance
// runes before target, strictly after the cursor.
func (c *Chunker) boundaryBefore(target int) bool {
	p := target
	for n := 0; n < c.opts.SearchDistance; n++ {
		r, size := utf8.DecodeLastRuneInString(c.text[:p])
		p -= size
		if p <= c.pos {
			return false
		}
		if unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

func (c *Chunker) spaceAt(i int) bool {
	r, _ := utf8.DecodeRuneInString(c.text[i:])
	return unicode.IsSpace(r)
}

func (c *Chunker) skipSpace(i int) int {
	for i < len(c.text) {
		r, size := utf8.DecodeRuneInString(c.text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

func (c *Chunker) wordEnd(i int) int {
	for i < len(c.text) {
		r, size := utf8.DecodeRuneInString(c.text[i:])
		if unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}
