// Package annotate defines the boundary between the counting core and the
// linguistic engine that turns chunk text into token records.
package annotate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Part-of-speech tags the core cares about (Universal Dependencies names).
const (
	POSSymbol       = "SYM"
	POSPunctuation  = "PUNCT"
	POSInterjection = "INTJ"
	POSNumber       = "NUM"
)

// Token is one annotated token. The core only reads it.
type Token struct {
	Text    string `json:"text"`
	Lemma   string `json:"lemma"`
	POS     string `json:"pos"`
	EntType string `json:"ent_type,omitempty"`

	IsASCII    bool `json:"is_ascii"`
	IsSpace    bool `json:"is_space,omitempty"`
	IsPunct    bool `json:"is_punct,omitempty"`
	IsDigit    bool `json:"is_digit,omitempty"`
	IsQuote    bool `json:"is_quote,omitempty"`
	IsBracket  bool `json:"is_bracket,omitempty"`
	IsCurrency bool `json:"is_currency,omitempty"`
	LikeNum    bool `json:"like_num,omitempty"`
	LikeURL    bool `json:"like_url,omitempty"`
	LikeEmail  bool `json:"like_email,omitempty"`
	IsStop     bool `json:"is_stop,omitempty"`
}

// Annotator converts a batch of texts into token sequences. The result must
// hold exactly one entry per input text, in input order.
type Annotator interface {
	Annotate(ctx context.Context, texts []string) ([][]Token, error)
}

// TextAnnotator annotates a single text.
type TextAnnotator interface {
	AnnotateText(ctx context.Context, text string) ([]Token, error)
}

// Func adapts a function to TextAnnotator.
type Func func(ctx context.Context, text string) ([]Token, error)

// AnnotateText calls f.
func (f Func) AnnotateText(ctx context.Context, text string) ([]Token, error) {
	return f(ctx, text)
}

// AnnotatorFunc adapts a function to Annotator.
type AnnotatorFunc func(ctx context.Context, texts []string) ([][]Token, error)

// Annotate calls f.
func (f AnnotatorFunc) Annotate(ctx context.Context, texts []string) ([][]Token, error) {
	return f(ctx, texts)
}

// Parallel fans a batch out over up to workers goroutines. Results are stored
// by index so the output order always matches the input order.
func Parallel(a TextAnnotator, workers int) Annotator {
	if workers < 1 {
		workers = 1
	}
	return &parallel{inner: a, workers: workers}
}

type parallel struct {
	inner   TextAnnotator
	workers int
}

func (p *parallel) Annotate(ctx context.Context, texts []string) ([][]Token, error) {
	out := make([][]Token, len(texts))
	if p.workers == 1 {
		for i, text := range texts {
			toks, err := p.inner.AnnotateText(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("annotate text %d: %w", i, err)
			}
			out[i] = toks
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, text := range texts {
		g.Go(func() error {
			toks, err := p.inner.AnnotateText(gctx, text)
			if err != nil {
				return fmt.Errorf("annotate text %d: %w", i, err)
			}
			out[i] = toks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
