// Package aggregate reduces one chunk's annotated tokens to a lemma count delta.
package aggregate

import (
	"sort"

	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/filter"
)

// Delta maps a lemma to the number of times it was counted in one chunk.
type Delta map[string]int64

// Count tallies the trimmed lemma of every countable token.
// The result is never nil.
func Count(tokens []annotate.Token) Delta {
	return CountWith(tokens, nil)
}

// CountWith is Count that also reports the classification of every token to
// observe, when observe is non-nil.
func CountWith(tokens []annotate.Token, observe func(filter.Reason)) Delta {
	d := make(Delta)
	for _, tok := range tokens {
		reason := filter.Classify(tok)
		if observe != nil {
			observe(reason)
		}
		if reason != filter.Accepted {
			continue
		}
		d[filter.Lemma(tok)]++
	}
	return d
}

// Merge adds other into d.
func (d Delta) Merge(other Delta) {
	for lemma, n := range other {
		d[lemma] += n
	}
}

// Total returns the sum of all counts.
func (d Delta) Total() int64 {
	var total int64
	for _, n := range d {
		total += n
	}
	return total
}

// Lemmas returns the lemmas in ascending order.
func (d Delta) Lemmas() []string {
	out := make([]string, 0, len(d))
	for lemma := range d {
		out = append(out, lemma)
	}
	sort.Strings(out)
	return out
}
