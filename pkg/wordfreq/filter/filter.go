// Package filter decides whether an annotated token counts toward the lemma
// frequency table.
package filter

import (
	"strings"
	"unicode/utf8"

	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate"
)

// MaxLemmaLen is the longest accepted lemma, in characters.
const MaxLemmaLen = 46

// Reason names the rule that rejected a token. Accepted means it counts.
type Reason string

const (
	Accepted        Reason = "accepted"
	RejectNonASCII  Reason = "non_ascii"
	RejectEntity    Reason = "entity"
	RejectFlag      Reason = "lexical_flag"
	RejectStopword  Reason = "stopword"
	RejectPOS       Reason = "pos"
	RejectEmpty     Reason = "empty"
	RejectSymbol    Reason = "symbol"
	RejectInvisible Reason = "invisible"
	RejectRepeat    Reason = "repeated_char"
	RejectNoVowel   Reason = "no_vowel"
	RejectTooLong   Reason = "too_long"
)

// Reasons lists every Reason in evaluation order.
var Reasons = []Reason{
	Accepted, RejectNonASCII, RejectEntity, RejectStopword, RejectFlag, RejectPOS,
	RejectEmpty, RejectSymbol, RejectInvisible, RejectRepeat, RejectNoVowel, RejectTooLong,
}

const (
	symbols   = "=+-~.,!?\"'()[]{}:;"
	invisible = "\u200b\u200c\u200d\u200e\u200f\ufeff\u00a0"
	vowels    = "aeiouy"
)

var excludedPOS = map[string]struct{}{
	annotate.POSSymbol:       {},
	annotate.POSPunctuation:  {},
	annotate.POSInterjection: {},
	annotate.POSNumber:       {},
}

// IsCountable reports whether tok contributes to the frequency table.
func IsCountable(tok annotate.Token) bool {
	return Classify(tok) == Accepted
}

// Classify returns Accepted or the first rule tok fails.
func Classify(tok annotate.Token) Reason {
	switch {
	case !tok.IsASCII:
		return RejectNonASCII
	case tok.EntType != "":
		return RejectEntity
	case tok.IsStop:
		return RejectStopword
	case tok.IsSpace || tok.IsPunct || tok.IsDigit || tok.IsQuote || tok.IsBracket ||
		tok.IsCurrency || tok.LikeNum || tok.LikeURL || tok.LikeEmail:
		return RejectFlag
	}
	if _, ok := excludedPOS[tok.POS]; ok {
		return RejectPOS
	}
	return ClassifyLemma(Lemma(tok))
}

// Lemma returns the whitespace-trimmed lemma of tok, the form that is counted.
func Lemma(tok annotate.Token) string {
	return strings.TrimSpace(tok.Lemma)
}

// ClassifyLemma applies the lemma-shape rules to an already trimmed lemma.
func ClassifyLemma(lemma string) Reason {
	switch {
	case lemma == "":
		return RejectEmpty
	case strings.ContainsAny(lemma, symbols):
		return RejectSymbol
	case strings.ContainsAny(lemma, invisible):
		return RejectInvisible
	case hasTripleRun(lemma):
		return RejectRepeat
	case !strings.ContainsAny(strings.ToLower(lemma), vowels):
		return RejectNoVowel
	case utf8.RuneCountInString(lemma) > MaxLemmaLen:
		return RejectTooLong
	}
	return Accepted
}

// hasTripleRun reports whether any character repeats three or more times in a row.
func hasTripleRun(s string) bool {
	var prev rune = -1
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= 3 {
				return true
			}
			continue
		}
		prev, run = r, 1
	}
	return false
}
