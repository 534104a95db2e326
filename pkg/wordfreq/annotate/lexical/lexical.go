// Package lexical is a rule-based annotator: it tokenizes on whitespace and
// punctuation, sets lexical flags from character classes, marks stopwords
// from a list and looks lemmas up in a lexicon. It has no tagger or entity
// recognizer, so POS is only NUM, PUNCT, SYM, INTJ or X and EntType is empty.
package lexical

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate"
)

// POSOther is assigned to words the annotator cannot tag.
const POSOther = "X"

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[a-z]{2,}$`)

	numberWords = toSet("zero", "one", "two", "three", "four", "five", "six",
		"seven", "eight", "nine", "ten", "eleven", "twelve", "twenty", "thirty",
		"forty", "fifty", "hundred", "thousand", "million", "billion", "trillion")

	interjections = toSet("oh", "ah", "aha", "wow", "oops", "ouch", "hmm", "uh",
		"um", "yay", "hey", "alas", "ugh", "whoa", "eh")
)

const (
	quotes   = "\"'`«»‘’‚‛“”„‟‹›"
	brackets = "()[]{}<>"
)

// Options configures an Annotator.
type Options struct {
	Stopwords []string
	// Lemmas maps a lowercased surface form to its lemma.
	Lemmas map[string]string
}

// Annotator implements annotate.TextAnnotator. It is safe for concurrent use.
type Annotator struct {
	stopwords map[string]struct{}
	lemmas    map[string]string
}

var _ annotate.TextAnnotator = (*Annotator)(nil)

// New creates a new annotator with the given stopwords and lexicon.
func New(opts Options) *Annotator {
	stops := make(map[string]struct{}, len(opts.Stopwords))
	for _, w := range opts.Stopwords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	lemmas := make(map[string]string, len(opts.Lemmas))
	for k, v := range opts.Lemmas {
		lemmas[strings.ToLower(k)] = strings.ToLower(v)
	}
	return &Annotator{stopwords: stops, lemmas: lemmas}
}

// AnnotateText tokenizes text and annotates every token.
func (a *Annotator) AnnotateText(ctx context.Context, text string) ([]annotate.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tokens []annotate.Token
	for _, field := range strings.FieldsFunc(text, unicode.IsSpace) {
		switch {
		case likeURL(field):
			tok := a.word(field)
			tok.LikeURL = true
			tokens = append(tokens, tok)
		case emailPattern.MatchString(strings.ToLower(field)):
			tok := a.word(field)
			tok.LikeEmail = true
			tokens = append(tokens, tok)
		default:
			tokens = a.split(tokens, field)
		}
	}
	return tokens, nil
}

// split appends the word and punctuation tokens of one whitespace-free field.
// Hyphens and apostrophes between two word characters stay inside the word.
func (a *Annotator) split(tokens []annotate.Token, field string) []annotate.Token {
	runes := []rune(field)
	start := -1
	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, a.word(string(runes[start:end])))
			start = -1
		}
	}

	for i, r := range runes {
		switch {
		case isWordRune(r):
			if start < 0 {
				start = i
			}
		case (r == '-' || r == '\'') && start >= 0 && i+1 < len(runes) && isWordRune(runes[i+1]):
			// joiner inside a word
		default:
			flush(i)
			tokens = append(tokens, symbol(r))
		}
	}
	flush(len(runes))
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func (a *Annotator) word(text string) annotate.Token {
	key := strings.ToLower(text)
	tok := annotate.Token{
		Text:    text,
		Lemma:   a.lemma(key),
		POS:     POSOther,
		IsASCII: isASCII(text),
		IsDigit: isDigits(text),
	}
	tok.LikeNum = tok.IsDigit || likeNumber(key)
	_, tok.IsStop = a.stopwords[key]

	switch {
	case tok.LikeNum:
		tok.POS = annotate.POSNumber
	case interjections[key]:
		tok.POS = annotate.POSInterjection
	}
	return tok
}

func (a *Annotator) lemma(key string) string {
	if l, ok := a.lemmas[key]; ok {
		return FixLemma(key, l)
	}
	return key
}

func symbol(r rune) annotate.Token {
	s := string(r)
	tok := annotate.Token{
		Text:       s,
		Lemma:      s,
		IsASCII:    r <= unicode.MaxASCII,
		IsPunct:    unicode.IsPunct(r),
		IsDigit:    unicode.IsDigit(r),
		IsQuote:    strings.ContainsRune(quotes, r),
		IsBracket:  strings.ContainsRune(brackets, r),
		IsCurrency: unicode.Is(unicode.Sc, r),
	}
	if tok.IsPunct || tok.IsQuote || tok.IsBracket {
		tok.POS = annotate.POSPunctuation
	} else {
		tok.POS = annotate.POSSymbol
	}
	return tok
}

// FixLemma undoes a common lemmatizer mistake on words ending in "er" or
// "ed": when the lemma is the word minus those two letters plus "e"
// ("tasker" -> "taske"), the surface form is kept instead.
func FixLemma(text, lemma string) string {
	if !strings.HasSuffix(text, "er") && !strings.HasSuffix(text, "ed") {
		return lemma
	}
	if !strings.HasSuffix(lemma, "e") {
		return lemma
	}
	if lemma[:len(lemma)-1] == text[:len(text)-2] {
		return text
	}
	return lemma
}

func likeURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "://") || strings.HasPrefix(lower, "www.")
}

func likeNumber(s string) bool {
	if numberWords[s] {
		return true
	}
	if strings.IndexFunc(s, unicode.IsDigit) < 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return err == nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
