package aggregate

import (
	"reflect"
	"testing"

	"github.com/cognicore/wordfreq/pkg/wordfreq/annotate"
	"github.com/cognicore/wordfreq/pkg/wordfreq/filter"
)

func word(lemma string) annotate.Token {
	return annotate.Token{Text: lemma, Lemma: lemma, POS: "NOUN", IsASCII: true}
}

func TestCountFiltersAndTallies(t *testing.T) {
	stop := word("the")
	stop.IsStop = true
	punct := annotate.Token{Text: ",", Lemma: ",", POS: "PUNCT", IsASCII: true, IsPunct: true}
	ent := word("paris")
	ent.EntType = "GPE"

	tokens := []annotate.Token{
		word("hello"), punct, word("world"), stop, word("hello"), ent, word(" world "),
	}

	got := Count(tokens)
	want := Delta{"hello": 2, "world": 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Count = %v, want %v", got, want)
	}
	if got.Total() != 4 {
		t.Errorf("Total = %d, want 4", got.Total())
	}
}

func TestCountNoSurvivors(t *testing.T) {
	stop := word("and")
	stop.IsStop = true

	for _, tokens := range [][]annotate.Token{nil, {stop}} {
		d := Count(tokens)
		if d == nil {
			t.Fatal("Count must return a non-nil delta")
		}
		if len(d) != 0 {
			t.Errorf("expected empty delta, got %v", d)
		}
	}
}

func TestCountWithObservesEveryToken(t *testing.T) {
	stop := word("of")
	stop.IsStop = true
	tokens := []annotate.Token{word("sky"), stop, word("bcdfg")}

	seen := map[filter.Reason]int{}
	d := CountWith(tokens, func(r filter.Reason) { seen[r]++ })

	if d["sky"] != 1 || len(d) != 1 {
		t.Errorf("delta = %v, want {sky:1}", d)
	}
	want := map[filter.Reason]int{filter.Accepted: 1, filter.RejectStopword: 1, filter.RejectNoVowel: 1}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("observed %v, want %v", seen, want)
	}
}

func TestMergeAndLemmas(t *testing.T) {
	d := Delta{"b": 1, "a": 2}
	d.Merge(Delta{"a": 3, "c": 1})

	if !reflect.DeepEqual(d, Delta{"a": 5, "b": 1, "c": 1}) {
		t.Fatalf("Merge result %v", d)
	}
	if got := d.Lemmas(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Lemmas = %v", got)
	}
}
