package config

import "testing"

func TestLoadStoplist(t *testing.T) {
	path := writeFile(t, "stoplist.yaml", `terms:
  - the
  - a
  - and
`)

	sl, err := LoadStoplist(path)
	if err != nil {
		t.Fatalf("Failed to load stoplist: %v", err)
	}

	if len(sl.Terms) != 3 {
		t.Errorf("Expected 3 terms, got %d", len(sl.Terms))
	}

	expected := map[string]bool{"the": true, "a": true, "and": true}
	for _, term := range sl.Terms {
		if !expected[term] {
			t.Errorf("Unexpected term: %s", term)
		}
	}
}

func TestLoadStoplistInvalidYAML(t *testing.T) {
	path := writeFile(t, "stoplist.yaml", "terms: [unclosed")
	if _, err := LoadStoplist(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadLexicon(t *testing.T) {
	path := writeFile(t, "lexicon.yaml", `synonyms:
  - canonical: Run
    variants: [runs, Running, ran, run]
  - canonical: mouse
    variants: [mice]
  - canonical: ""
    variants: [orphan]
`)

	lex, err := LoadLexicon(path)
	if err != nil {
		t.Fatalf("LoadLexicon: %v", err)
	}
	lemmas := lex.Lemmas()

	want := map[string]string{
		"runs":    "run",
		"running": "run",
		"ran":     "run",
		"mice":    "mouse",
	}
	if len(lemmas) != len(want) {
		t.Fatalf("Lemmas() = %v, want %v", lemmas, want)
	}
	for variant, canonical := range want {
		if lemmas[variant] != canonical {
			t.Errorf("lemma(%q) = %q, want %q", variant, lemmas[variant], canonical)
		}
	}
}

func TestNilLexicon(t *testing.T) {
	var lex *Lexicon
	if got := lex.Lemmas(); len(got) != 0 {
		t.Errorf("nil lexicon Lemmas() = %v", got)
	}
}
