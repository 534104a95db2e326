package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stoplist represents the stopword list configuration
type Stoplist struct {
	Terms []string `yaml:"terms"`
}

// LoadStoplist loads stopwords from a YAML file
func LoadStoplist(path string) (*Stoplist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sl Stoplist
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, fmt.Errorf("parse stoplist %s: %w", path, err)
	}

	return &sl, nil
}

// Lexicon maps inflected forms to their lemma.
//
// Expected format:
//
//	synonyms:
//	  - canonical: run
//	    variants: [runs, running, ran]
type Lexicon struct {
	Synonyms []SynonymGroup `yaml:"synonyms"`
}

// SynonymGroup is one lemma and the surface forms that reduce to it.
type SynonymGroup struct {
	Canonical string   `yaml:"canonical"`
	Variants  []string `yaml:"variants"`
}

// LoadLexicon loads a lexicon from a YAML file.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}
	return &lex, nil
}

// Lemmas returns the lowercased variant -> canonical map. A variant listed
// under two groups keeps the later one.
func (l *Lexicon) Lemmas() map[string]string {
	out := make(map[string]string)
	if l == nil {
		return out
	}
	for _, g := range l.Synonyms {
		canonical := strings.ToLower(strings.TrimSpace(g.Canonical))
		if canonical == "" {
			continue
		}
		for _, v := range g.Variants {
			v = strings.ToLower(strings.TrimSpace(v))
			if v != "" && v != canonical {
				out[v] = canonical
			}
		}
	}
	return out
}
