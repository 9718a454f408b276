package moderation

import (
	"fmt"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"

	apperrors "transfer-relay/errors"
)

// Screener rejects uploads whose file names contain forbidden terms.
// Matching runs on a normalized view of the name so separator tricks
// ("b_a_d.txt") and common leet substitutions do not slip through.
type Screener struct {
	matcher *goahocorasick.Machine
}

// NewScreener builds the Aho-Corasick automaton from a normalized version
// of the forbidden words list. An empty list yields a passthrough screener.
func NewScreener(forbiddenWords []string) (*Screener, error) {
	if len(forbiddenWords) == 0 {
		return &Screener{}, nil
	}

	patterns := make([][]rune, len(forbiddenWords))
	for i, word := range forbiddenWords {
		patterns[i] = normalizeRunes([]rune(word))
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Screener{matcher: m}, nil
}

// Screen returns ErrForbiddenFilename when the file name contains any
// forbidden term, nil otherwise.
func (s *Screener) Screen(fileName string) error {
	if s.matcher == nil {
		return nil
	}

	normalized := normalizeRunes([]rune(fileName))
	if len(normalized) == 0 {
		return nil
	}

	spans := s.matcher.MultiPatternSearch(normalized, true)
	if len(spans) == 0 {
		return nil
	}
	return fmt.Errorf("file name contains %q: %w", string(spans[0].Word), apperrors.ErrForbiddenFilename)
}

// normalizeRunes lowercases, undoes leet substitutions and strips
// punctuation, spacing and symbols.
func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet speak characters back to their standard
// alphabet counterparts.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters ignored during pattern matching.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
