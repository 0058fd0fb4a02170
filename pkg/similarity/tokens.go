package similarity

import (
	"strings"
	"unicode"
)

// stopwords is a compact English stopword list.
var stopwords = map[string]bool{
	"a": true, "about": true, "above": true, "after": true, "again": true,
	"against": true, "all": true, "also": true, "am": true, "an": true,
	"and": true, "any": true, "are": true, "as": true, "at": true,
	"be": true, "because": true, "been": true, "before": true, "being": true,
	"below": true, "between": true, "both": true, "but": true, "by": true,
	"can": true, "could": true, "did": true, "do": true, "does": true,
	"doing": true, "down": true, "during": true, "each": true, "else": true,
	"even": true, "ever": true, "every": true, "few": true, "for": true,
	"from": true, "further": true, "get": true, "had": true, "has": true,
	"have": true, "having": true, "he": true, "her": true, "here": true,
	"hers": true, "herself": true, "him": true, "himself": true, "his": true,
	"how": true, "however": true, "i": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "its": true, "itself": true,
	"just": true, "may": true, "me": true, "might": true, "more": true,
	"most": true, "much": true, "must": true, "my": true, "myself": true,
	"no": true, "nor": true, "not": true, "now": true, "of": true,
	"off": true, "often": true, "on": true, "once": true, "only": true,
	"or": true, "other": true, "our": true, "ours": true, "ourselves": true,
	"out": true, "over": true, "own": true, "same": true, "she": true,
	"should": true, "since": true, "so": true, "some": true, "still": true,
	"such": true, "than": true, "that": true, "the": true, "their": true,
	"theirs": true, "them": true, "themselves": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "those": true, "though": true,
	"through": true, "thus": true, "to": true, "too": true, "under": true,
	"until": true, "up": true, "upon": true, "us": true, "very": true,
	"was": true, "we": true, "well": true, "were": true, "what": true,
	"when": true, "where": true, "whether": true, "which": true, "while": true,
	"who": true, "whom": true, "whose": true, "why": true, "will": true,
	"with": true, "within": true, "without": true, "would": true, "yet": true,
	"you": true, "your": true, "yours": true, "yourself": true, "yourselves": true,
}

// Tokenize lowercases text and returns its alphanumeric words longer than two
// characters, with stopwords removed. Order and repeats are preserved.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tokens []string
	for _, w := range words {
		if len([]rune(w)) > 2 && !stopwords[w] {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// IsStopword reports whether w (lowercase) is ignored by Tokenize.
func IsStopword(w string) bool {
	return stopwords[w]
}
