package gateway

import (
	"context"
	"strings"
	"unicode"
)

// KeywordTopics is a deterministic topic extractor. It first checks a small
// keyword table, then falls back to the most frequent meaningful token shared
// with the corpus, and finally derives a label from the text itself.
type KeywordTopics struct{}

var topicKeywords = []struct {
	topic string
	words []string
}{
	{"meeting", []string{"meeting", "discussion", "call", "standup"}},
	{"work", []string{"project", "work", "task", "deadline"}},
	{"decision", []string{"decision", "choose", "decide", "option"}},
	{"health", []string{"doctor", "exercise", "sleep", "health"}},
	{"travel", []string{"flight", "trip", "travel", "hotel"}},
}

func (KeywordTopics) ExtractTopic(_ context.Context, text string, corpus []string) (string, error) {
	lower := strings.ToLower(text)
	for _, tk := range topicKeywords {
		for _, w := range tk.words {
			if strings.Contains(lower, w) {
				return tk.topic, nil
			}
		}
	}

	// Prefer a token that also appears somewhere in the corpus.
	tokens := meaningfulTokens(lower)
	for _, tok := range tokens {
		for _, doc := range corpus {
			if strings.Contains(strings.ToLower(doc), tok) {
				return tok, nil
			}
		}
	}

	// Outlier: derive a fallback label from the text itself.
	if len(tokens) > 0 {
		return tokens[0], nil
	}
	return "general", nil
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {},
	"was": {}, "are": {}, "but": {}, "not": {}, "you": {}, "have": {},
	"had": {}, "has": {}, "our": {}, "from": {}, "they": {}, "about": {},
}

func meaningfulTokens(text string) []string {
	var tokens []string
	var sb strings.Builder
	flush := func() {
		if sb.Len() >= 4 {
			tok := sb.String()
			if _, stop := stopWords[tok]; !stop {
				tokens = append(tokens, tok)
			}
		}
		sb.Reset()
	}
	for _, r := range text {
		if unicode.IsLetter(r) {
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return tokens
}
