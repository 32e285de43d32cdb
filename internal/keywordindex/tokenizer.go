package keywordindex

import (
	"regexp"
	"strings"
)

// tokenRegex matches alphanumeric runs, including underscores, so paths,
// identifiers, and hyphenated flags all split into usable terms.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// DefaultStopWords are filtered from indexed and query text. Unlike a
// source-code tokenizer's keyword list, these are generic English stop
// words plus a handful of terminal-output filler that would otherwise
// dominate postings lists for capture text (shell prompts, log levels).
var DefaultStopWords = []string{
	"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
	"and", "or", "but", "if", "then", "else", "for", "to", "of", "in",
	"on", "at", "by", "with", "from", "as", "this", "that", "it", "its",
	"info", "warn", "warning", "error", "debug", "trace", "log",
}

// Tokenize splits text into lowercase terms, also breaking camelCase and
// snake_case identifiers into their component words, and drops tokens
// shorter than minLength.
func Tokenize(text string, minLength int) []string {
	var tokens []string

	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitIdentifier(word) {
			lower := strings.ToLower(t)
			if len(lower) >= minLength {
				tokens = append(tokens, lower)
			}
		}
	}

	return tokens
}

// splitIdentifier breaks snake_case then camelCase/PascalCase boundaries.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

// splitCamelCase splits "getUserById" -> ["get","User","By","Id"] and
// "HTTPHandler" -> ["HTTP","Handler"], treating acronym boundaries as
// word boundaries too.
func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && isUpper(r) {
			prevLower := isLower(runes[i-1])
			nextLower := i+1 < len(runes) && isLower(runes[i+1])
			if prevLower || nextLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isLower(r rune) bool { return r >= 'a' && r <= 'z' }

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a stop word slice into a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
