package keywordindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_CamelCase(t *testing.T) {
	tokens := Tokenize("getUserById", 1)
	assert.Equal(t, []string{"get", "user", "by", "id"}, tokens)
}

func TestTokenize_SnakeCase(t *testing.T) {
	tokens := Tokenize("get_user_by_id", 1)
	assert.Equal(t, []string{"get", "user", "by", "id"}, tokens)
}

func TestTokenize_Acronym(t *testing.T) {
	tokens := Tokenize("parseHTTPRequest", 1)
	assert.Equal(t, []string{"parse", "http", "request"}, tokens)
}

func TestTokenize_MinLengthFilters(t *testing.T) {
	tokens := Tokenize("a bb ccc", 2)
	assert.Equal(t, []string{"bb", "ccc"}, tokens)
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, Tokenize("", 2))
	assert.Empty(t, Tokenize("   ", 2))
}

func TestFilterStopWords(t *testing.T) {
	stopWords := BuildStopWordMap([]string{"the", "a"})
	result := FilterStopWords([]string{"the", "request", "a", "failed"}, stopWords)
	assert.Equal(t, []string{"request", "failed"}, result)
}

func TestBuildStopWordMap_Lowercases(t *testing.T) {
	m := BuildStopWordMap([]string{"THE", "An"})
	_, ok := m["the"]
	assert.True(t, ok)
	_, ok = m["an"]
	assert.True(t, ok)
}
