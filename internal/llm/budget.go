package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TruncationMarker is appended to context that was cut short.
const TruncationMarker = "\n...[truncated]"

// MaxContextChars caps the context sent with a generation request,
// whatever its token count.
const MaxContextChars = 50000

// Tokenizer encodes text into tokens and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenizer) Encode(text string) []int    { return t.enc.EncodeOrdinary(text) }
func (t tiktokenizer) Decode(tokens []int) string { return t.enc.Decode(tokens) }

// NewTiktoken loads the encoding used by model.
func NewTiktoken(model string) (Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding for %q: %w", model, err)
	}
	return tiktokenizer{enc: enc}, nil
}

// Budget bounds the size of prompt context.
type Budget struct {
	tok       Tokenizer
	maxTokens int
	maxChars  int
}

// NewBudget returns a budget of maxTokens. A nil tokenizer or a
// non-positive maxTokens disables token counting and only the character cap
// applies.
func NewBudget(tok Tokenizer, maxTokens int) *Budget {
	return &Budget{tok: tok, maxTokens: maxTokens, maxChars: MaxContextChars}
}

// Count returns the number of tokens in text, or -1 when no tokenizer is
// configured.
func (b *Budget) Count(text string) int {
	if b == nil || b.tok == nil {
		return -1
	}
	return len(b.tok.Encode(text))
}

// Truncate cuts text to fit the budget and reports whether it did.
func (b *Budget) Truncate(text string) (string, bool) {
	truncated := false
	if b != nil && b.tok != nil && b.maxTokens > 0 {
		tokens := b.tok.Encode(text)
		if len(tokens) > b.maxTokens {
			text = b.tok.Decode(tokens[:b.maxTokens])
			truncated = true
		}
	}
	maxChars := MaxContextChars
	if b != nil && b.maxChars > 0 {
		maxChars = b.maxChars
	}
	if len(text) > maxChars {
		n := maxChars
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
		truncated = true
	}
	if truncated {
		text = strings.TrimRight(text, "\n") + TruncationMarker
	}
	return text, truncated
}

// ContextBlock formats one source file for a generation prompt.
func ContextBlock(path, content string) string {
	return "\n\n--- FILE: " + path + " ---\n" + content
}
