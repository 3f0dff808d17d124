// Package usage estimates token counts for the usage block of buffered
// responses. The upstream agent API does not report token usage, so counts
// here are estimates, not billing-grade numbers.
package usage

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// Counter implements domain.TokenCounter with a cl100k_base tokenizer and a
// whitespace-split fallback when the codec is unavailable.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a token counter (DI constructor).
func NewCounter() *Counter {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		codec = nil
	}

	return &Counter{
		codec: codec,
	}
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}

	if c.codec != nil {
		if ids, _, err := c.codec.Encode(text); err == nil {
			return len(ids)
		}
	}

	return len(strings.Fields(text))
}
