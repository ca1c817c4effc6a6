package tokenizer

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// perMessageOverhead approximates the role and separator tokens chat models
// add around every message.
const perMessageOverhead = 4

var (
	defaultCodec    tokenizer.Codec
	defaultCodecErr error
	defaultOnce     sync.Once

	modelCodecs sync.Map // model name -> tokenizer.Codec
)

func getDefaultCodec() (tokenizer.Codec, error) {
	defaultOnce.Do(func() {
		defaultCodec, defaultCodecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return defaultCodec, defaultCodecErr
}

// codecFor returns the model's own encoding, or cl100k_base for models
// tiktoken does not know (Anthropic, local models).
func codecFor(model string) (tokenizer.Codec, error) {
	if model == "" {
		return getDefaultCodec()
	}
	if c, ok := modelCodecs.Load(model); ok {
		return c.(tokenizer.Codec), nil
	}
	c, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		return getDefaultCodec()
	}
	modelCodecs.Store(model, c)
	return c, nil
}

// CountTokens counts cl100k_base tokens. If the codec cannot be loaded it
// falls back to a word-based estimate.
func CountTokens(text string) int {
	return CountTokensForModel(text, "")
}

func CountTokensForModel(text, model string) int {
	if text == "" {
		return 0
	}
	c, err := codecFor(model)
	if err != nil {
		return estimate(text)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return estimate(text)
	}
	return len(ids)
}

// CountMessages estimates the prompt size of a chat request.
func CountMessages(model string, contents ...string) int {
	total := 0
	for _, c := range contents {
		total += CountTokensForModel(c, model) + perMessageOverhead
	}
	return total
}

func estimate(text string) int {
	words := strings.Fields(text)
	return max(len(words)*4/3, 1)
}
