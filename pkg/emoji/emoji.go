package emoji

import (
	"github.com/forPelevin/gomoji"
	"github.com/pkg/errors"
)

// ErrInvalidReaction is returned for reactions outside the fixed vocabulary
// or strings that are not exactly one emoji.
var ErrInvalidReaction = errors.New("reaction must be a single emoji from the allowed set")

// vocabulary is the closed set of reaction emojis.
var vocabulary = []string{
	"👍", "❤️", "😂", "😮", "😢", "🔥", "✨", "🚀", "💯", "✅", "🙌", "🎉", "🤝",
}

var vocabSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(vocabulary))
	for _, e := range vocabulary {
		m[e] = struct{}{}
	}
	return m
}()

// Vocabulary returns the allowed reaction emojis in display order.
func Vocabulary() []string {
	out := make([]string, len(vocabulary))
	copy(out, vocabulary)
	return out
}

// ValidateReaction checks that the reaction is exactly one emoji and a
// member of the fixed vocabulary.
func ValidateReaction(reaction string) error {
	if _, ok := vocabSet[reaction]; !ok {
		return ErrInvalidReaction
	}
	if len(gomoji.RemoveEmojis(reaction)) > 0 {
		return ErrInvalidReaction
	}
	return nil
}
