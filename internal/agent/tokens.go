package agent

import "strings"

// EstimateTokens returns ceil(words × 1.3) for text.
func EstimateTokens(text string) int {
	return TokensForWords(CountWords(text))
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// TokensForWords converts a word count to a token estimate of
// ceil(words × 1.3), computed in integers so 10 words is exactly 13.
func TokensForWords(words int) int {
	if words <= 0 {
		return 0
	}
	return (words*13 + 9) / 10
}
