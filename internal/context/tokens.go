package context

// EstimateTokens approximates the LLM token cost of text as a quarter of its
// UTF-8 byte length, never less than one.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// EstimateMessages sums EstimateTokens over messages.
func EstimateMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
