package context

// BudgetCompressor keeps the most recent messages whose summed token
// estimates fit the budget.
type BudgetCompressor struct{}

// Compress walks history from newest to oldest and stops at the first message
// that would overflow budget. The result is in chronological order.
func (BudgetCompressor) Compress(history []StoredMessage, budget int) []Message {
	if budget <= 0 || len(history) == 0 {
		return nil
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i].Tokens()
		if used+t > budget {
			break
		}
		used += t
		start = i
	}
	selected := make([]Message, 0, len(history)-start)
	for _, m := range history[start:] {
		selected = append(selected, Message{Role: m.Role, Content: m.Content})
	}
	return selected
}
