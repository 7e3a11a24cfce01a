package context

// Budget holds the history ceilings of the assembler. A task prompt is
// injected into the conversation, so tasks get their own, larger ceiling.
type Budget struct {
	MaxTokens       int
	MaxTaskTokens   int
	TaskAckOverhead int
}

// DefaultTaskAck is the synthetic assistant turn that follows an injected task prompt.
const DefaultTaskAck = "Понял задачу. Жду подробностей."

// Assembler builds the ordered prompt for one turn.
type Assembler struct {
	Budget     Budget
	TaskAck    string
	Compressor Compressor
}

// NewAssembler returns an Assembler using BudgetCompressor.
func NewAssembler(budget Budget, taskAck string) *Assembler {
	if taskAck == "" {
		taskAck = DefaultTaskAck
	}
	return &Assembler{Budget: budget, TaskAck: taskAck, Compressor: BudgetCompressor{}}
}

// Build returns system, the optional task prompt pair and as much of the most
// recent conversation as the budget allows. rolePrompt replaces systemDefault
// when non-empty; an empty taskPrompt means no task is active.
func (a *Assembler) Build(conversation []StoredMessage, systemDefault, rolePrompt, taskPrompt string) []Message {
	system := systemDefault
	if rolePrompt != "" {
		system = rolePrompt
	}

	ceiling := a.Budget.MaxTokens
	if taskPrompt != "" {
		ceiling = a.Budget.MaxTaskTokens
	}
	budget := ceiling - EstimateTokens(system)
	if taskPrompt != "" {
		budget -= EstimateTokens(taskPrompt) + a.ackOverhead()
	}

	compressor := a.Compressor
	if compressor == nil {
		compressor = BudgetCompressor{}
	}
	history := compressor.Compress(conversation, budget)

	messages := make([]Message, 0, 3+len(history))
	messages = append(messages, Message{Role: RoleSystem, Content: system})
	if taskPrompt != "" {
		messages = append(messages,
			Message{Role: RoleUser, Content: taskPrompt},
			Message{Role: RoleAssistant, Content: a.TaskAck},
		)
	}
	return append(messages, history...)
}

// ackOverhead never undercounts the acknowledgment turn actually sent.
func (a *Assembler) ackOverhead() int {
	ack := EstimateTokens(a.TaskAck)
	if a.Budget.TaskAckOverhead > ack {
		return a.Budget.TaskAckOverhead
	}
	return ack
}
