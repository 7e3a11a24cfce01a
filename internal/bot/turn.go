package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	ctxpkg "github.com/stupiduntilnot/freepsy/internal/context"
	"github.com/stupiduntilnot/freepsy/internal/db"
	"github.com/stupiduntilnot/freepsy/internal/render"
	"github.com/stupiduntilnot/freepsy/internal/replies"
)

// handleTurn runs one conversational turn: persist, crisis check, assemble,
// complete, persist the answer, render and deliver.
func (b *Bot) handleTurn(ctx context.Context, texts replies.Set, user *cmdpkg.User, chatID int64, text string) {
	log := b.logger.With("user_id", user.ID, "chat_id", chatID)
	b.event(db.EventTurnStarted, map[string]any{"user_id": user.ID, "chars": len([]rune(text))})

	b.upsertUser(log, user)
	if err := b.history.Append(user.ID, ctxpkg.RoleUser, text); err != nil {
		log.Error("failed to store user message", "error", err)
		b.sendPlain(ctx, chatID, texts.Generic)
		return
	}

	crisisSent := b.checkCrisis(ctx, log, texts, user.ID, chatID, text)

	model, messages, err := b.prepare(ctx, user.ID)
	if err != nil {
		log.Error("failed to assemble prompt", "error", err)
		b.sendPlain(ctx, chatID, texts.Generic)
		return
	}
	if crisisSent {
		messages = append(messages, ctxpkg.Message{Role: ctxpkg.RoleSystem, Content: texts.CrisisNote})
	}

	answer := b.complete(ctx, chatID, messages, model)
	if strings.TrimSpace(answer) == "" {
		answer = texts.Generic
	}
	if err := b.history.Append(user.ID, ctxpkg.RoleAssistant, answer); err != nil {
		log.Error("failed to store assistant message", "error", err)
	}

	chunks := b.deliver(ctx, log, chatID, answer)
	log.Info("turn completed", "model", model, "messages", len(messages), "chunks", chunks)
	b.event(db.EventTurnCompleted, map[string]any{
		"user_id": user.ID,
		"model":   model,
		"chunks":  chunks,
		"crisis":  crisisSent,
	})
}

func (b *Bot) upsertUser(log *slog.Logger, user *cmdpkg.User) {
	err := db.UpsertUser(b.db, db.User{
		ID:           user.ID,
		Username:     user.Username,
		FirstName:    user.FirstName,
		LanguageCode: user.LanguageCode,
	})
	if err != nil {
		log.Warn("failed to upsert user", "error", err)
	}
}

// checkCrisis sends the crisis response ahead of the model call and reports
// whether it did.
func (b *Bot) checkCrisis(ctx context.Context, log *slog.Logger, texts replies.Set, userID, chatID int64, text string) bool {
	if b.crisis == nil {
		return false
	}
	keyword, ok := b.crisis.Detect(text)
	if !ok {
		return false
	}
	log.Warn("crisis keyword detected", "keyword", keyword)
	if err := db.LogCrisisEvent(b.db, userID, "keyword", keyword); err != nil {
		log.Error("failed to log crisis event", "error", err)
	}
	b.event(db.EventCrisisDetected, map[string]any{"user_id": userID, "keyword": keyword})
	b.sendHTML(ctx, chatID, texts.Crisis, nil)
	return true
}

// prepare picks the model and assembles the prompt for userID's next answer.
// An active task routes to a task-appropriate model when one is cached.
func (b *Bot) prepare(ctx context.Context, userID int64) (string, []ctxpkg.Message, error) {
	model := b.setting(db.KeyCurrentModel, b.defaultModel)
	systemPrompt := b.setting(db.KeySystemPrompt, b.systemPrompt)

	var rolePrompt, taskPrompt string
	roleID := b.setting(db.UserRoleKey(userID), "")
	if role, ok := b.roles.Role(roleID); ok {
		rolePrompt = role.Prompt
		taskID := b.setting(db.UserTaskKey(userID), "")
		if task, ok := b.roles.Task(roleID, taskID); ok {
			taskPrompt = task.Prompt
			if routed, ok := b.router.ResolveForTask(ctx, task.Category); ok {
				model = routed
			}
		}
	}

	conversation, err := b.history.FetchOrdered(userID)
	if err != nil {
		return "", nil, err
	}
	return model, b.assembler.Build(conversation, systemPrompt, rolePrompt, taskPrompt), nil
}

// complete calls the provider while a typing indicator runs.
func (b *Bot) complete(ctx context.Context, chatID int64, messages []ctxpkg.Message, model string) string {
	stop := b.startTyping(ctx, chatID)
	defer stop()
	return b.provider.Complete(ctx, messages, model)
}

// startTyping sends a typing action now and every typingInterval until the
// returned stop func is called. stop waits for the sender to exit.
func (b *Bot) startTyping(ctx context.Context, chatID int64) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(b.typingInterval)
		defer ticker.Stop()
		for {
			if err := b.commander.SendTyping(ctx, chatID); err != nil && ctx.Err() == nil {
				b.logger.Debug("typing action failed", "chat_id", chatID, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// deliver splits answer into chunks and sends each as HTML, falling back to
// the raw chunk as plain text when Telegram rejects the markup.
func (b *Bot) deliver(ctx context.Context, log *slog.Logger, chatID int64, answer string) int {
	chunks := render.Split(answer, b.chunkSize)
	for i, chunk := range chunks {
		_, err := b.commander.SendHTML(ctx, chatID, render.ToSafeMarkup(chunk), nil)
		if err == nil {
			continue
		}
		log.Warn("html reply rejected, sending plain text", "chunk", i, "error", err)
		b.event(db.EventReplyFallback, map[string]any{"chat_id": chatID, "chunk": i})
		if _, err := b.commander.SendMessage(ctx, chatID, chunk); err != nil {
			log.Error("plain reply failed", "chunk", i, "error", err)
		}
	}
	return len(chunks)
}
