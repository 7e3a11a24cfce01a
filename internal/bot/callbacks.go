package bot

import (
	"context"
	"fmt"
	"html"
	"strings"

	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	"github.com/stupiduntilnot/freepsy/internal/db"
	"github.com/stupiduntilnot/freepsy/internal/replies"
)

func (b *Bot) handleCallback(ctx context.Context, texts replies.Set, cb *cmdpkg.Callback) {
	if cb.Message == nil {
		b.answer(ctx, cb.ID, "", false)
		return
	}
	prefix, arg, _ := strings.Cut(cb.Data, ":")
	switch prefix {
	case "reset":
		b.onResetCallback(ctx, texts, cb, arg)
	case "role":
		b.onRoleCallback(ctx, texts, cb, arg)
	case "task":
		b.onTaskCallback(ctx, texts, cb, arg)
	case "model":
		b.onModelCallback(ctx, texts, cb, arg)
	default:
		b.logger.Warn("unknown callback", "data", cb.Data)
		b.answer(ctx, cb.ID, "", false)
	}
}

func (b *Bot) onResetCallback(ctx context.Context, texts replies.Set, cb *cmdpkg.Callback, arg string) {
	chatID, messageID := cb.Message.Chat.ID, cb.Message.MessageID
	switch arg {
	case "confirm":
		deleted, err := b.clearConversation(cb.From.ID)
		if err != nil {
			b.logger.Error("failed to reset history", "user_id", cb.From.ID, "error", err)
			b.edit(ctx, chatID, messageID, texts.Generic, nil)
			break
		}
		b.event(db.EventHistoryReset, map[string]any{"user_id": cb.From.ID, "deleted": deleted})
		b.edit(ctx, chatID, messageID, fmt.Sprintf(texts.ResetDone, deleted), nil)
	case "cancel":
		b.edit(ctx, chatID, messageID, texts.ResetCancelled, nil)
	}
	b.answer(ctx, cb.ID, "", false)
}

func (b *Bot) onRoleCallback(ctx context.Context, texts replies.Set, cb *cmdpkg.Callback, arg string) {
	userID := cb.From.ID
	chatID, messageID := cb.Message.Chat.ID, cb.Message.MessageID

	switch arg {
	case "back":
		current := b.setting(db.UserRoleKey(userID), "")
		if _, ok := b.roles.Role(current); !ok {
			current = ""
		}
		b.edit(ctx, chatID, messageID, texts.RoleChoose, roleKeyboard(texts, b.roles.Roles(), current))
	case "reset":
		if _, err := b.clearConversation(userID); err != nil {
			b.logger.Error("failed to reset role", "user_id", userID, "error", err)
		}
		b.event(db.EventRoleSelected, map[string]any{"user_id": userID, "role": ""})
		b.edit(ctx, chatID, messageID, texts.RoleResetDone, nil)
	case "chat":
		roleID := b.setting(db.UserRoleKey(userID), "")
		if err := b.settings.Delete(db.UserTaskKey(userID)); err != nil {
			b.logger.Error("failed to clear task", "user_id", userID, "error", err)
		}
		if _, err := b.history.DeleteAll(userID); err != nil {
			b.logger.Error("failed to clear history", "user_id", userID, "error", err)
		}
		if role, ok := b.roles.Role(roleID); ok {
			b.edit(ctx, chatID, messageID, fmt.Sprintf(texts.RoleFreeChat, role.Emoji, html.EscapeString(role.Name)), nil)
		}
	default:
		role, ok := b.roles.Role(arg)
		if !ok {
			b.answer(ctx, cb.ID, texts.RoleNotFound, true)
			return
		}
		if err := b.selectRole(userID, role.ID, ""); err != nil {
			b.logger.Error("failed to select role", "user_id", userID, "role", role.ID, "error", err)
		}
		b.event(db.EventRoleSelected, map[string]any{"user_id": userID, "role": role.ID})
		b.edit(ctx, chatID, messageID,
			fmt.Sprintf(texts.RoleTasks, role.Emoji, html.EscapeString(role.Name), html.EscapeString(role.Description)),
			taskKeyboard(texts, role))
	}
	b.answer(ctx, cb.ID, "", false)
}

// onTaskCallback handles "task:<role>:<task>"; arg is "<role>:<task>".
func (b *Bot) onTaskCallback(ctx context.Context, texts replies.Set, cb *cmdpkg.Callback, arg string) {
	parts := strings.Split(arg, ":")
	if len(parts) != 2 {
		b.answer(ctx, cb.ID, texts.BadFormat, true)
		return
	}
	role, ok := b.roles.Role(parts[0])
	if !ok {
		b.answer(ctx, cb.ID, texts.TaskNotFound, true)
		return
	}
	task, ok := b.roles.Task(parts[0], parts[1])
	if !ok {
		b.answer(ctx, cb.ID, texts.TaskNotFound, true)
		return
	}

	userID := cb.From.ID
	if err := b.selectRole(userID, role.ID, task.ID); err != nil {
		b.logger.Error("failed to select task", "user_id", userID, "task", task.ID, "error", err)
	}
	b.event(db.EventRoleSelected, map[string]any{"user_id": userID, "role": role.ID, "task": task.ID})
	b.edit(ctx, cb.Message.Chat.ID, cb.Message.MessageID,
		fmt.Sprintf(texts.TaskSelected,
			role.Emoji, html.EscapeString(role.Name),
			task.Emoji, html.EscapeString(task.Name),
			html.EscapeString(task.Description)),
		nil)
	b.answer(ctx, cb.ID, "", false)
}

// selectRole stores the role and task (empty clears it) and starts a fresh
// conversation.
func (b *Bot) selectRole(userID int64, roleID, taskID string) error {
	if err := b.settings.Set(db.UserRoleKey(userID), roleID); err != nil {
		return err
	}
	if taskID == "" {
		if err := b.settings.Delete(db.UserTaskKey(userID)); err != nil {
			return err
		}
	} else if err := b.settings.Set(db.UserTaskKey(userID), taskID); err != nil {
		return err
	}
	_, err := b.history.DeleteAll(userID)
	return err
}

// clearConversation deletes the user's history, role and task.
func (b *Bot) clearConversation(userID int64) (int64, error) {
	deleted, err := b.history.DeleteAll(userID)
	if err != nil {
		return 0, err
	}
	if err := b.settings.Delete(db.UserRoleKey(userID)); err != nil {
		return deleted, err
	}
	return deleted, b.settings.Delete(db.UserTaskKey(userID))
}
