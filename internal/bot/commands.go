package bot

import (
	"context"
	"fmt"
	"html"

	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	"github.com/stupiduntilnot/freepsy/internal/db"
	"github.com/stupiduntilnot/freepsy/internal/replies"
)

func (b *Bot) handleCommand(ctx context.Context, texts replies.Set, user *cmdpkg.User, chatID int64, cmd, args string) {
	b.logger.Debug("command", "user_id", user.ID, "command", cmd)
	switch cmd {
	case "/start":
		b.upsertUser(b.logger.With("user_id", user.ID), user)
		b.sendHTML(ctx, chatID, texts.Welcome, nil)
	case "/help":
		b.sendHTML(ctx, chatID, texts.Help, nil)
	case "/reset":
		b.sendHTML(ctx, chatID, texts.ResetConfirm, resetKeyboard(texts))
	case "/role":
		b.cmdRole(ctx, texts, user.ID, chatID)
	case "/modelchange":
		b.cmdModelChange(ctx, texts, user.ID, chatID)
	case "/setprompt":
		b.cmdSetPrompt(ctx, texts, user.ID, chatID, args)
	case "/resetprompt":
		b.cmdResetPrompt(ctx, texts, user.ID, chatID)
	default:
		b.sendHTML(ctx, chatID, texts.Help, nil)
	}
}

func (b *Bot) cmdRole(ctx context.Context, texts replies.Set, userID, chatID int64) {
	roleID := b.setting(db.UserRoleKey(userID), "")
	status := ""
	if role, ok := b.roles.Role(roleID); ok {
		status = fmt.Sprintf(texts.RoleCurrent, role.Emoji, html.EscapeString(role.Name))
		if task, ok := b.roles.Task(roleID, b.setting(db.UserTaskKey(userID), "")); ok {
			status += fmt.Sprintf(texts.RoleTaskMark, task.Emoji, html.EscapeString(task.Name))
		}
	} else {
		roleID = ""
	}
	b.sendHTML(ctx, chatID, texts.RoleChoose+status, roleKeyboard(texts, b.roles.Roles(), roleID))
}

func (b *Bot) cmdSetPrompt(ctx context.Context, texts replies.Set, userID, chatID int64, prompt string) {
	if !b.isAdmin(userID) {
		b.sendPlain(ctx, chatID, texts.AdminOnly)
		return
	}
	if prompt == "" {
		current := b.setting(db.KeySystemPrompt, b.systemPrompt)
		b.sendPlain(ctx, chatID, fmt.Sprintf(texts.PromptCurrent, current))
		return
	}
	if err := b.settings.Set(db.KeySystemPrompt, prompt); err != nil {
		b.logger.Error("failed to store system prompt", "error", err)
		b.sendPlain(ctx, chatID, texts.Generic)
		return
	}
	b.logger.Info("system prompt changed", "user_id", userID)
	b.event(db.EventPromptChanged, map[string]any{"user_id": userID, "reset": false})
	b.sendPlain(ctx, chatID, texts.PromptUpdated)
}

func (b *Bot) cmdResetPrompt(ctx context.Context, texts replies.Set, userID, chatID int64) {
	if !b.isAdmin(userID) {
		b.sendPlain(ctx, chatID, texts.AdminOnly)
		return
	}
	if err := b.settings.Delete(db.KeySystemPrompt); err != nil {
		b.logger.Error("failed to reset system prompt", "error", err)
		b.sendPlain(ctx, chatID, texts.Generic)
		return
	}
	b.logger.Info("system prompt reset to default", "user_id", userID)
	b.event(db.EventPromptChanged, map[string]any{"user_id": userID, "reset": true})
	b.sendPlain(ctx, chatID, texts.PromptReset)
}
