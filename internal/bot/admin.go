package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"

	"github.com/stupiduntilnot/freepsy/internal/catalog"
	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	"github.com/stupiduntilnot/freepsy/internal/db"
	"github.com/stupiduntilnot/freepsy/internal/replies"
)

func (b *Bot) cmdModelChange(ctx context.Context, texts replies.Set, userID, chatID int64) {
	if !b.isAdmin(userID) {
		b.sendPlain(ctx, chatID, texts.AdminOnly)
		return
	}
	current := b.setting(db.KeyCurrentModel, b.defaultModel)
	b.sendPlain(ctx, chatID, texts.ModelsLoading)

	models := b.models.FreeModels(ctx)
	if len(models) == 0 {
		b.sendHTML(ctx, chatID, fmt.Sprintf(texts.ModelsEmpty, html.EscapeString(current)), nil)
		return
	}

	kb, truncated := modelKeyboard(texts, models, current, b.modelListMax)
	text := fmt.Sprintf(texts.ModelsHeader, html.EscapeString(current))
	if truncated {
		text += fmt.Sprintf(texts.ModelsTruncated, b.modelListMax, len(models))
	}
	messageID, err := b.sendHTML(ctx, chatID, text, kb)
	if err != nil {
		return
	}
	b.pending.put(messageID, models)
}

// onModelCallback handles "model:<index>" and "model:cancel" presses.
func (b *Bot) onModelCallback(ctx context.Context, texts replies.Set, cb *cmdpkg.Callback, arg string) {
	if !b.isAdmin(cb.From.ID) {
		b.answer(ctx, cb.ID, texts.AdminOnlyShort, true)
		return
	}
	chatID, messageID := cb.Message.Chat.ID, cb.Message.MessageID

	if arg == "cancel" {
		b.pending.drop(messageID)
		b.edit(ctx, chatID, messageID, texts.ModelCancelled, nil)
		b.answer(ctx, cb.ID, "", false)
		return
	}
	idx, err := strconv.Atoi(arg)
	if err != nil {
		b.answer(ctx, cb.ID, texts.BadChoice, true)
		return
	}
	models, ok := b.pending.get(messageID)
	if !ok {
		b.answer(ctx, cb.ID, texts.ModelListStale, true)
		return
	}
	if idx < 0 || idx >= len(models) {
		b.answer(ctx, cb.ID, texts.ModelNotFound, true)
		return
	}
	chosen := models[idx]
	b.edit(ctx, chatID, messageID, fmt.Sprintf(texts.ModelChecking, html.EscapeString(chosen.Name)), nil)

	verr := b.models.Validate(ctx, chosen.ID)
	b.pending.drop(messageID)
	if verr != nil {
		b.edit(ctx, chatID, messageID, fmt.Sprintf(texts.ModelRejected, rejection(texts, chosen.ID, verr)), nil)
		b.answer(ctx, cb.ID, "", false)
		return
	}

	if err := b.settings.Set(db.KeyCurrentModel, chosen.ID); err != nil {
		b.logger.Error("failed to store current model", "model", chosen.ID, "error", err)
		b.edit(ctx, chatID, messageID, texts.Generic, nil)
		b.answer(ctx, cb.ID, "", false)
		return
	}
	b.logger.Info("model changed", "user_id", cb.From.ID, "model", chosen.ID)
	b.event(db.EventModelChanged, map[string]any{"user_id": cb.From.ID, "model": chosen.ID})
	b.edit(ctx, chatID, messageID,
		fmt.Sprintf(texts.ModelChanged, html.EscapeString(chosen.Name), html.EscapeString(chosen.ID)), nil)
	b.answer(ctx, cb.ID, "", false)
}

// rejection describes a failed validation for the admin.
func rejection(texts replies.Set, model string, err error) string {
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		if status := verr.Status(); status != 0 {
			return fmt.Sprintf(texts.ModelStatus, html.EscapeString(model), status)
		}
		err = verr.Err
	}
	return fmt.Sprintf(texts.ModelUnreachable, html.EscapeString(model), html.EscapeString(err.Error()))
}
