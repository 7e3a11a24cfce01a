// Package replies holds the pre-templated user-facing texts of the bot and
// picks the set matching a user's language.
package replies

import (
	"context"

	"golang.org/x/text/language"
)

// Set is one language's worth of user-facing texts.
type Set struct {
	Overloaded     string
	UpstreamError  string
	Malformed      string
	TimedOut       string
	Connection     string
	NoResponse     string
	Generic        string
	PleaseWait     string
	Crisis         string
	CrisisNote     string
	Welcome        string
	Help           string
	ResetConfirm   string
	ResetDone      string
	ResetCancelled string
	AdminOnly      string
	ModelsLoading  string
	ModelsEmpty    string
	PromptUpdated  string
	PromptReset    string
	PromptCurrent  string

	ModelsHeader     string
	ModelsTruncated  string
	ModelCancelled   string
	ModelChecking    string
	ModelRejected    string
	ModelStatus      string
	ModelUnreachable string
	ModelChanged     string
	ModelListStale   string
	ModelNotFound    string
	AdminOnlyShort   string
	BadChoice        string

	RoleChoose    string
	RoleCurrent   string
	RoleTaskMark  string
	RoleNotFound  string
	TaskNotFound  string
	BadFormat     string
	RoleResetDone string
	RoleFreeChat  string
	RoleTasks     string
	TaskSelected  string

	ButtonResetYes  string
	ButtonCancel    string
	ButtonResetRole string
	ButtonFreeChat  string
	ButtonBack      string
}

var russian = Set{
	Overloaded:     "Извини, AI-сервис временно перегружен. Попробуй через минуту.",
	UpstreamError:  "Извини, произошла ошибка при обращении к AI. Попробуй ещё раз чуть позже.",
	Malformed:      "Извини, получен некорректный ответ от AI. Попробуй ещё раз.",
	TimedOut:       "Извини, AI долго думает и не успел ответить. Попробуй ещё раз.",
	Connection:     "Извини, ошибка соединения с AI. Попробуй ещё раз.",
	NoResponse:     "Извини, не удалось получить ответ от AI. Попробуй ещё раз.",
	Generic:        "Извини, произошла ошибка. Попробуй ещё раз.",
	PleaseWait:     "⏳ Подожди немного, я ещё обрабатываю предыдущий запрос.",
	Crisis:         "Мне очень жаль, что тебе сейчас так тяжело. Пожалуйста, обратись за помощью: телефон доверия <b>8-800-2000-122</b> (бесплатно, круглосуточно) или экстренные службы <b>112</b>.",
	CrisisNote:     "ВНИМАНИЕ: пользователь выразил кризисные мысли. Контакты горячих линий уже показаны. Ответь с максимальной эмпатией и поддержкой. Не игнорируй тему, но и не усиливай кризис.",
	Welcome:        "Привет! Я FreePsy, бот психологической поддержки. Расскажи, что тебя беспокоит.",
	Help:           "/role — выбрать бизнес-роль\n/reset — очистить историю\n/help — список команд",
	ResetConfirm:   "Ты уверен(а), что хочешь очистить всю историю диалога? Это действие нельзя отменить.",
	ResetDone:      "История очищена. Удалено сообщений: %d.\nРоль сброшена. Можем начать сначала 💙",
	ResetCancelled: "Отменено. История сохранена.",
	AdminOnly:      "Эта команда доступна только администратору.",
	ModelsLoading:  "Загружаю список моделей...",
	ModelsEmpty:    "Не удалось получить список моделей.\nТекущая модель: <code>%s</code>",
	PromptUpdated:  "Системный промпт обновлён.",
	PromptReset:    "Системный промпт сброшен на стандартный.",
	PromptCurrent:  "Текущий системный промпт:\n\n%s",

	ModelsHeader:     "Текущая модель: <code>%s</code>\n\nВыбери новую модель:",
	ModelsTruncated:  "\n<i>(показаны первые %d из %d)</i>",
	ModelCancelled:   "Выбор модели отменён.",
	ModelChecking:    "Проверяю модель <code>%s</code>...",
	ModelRejected:    "Модель отклонена: %s",
	ModelStatus:      "Модель <code>%s</code> вернула ошибку %d. Возможно, она не поддерживает system-промпты.",
	ModelUnreachable: "Не удалось проверить модель <code>%s</code>: %s",
	ModelChanged:     "Модель изменена на: <b>%s</b>\n<code>%s</code>",
	ModelListStale:   "Список устарел, вызовите /modelchange заново.",
	ModelNotFound:    "Модель не найдена. Попробуй /modelchange заново.",
	AdminOnlyShort:   "Только для администратора.",
	BadChoice:        "Некорректный выбор.",

	RoleChoose:    "Выбери бизнес-роль:",
	RoleCurrent:   "\nСейчас: %s <b>%s</b>",
	RoleTaskMark:  " → %s %s",
	RoleNotFound:  "Роль не найдена.",
	TaskNotFound:  "Задача не найдена.",
	BadFormat:     "Некорректный формат.",
	RoleResetDone: "Роль сброшена. История очищена.\nТеперь я снова FreePsy-психолог 💙",
	RoleFreeChat:  "%s <b>%s</b>: свободный диалог\n\nЗадавай любые вопросы по теме. Чтобы сменить роль: /role",
	RoleTasks:     "%s <b>%s</b>\n%s\n\nВыбери задачу:",
	TaskSelected:  "%s <b>%s</b> → %s <b>%s</b>\n\n%s.\n\nОпиши свой контекст (продукт, бизнес, задачу), и я подготовлю результат.",

	ButtonResetYes:  "Да, очистить",
	ButtonCancel:    "Отмена",
	ButtonResetRole: "❌ Сбросить роль",
	ButtonFreeChat:  "💬 Свободный диалог",
	ButtonBack:      "⬅ Назад к ролям",
}

var english = Set{
	Overloaded:     "Sorry, the AI service is overloaded right now. Please try again in a minute.",
	UpstreamError:  "Sorry, something went wrong while contacting the AI. Please try again a bit later.",
	Malformed:      "Sorry, the AI sent an invalid response. Please try again.",
	TimedOut:       "Sorry, the AI took too long to answer. Please try again.",
	Connection:     "Sorry, the connection to the AI failed. Please try again.",
	NoResponse:     "Sorry, no answer came back from the AI. Please try again.",
	Generic:        "Sorry, something went wrong. Please try again.",
	PleaseWait:     "⏳ Please wait a moment, I'm still working on your previous message.",
	Crisis:         "I'm really sorry you're going through this. Please reach out for help right now: call your local emergency number or a crisis hotline such as <b>988</b> (US).",
	CrisisNote:     "ATTENTION: the user expressed crisis thoughts. Hotline contacts were already shown. Answer with maximum empathy and support. Do not ignore the topic and do not escalate it.",
	Welcome:        "Hi! I'm FreePsy, a supportive companion bot. Tell me what's on your mind.",
	Help:           "/role — choose a business role\n/reset — clear history\n/help — list commands",
	ResetConfirm:   "Are you sure you want to clear the whole conversation? This cannot be undone.",
	ResetDone:      "History cleared. Messages removed: %d.\nRole reset. We can start over 💙",
	ResetCancelled: "Cancelled. History kept.",
	AdminOnly:      "This command is available to the administrator only.",
	ModelsLoading:  "Loading the model list...",
	ModelsEmpty:    "Could not load the model list.\nCurrent model: <code>%s</code>",
	PromptUpdated:  "System prompt updated.",
	PromptReset:    "System prompt reset to default.",
	PromptCurrent:  "Current system prompt:\n\n%s",

	ModelsHeader:     "Current model: <code>%s</code>\n\nChoose a new model:",
	ModelsTruncated:  "\n<i>(showing the first %d of %d)</i>",
	ModelCancelled:   "Model selection cancelled.",
	ModelChecking:    "Checking model <code>%s</code>...",
	ModelRejected:    "Model rejected: %s",
	ModelStatus:      "Model <code>%s</code> answered with error %d. It may not support system prompts.",
	ModelUnreachable: "Could not check model <code>%s</code>: %s",
	ModelChanged:     "Model changed to: <b>%s</b>\n<code>%s</code>",
	ModelListStale:   "This list is outdated, run /modelchange again.",
	ModelNotFound:    "Model not found. Run /modelchange again.",
	AdminOnlyShort:   "Administrator only.",
	BadChoice:        "Invalid choice.",

	RoleChoose:    "Choose a business role:",
	RoleCurrent:   "\nNow: %s <b>%s</b>",
	RoleTaskMark:  " → %s %s",
	RoleNotFound:  "Role not found.",
	TaskNotFound:  "Task not found.",
	BadFormat:     "Invalid format.",
	RoleResetDone: "Role reset. History cleared.\nI'm FreePsy the listener again 💙",
	RoleFreeChat:  "%s <b>%s</b>: free conversation\n\nAsk anything on the topic. To switch roles: /role",
	RoleTasks:     "%s <b>%s</b>\n%s\n\nChoose a task:",
	TaskSelected:  "%s <b>%s</b> → %s <b>%s</b>\n\n%s.\n\nDescribe your context (product, business, goal) and I'll prepare the result.",

	ButtonResetYes:  "Yes, clear",
	ButtonCancel:    "Cancel",
	ButtonResetRole: "❌ Reset role",
	ButtonFreeChat:  "💬 Free conversation",
	ButtonBack:      "⬅ Back to roles",
}

// Catalog resolves a user's language code to a Set.
type Catalog struct {
	matcher language.Matcher
	sets    []Set
}

// NewCatalog returns a catalog whose fallback is the given default language.
// Unknown defaults fall back to Russian.
func NewCatalog(defaultLang string) *Catalog {
	tags := []language.Tag{language.Russian, language.English}
	sets := []Set{russian, english}
	if base, _ := language.Make(defaultLang).Base(); base.String() == "en" {
		tags[0], tags[1] = tags[1], tags[0]
		sets[0], sets[1] = sets[1], sets[0]
	}
	return &Catalog{matcher: language.NewMatcher(tags), sets: sets}
}

// For returns the Set best matching a BCP 47 language code such as Telegram's
// language_code. An empty or unparsable code yields the default Set.
func (c *Catalog) For(lang string) Set {
	if lang == "" {
		return c.sets[0]
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return c.sets[0]
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf == language.No {
		return c.sets[0]
	}
	return c.sets[idx]
}

// FromContext returns the Set for the language stored in ctx.
func (c *Catalog) FromContext(ctx context.Context) Set {
	return c.For(LanguageFrom(ctx))
}

type langKey struct{}

// WithLanguage stores the user's language code in ctx.
func WithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, langKey{}, lang)
}

// LanguageFrom returns the language code stored by WithLanguage, or "".
func LanguageFrom(ctx context.Context) string {
	lang, _ := ctx.Value(langKey{}).(string)
	return lang
}
