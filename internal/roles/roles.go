// Package roles is the static catalogue of business roles and their tasks.
package roles

// Role is a persona that replaces the default system prompt.
type Role struct {
	ID          string
	Name        string
	Emoji       string
	Description string
	Prompt      string
	Tasks       []Task
}

// Task is a structured assignment within a role. Category selects the model
// through the task routing table.
type Task struct {
	ID          string
	Name        string
	Emoji       string
	Description string
	Category    string
	Prompt      string
}

// Catalog looks roles and tasks up by id.
type Catalog struct {
	roles []Role
}

// NewCatalog returns a catalogue over roles; nil selects the built-in roles.
func NewCatalog(roles []Role) *Catalog {
	if roles == nil {
		roles = builtin
	}
	return &Catalog{roles: roles}
}

// Roles returns every role in display order.
func (c *Catalog) Roles() []Role { return c.roles }

// Role finds a role by id.
func (c *Catalog) Role(id string) (Role, bool) {
	for _, r := range c.roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// Task finds a task of the given role.
func (c *Catalog) Task(roleID, taskID string) (Task, bool) {
	r, ok := c.Role(roleID)
	if !ok {
		return Task{}, false
	}
	for _, t := range r.Tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return Task{}, false
}

var builtin = []Role{
	{
		ID:          "marketer",
		Name:        "Маркетолог",
		Emoji:       "📣",
		Description: "Позиционирование, каналы продвижения и тексты.",
		Prompt: "Ты опытный маркетолог. Помогаешь малому бизнесу с позиционированием, " +
			"выбором каналов и текстами. Задаёшь уточняющие вопросы и даёшь конкретные шаги.",
		Tasks: []Task{
			{
				ID: "positioning", Name: "Позиционирование", Emoji: "🎯",
				Description: "Сформулирую позиционирование и ценностное предложение",
				Category:    "reasoning",
				Prompt: "Задача: сформулировать позиционирование продукта. Выясни целевую аудиторию, " +
					"альтернативы и ключевую ценность, затем предложи 3 варианта позиционирования.",
			},
			{
				ID: "copy", Name: "Рекламные тексты", Emoji: "✍️",
				Description: "Напишу варианты рекламных текстов",
				Category:    "creative",
				Prompt: "Задача: написать рекламные тексты. Уточни продукт, аудиторию и канал, " +
					"затем дай 5 вариантов заголовков и 3 варианта текста.",
			},
		},
	},
	{
		ID:          "analyst",
		Name:        "Бизнес-аналитик",
		Emoji:       "📊",
		Description: "Разбор метрик, юнит-экономика и гипотезы.",
		Prompt: "Ты бизнес-аналитик. Разбираешь метрики и юнит-экономику, " +
			"формулируешь гипотезы и проверяешь расчёты.",
		Tasks: []Task{
			{
				ID: "unit", Name: "Юнит-экономика", Emoji: "🧮",
				Description: "Посчитаю юнит-экономику по твоим данным",
				Category:    "analytical",
				Prompt: "Задача: рассчитать юнит-экономику. Запроси CAC, средний чек, маржу и retention, " +
					"затем покажи расчёт LTV, LTV/CAC и точку окупаемости в виде таблицы.",
			},
			{
				ID: "swot", Name: "SWOT-анализ", Emoji: "🧭",
				Description: "Соберу SWOT-анализ",
				Category:    "structured",
				Prompt: "Задача: составить SWOT-анализ. Уточни контекст бизнеса и рынка, " +
					"затем выдай четыре раздела списками и выводы.",
			},
		},
	},
	{
		ID:          "pm",
		Name:        "Продакт-менеджер",
		Emoji:       "🛠",
		Description: "Приоритизация, исследования пользователей и roadmap.",
		Prompt: "Ты продакт-менеджер. Помогаешь приоритизировать задачи, " +
			"планировать исследования пользователей и строить roadmap.",
		Tasks: []Task{
			{
				ID: "roadmap", Name: "Roadmap", Emoji: "🗺",
				Description: "Составлю roadmap на квартал",
				Category:    "structured",
				Prompt: "Задача: составить roadmap на квартал. Уточни цели, ресурсы и ограничения, " +
					"затем разложи инициативы по месяцам с критериями успеха.",
			},
			{
				ID: "interview", Name: "Интервью с клиентами", Emoji: "🎙",
				Description: "Подготовлю сценарий интервью",
				Category:    "creative",
				Prompt: "Задача: подготовить сценарий customer development интервью. " +
					"Уточни гипотезу и сегмент, затем дай 10-12 открытых вопросов.",
			},
		},
	},
}
