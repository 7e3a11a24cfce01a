package bot

import (
	"fmt"

	"github.com/stupiduntilnot/freepsy/internal/catalog"
	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
	"github.com/stupiduntilnot/freepsy/internal/replies"
	"github.com/stupiduntilnot/freepsy/internal/roles"
)

const (
	checkMark     = "✓ "
	maxLabelRunes = 60
)

func resetKeyboard(texts replies.Set) cmdpkg.Keyboard {
	return cmdpkg.Keyboard{{
		{Text: texts.ButtonResetYes, Data: "reset:confirm"},
		{Text: texts.ButtonCancel, Data: "reset:cancel"},
	}}
}

// modelKeyboard lists up to max models, one per row, and reports whether the
// list was cut.
func modelKeyboard(texts replies.Set, models []catalog.Descriptor, current string, max int) (cmdpkg.Keyboard, bool) {
	shown := models
	if len(shown) > max {
		shown = shown[:max]
	}
	kb := make(cmdpkg.Keyboard, 0, len(shown)+1)
	for i, m := range shown {
		label := m.Name
		if m.ID == current {
			label = checkMark + label
		}
		kb = append(kb, []cmdpkg.Button{{Text: ellipsize(label, maxLabelRunes), Data: fmt.Sprintf("model:%d", i)}})
	}
	kb = append(kb, []cmdpkg.Button{{Text: texts.ButtonCancel, Data: "model:cancel"}})
	return kb, len(models) > max
}

// roleKeyboard lays roles out two per row.
func roleKeyboard(texts replies.Set, all []roles.Role, currentRole string) cmdpkg.Keyboard {
	var kb cmdpkg.Keyboard
	var row []cmdpkg.Button
	for _, r := range all {
		label := r.Emoji + " " + r.Name
		if r.ID == currentRole {
			label = checkMark + label
		}
		row = append(row, cmdpkg.Button{Text: label, Data: "role:" + r.ID})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	if currentRole != "" {
		kb = append(kb, []cmdpkg.Button{{Text: texts.ButtonResetRole, Data: "role:reset"}})
	}
	return kb
}

func taskKeyboard(texts replies.Set, role roles.Role) cmdpkg.Keyboard {
	kb := make(cmdpkg.Keyboard, 0, len(role.Tasks)+2)
	for _, t := range role.Tasks {
		kb = append(kb, []cmdpkg.Button{{
			Text: t.Emoji + " " + t.Name,
			Data: fmt.Sprintf("task:%s:%s", role.ID, t.ID),
		}})
	}
	return append(kb,
		[]cmdpkg.Button{{Text: texts.ButtonFreeChat, Data: "role:chat"}},
		[]cmdpkg.Button{{Text: texts.ButtonBack, Data: "role:back"}},
	)
}

func ellipsize(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes-3]) + "..."
}
