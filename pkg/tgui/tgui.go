package tgui

import (
	"strings"

	kit "refebot/internal/transport"
)

// Keyboard builds inline URL keyboards as transport buttons.
type Keyboard struct {
	rows [][]kit.Button
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

// Row appends a row. Buttons with an empty URL are skipped, and a row left
// empty is not added.
func (k *Keyboard) Row(btns ...kit.Button) *Keyboard {
	row := make([]kit.Button, 0, len(btns))
	for _, b := range btns {
		if strings.TrimSpace(b.URL) == "" {
			continue
		}
		row = append(row, b)
	}
	if len(row) > 0 {
		k.rows = append(k.rows, row)
	}
	return k
}

// Rows returns the keyboard, or nil when it has no buttons.
func (k *Keyboard) Rows() [][]kit.Button {
	if len(k.rows) == 0 {
		return nil
	}
	return k.rows
}

// URLBtn creates a URL button.
func URLBtn(text, url string) kit.Button {
	return kit.Button{Text: text, URL: strings.TrimSpace(url)}
}
