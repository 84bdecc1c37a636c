package accounts

import (
	"fmt"
	"strings"

	"refebot/internal/inventory"
	"refebot/pkg/tgui"
)

func listing(items []inventory.Listing) string {
	var b strings.Builder
	b.WriteString("📦 Cuentas disponibles\n")
	for _, it := range items {
		fmt.Fprintf(&b, "\n• %s (%d/%d)", tgui.B(it.Name), it.Remaining, it.MaxUses)
	}
	return b.String()
}

func redemption(r inventory.Redemption) tgui.H {
	h := tgui.Lines(
		tgui.Raw("🔑 ")+tgui.B(r.Name),
		tgui.Raw("📧 ")+tgui.Code(r.Email),
		tgui.Raw("🔒 ")+tgui.Code(r.Password),
		tgui.Raw(fmt.Sprintf("♻️ Usos restantes: %d/%d", r.Remaining, r.MaxUses)),
	)
	if r.Note != "" {
		h = tgui.Lines(h, tgui.Raw("📝 ")+tgui.Esc(r.Note))
	}
	if r.Exhausted {
		h = tgui.Lines(h, tgui.Raw("⚠️ Era el último uso, la cuenta fue eliminada."))
	}
	return h
}
