package refe

import (
	"context"
	"errors"

	"refebot/internal/eventbus"
	"refebot/internal/notifier"
	"refebot/internal/storage"
	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

// ReportSent is the event payload after a monthly report is posted.
type ReportSent struct {
	Month   string
	Entries int
}

// postMonthlyReport posts last month's leaderboard to the destination.
// Empty months are skipped.
func (p *Plugin) postMonthlyReport(ctx context.Context) error {
	s := p.settings()
	if s.dest.IsZero() {
		p.Log.Debug("monthly report skipped: no destination")
		return nil
	}
	month := p.Deps.Ledger.PreviousMonth(p.now())
	rows, err := p.Deps.Ledger.TopN(ctx, month, s.topSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		p.Log.Info("monthly report skipped: empty month", logx.String("month", month))
		return nil
	}

	text := leaderboard("TOP — "+month+" (cierre de mes)", rows)
	opts := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	err = p.deliver(ctx, s.dest, text, opts)

	audit := storage.AuditEntry{Action: storage.ActionReportSent, Target: destLabel(s.dest), Detail: month}
	if err != nil {
		audit.Error = err.Error()
		p.Audit(ctx, audit)
		return err
	}
	p.Audit(ctx, audit)
	p.PublishEvent(eventbus.TypeReportSent, ReportSent{Month: month, Entries: len(rows)})
	p.Log.Info("monthly report sent", logx.String("month", month), logx.Int("entries", len(rows)))
	return nil
}

// deliver queues through the notifier when it is enabled and sends directly
// otherwise.
func (p *Plugin) deliver(ctx context.Context, to kit.ChatTarget, text string, opts *kit.SendOptions) error {
	if p.Deps.Notifier != nil {
		err := p.Notify(ctx, kit.Notification{Channel: "telegram", Priority: 5, Target: to, Text: text, Options: opts})
		if !errors.Is(err, notifier.ErrDisabled) {
			return err
		}
	}
	_, err := p.Deps.Adapter.SendText(ctx, to, text, opts)
	return err
}
