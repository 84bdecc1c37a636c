package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"refebot/internal/app"
	"refebot/internal/config"
	"refebot/internal/ledger"
	logx "refebot/pkg/logx"
)

func offlineConfig(cmd *cobra.Command) (*config.Config, logx.Logger, error) {
	m := config.NewConfigManager(configPath(cmd))
	m.SetOffline(true)
	cfg, err := m.Parse()
	if err != nil {
		return nil, logx.Logger{}, err
	}
	return cfg, logx.NewConsole("WARN"), nil
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Print a month's leaderboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := offlineConfig(cmd)
		if err != nil {
			return err
		}
		led, err := app.OpenLedger(cfg, log)
		if err != nil {
			return err
		}
		month, _ := cmd.Flags().GetString("month")
		if month == "" {
			month = led.MonthKey(time.Now())
		} else if month, err = ledger.ParseMonth(month); err != nil {
			return err
		}
		var rows []ledger.Standing
		switch n, _ := cmd.Flags().GetInt("limit"); {
		case n < 0:
			rows, err = led.Standings(cmd.Context(), month)
		case n == 0:
			rows, err = led.TopN(cmd.Context(), month, cfg.Ledger.TopSize)
		default:
			rows, err = led.TopN(cmd.Context(), month, n)
		}
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Printf("No entries for %s.\n", month)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tUSER ID\tNAME\tCOUNT")
		for i, r := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i+1, r.UserID, r.Name, r.Count)
		}
		return w.Flush()
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect the shared account inventory",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List inventory entries without revealing credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := offlineConfig(cmd)
		if err != nil {
			return err
		}
		inv, err := app.OpenInventory(cfg, log)
		if err != nil {
			return err
		}
		items, err := inv.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No accounts found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tREMAINING\tMAX USES")
		for _, it := range items {
			fmt.Fprintf(w, "%s\t%d\t%d\n", it.Name, it.Remaining, it.MaxUses)
		}
		return w.Flush()
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print recent audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := offlineConfig(cmd)
		if err != nil {
			return err
		}
		st, err := app.OpenAudit(cfg, log)
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("audit storage is disabled (set storage.driver)")
		}
		defer st.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := st.RecentAudit(cmd.Context(), limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTOR\tACTION\tTARGET\tDETAIL\tERROR")
		for _, e := range entries {
			actor := e.ActorName
			if actor == "" {
				actor = fmt.Sprint(e.ActorID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.At.Local().Format(time.DateTime), actor, e.Action, e.Target, e.Detail, e.Error)
		}
		return w.Flush()
	},
}

func init() {
	topCmd.Flags().String("month", "", "month as YYYY-MM (default: current month)")
	topCmd.Flags().Int("limit", 0, "rows to show (default: ledger.top_size, -1 for all)")
	accountsCmd.AddCommand(accountsListCmd)
	auditCmd.Flags().Int("limit", 20, "entries to show")
}
