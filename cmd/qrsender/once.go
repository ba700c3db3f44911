package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hukum1020/shymkent-whatsapp/internal/model"
	"github.com/Hukum1020/shymkent-whatsapp/internal/processor"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "只处理一轮并输出每行结果",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.processor.RunCycle(cmd.Context())
		printReport(cmd.OutOrStdout(), report)
		return err
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "检查报名表配置并读取报名表，统计待发送的来宾",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateSheet(); err != nil {
			return err
		}
		ctx := cmd.Context()
		rows, err := newRowStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("打开报名表失败: %w", err)
		}

		all, err := rows.FetchAllRows(ctx)
		if err != nil {
			return err
		}

		var malformed, eligible, done int
		for i := 1; i < len(all); i++ {
			g, err := model.DecodeRow(i, all[i])
			switch {
			case err != nil:
				malformed++
			case g.Eligible():
				eligible++
			case g.IsDone():
				done++
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "backend:   %s\n", cfg.Sheet.Backend)
		fmt.Fprintf(out, "rows:      %d\n", max(len(all)-1, 0))
		fmt.Fprintf(out, "eligible:  %d\n", eligible)
		fmt.Fprintf(out, "done:      %d\n", done)
		fmt.Fprintf(out, "malformed: %d\n", malformed)
		return nil
	},
}

func printReport(w io.Writer, report *processor.CycleReport) {
	if report == nil {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "cycle %s (%s)\n", report.ID, report.Duration().Round(time.Millisecond))
	fmt.Fprintln(tw, "ROW\tEMAIL\tOUTCOME\tDETAIL")
	for _, r := range report.Rows {
		detail := r.Reason
		if r.Err != nil {
			detail = r.Err.Error()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Row+1, r.Email, r.Outcome, detail)
	}
	_ = tw.Flush()
}
