package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"quizbot/internal/config"
	"quizbot/internal/schedule"
)

func newNextCmd(configPath *string) *cobra.Command {
	var (
		expr  string
		tz    string
		count int
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print upcoming fire times of the default schedule or of --cron",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				rule schedule.Rule
				err  error
			)
			if expr != "" {
				var loc *time.Location
				if loc, err = schedule.LoadLocation(tz); err != nil {
					return err
				}
				rule, err = schedule.ParseIn(expr, loc)
			} else {
				var cfg *config.Config
				if cfg, err = config.NewConfigManager(*configPath).Parse(); err != nil {
					return fmt.Errorf("load config %s: %w", *configPath, err)
				}
				rule, err = cfg.Quiz.Schedule.Rule()
			}
			if err != nil {
				return err
			}
			return printNext(cmd.OutOrStdout(), rule, time.Now(), count)
		},
	}
	cmd.Flags().StringVar(&expr, "cron", "", "cron expression to evaluate instead of the configured schedule")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone for --cron (default UTC)")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of fire times to print")
	return cmd
}

func printNext(out io.Writer, rule schedule.Rule, from time.Time, count int) error {
	fmt.Fprintf(out, "%s (%s)\n", rule.String(), rule.Timezone())
	t := from
	for i := 0; i < count; i++ {
		next, err := rule.NextFireAfter(t)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, next.Format("2006-01-02 15:04:05 MST Mon"))
		t = next
	}
	return nil
}
