package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"quizbot/internal/app"
	"quizbot/internal/config"
	logx "quizbot/pkg/logx"
)

func newCheckCmd(configPath *string) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and the question source without connecting to Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), *configPath, !offline)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "do not require a bot token")
	return cmd
}

func runCheck(ctx context.Context, out io.Writer, configPath string, requireToken bool) error {
	cfg, err := config.NewConfigManager(configPath).Parse()
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := cfg.Validate(requireToken); err != nil {
		return err
	}

	log := logx.NewConsole("warn")
	store, err := app.OpenStore(cfg, log)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	res, err := app.LoadQuestions(ctx, cfg, store, log)
	if err != nil {
		return err
	}

	rule, err := cfg.Quiz.Schedule.Rule()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config:    %s ok\n", configPath)
	fmt.Fprintf(out, "questions: %d valid, %d skipped (source %s)\n", len(res.Questions), len(res.Skipped), cfg.QuizSource())
	fmt.Fprintf(out, "schedule:  %s (%s)\n", rule.String(), rule.Timezone())
	if t, err := rule.NextFireAfter(time.Now()); err == nil {
		fmt.Fprintf(out, "next fire: %s\n", t.Format(time.RFC3339))
	}
	return nil
}
