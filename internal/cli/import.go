package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"quizbot/internal/app"
	"quizbot/internal/config"
	"quizbot/internal/storage"
	logx "quizbot/pkg/logx"
)

func newImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <questions.csv|.yaml|.json>",
		Short: "Import a question file into the SQLite questions table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), *configPath, args[0])
		},
	}
}

func runImport(ctx context.Context, out io.Writer, configPath, file string) error {
	cfg, err := config.NewConfigManager(configPath).Parse()
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	log := logx.NewConsole("warn")
	store, err := app.OpenStore(cfg, log)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("storage is disabled; set storage.driver to sqlite")
	}
	defer store.Close()

	qs, ok := store.(storage.QuestionStore)
	if !ok {
		return fmt.Errorf("storage driver %s cannot hold questions; use sqlite", cfg.StorageDriver())
	}
	n, err := app.ImportQuestions(ctx, file, qs, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d questions from %s\n", n, file)
	return nil
}
