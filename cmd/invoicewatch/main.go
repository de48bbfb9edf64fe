package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"invoicewatch/internal/app"
	"invoicewatch/internal/config"
	"invoicewatch/internal/logger"
)

var (
	application *app.App
	log         *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "invoicewatch",
	Short: "Check invoices received by mail with Gemini",
	Long: `invoicewatch scans a mailbox for PDF attachments, asks Gemini whether each one
is a valid invoice and records the verdicts in a ledger workbook.

Examples:
  invoicewatch config init     # create the configuration sheet
  invoicewatch run             # install the scheduled trigger and run once
  invoicewatch stop            # remove the scheduled trigger
  invoicewatch listen          # host the scheduled trigger`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err = logger.New(cfg.LogLevel)
		if err != nil {
			return errors.Wrap(err, "init logger")
		}
		application, err = app.Open(cfg, log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			_ = application.Close()
		}
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd, stopCmd, configCmd, listenCmd, checkCmd, exportCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
