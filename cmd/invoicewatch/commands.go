package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"invoicewatch/internal/pipeline"
	"invoicewatch/internal/util"
)

var runOnly bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Install the scheduled trigger and run the pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings, err := application.SheetSettings()
		if err != nil {
			return err
		}
		if !runOnly {
			if err := application.Registry().Replace(ctx, settings.MainFunctionName, settings.CycleMinutes); err != nil {
				return err
			}
			fmt.Printf("trigger %s installed every %d minutes\n", settings.MainFunctionName, settings.CycleMinutes)
		}

		sched := application.Scheduler(settings.MainFunctionName, func(result pipeline.RunResult) {
			fmt.Println(result.Summary())
		})
		return sched.FireNow(ctx, settings.MainFunctionName)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Remove the scheduled trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := application.SheetSettings()
		if err != nil {
			return err
		}
		n, err := application.Registry().Delete(cmd.Context(), settings.MainFunctionName)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d trigger(s) for %s\n", n, settings.MainFunctionName)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration sheet",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the configuration sheet and ledger header",
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := application.Init()
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("configuration sheet created in %s\n", application.Cfg.WorkbookPath)
		} else {
			fmt.Printf("configuration sheet already present in %s\n", application.Cfg.WorkbookPath)
		}
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Poll the scheduled triggers and run the pipeline when due",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := application.SheetSettings()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return application.Scheduler(settings.MainFunctionName, nil).Run(ctx)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <file.pdf>",
	Short: "Classify one PDF file without touching the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings, err := application.ResolvedSettings(ctx)
		if err != nil {
			return err
		}
		outcome, err := pipeline.CheckFile(ctx, application.Classifier(), args[0], settings)
		if err != nil {
			return err
		}
		fmt.Printf("category: %s\n", outcome.Category())
		if outcome.Defects != nil {
			fmt.Printf("modification points: %s\n", *outcome.Defects)
		}
		fmt.Println(outcome.Raw)
		return nil
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the sqlite ledger to a workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(exportOut) == "" {
			return errors.New("--out is required")
		}
		rows, err := application.DB.ListLogRows(cmd.Context())
		if err != nil {
			return err
		}
		if err := pipeline.ExportLogRows(rows, exportOut); err != nil {
			return err
		}
		fmt.Printf("exported %d rows to %s\n", len(rows), exportOut)
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := application.DB.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			line := fmt.Sprintf("%s  %s  %-6s classified=%d skipped=%d",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.RunID, r.Status,
				r.Counts["classified"], r.Counts["skipped"])
			if r.Error != "" {
				line += "  error=" + util.Truncate(r.Error, 120)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnly, "once", false, "run without installing the trigger")
	configCmd.AddCommand(configInitCmd)
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output xlsx path")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
}

