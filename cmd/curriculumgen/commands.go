package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yungbote/curriculumgen/internal/app"
	"github.com/yungbote/curriculumgen/internal/curriculum"
	"github.com/yungbote/curriculumgen/internal/pkg/dbctx"
)

func generateCmd() *cobra.Command {
	var weeks, days string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate artifacts for a range of weeks",
		Example: `  curriculumgen generate --weeks 1-3
  curriculumgen generate --weeks 5 --days 4 --on-exhausted degrade`,
		RunE: func(cmd *cobra.Command, args []string) error {
			weekList, err := curriculum.ParseWeekRange(weeks)
			if err != nil {
				return err
			}
			dayList, err := curriculum.ParseDays(days)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, runErr := a.Services.Driver.GenerateWeeks(ctx, weekList, dayList)
				for _, it := range rep.Items {
					a.Services.Metrics.ObserveTask(it.Task, string(it.Status))
				}
				if err := printBatch(rep); err != nil {
					return err
				}
				if runErr != nil {
					return runErr
				}
				if rep.Failed > 0 {
					return fmt.Errorf("%d task(s) failed; rejected responses are in %s", rep.Failed, rep.InvalidDir)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&weeks, "weeks", "", `weeks to generate, e.g. "1-3,5"`)
	cmd.Flags().StringVar(&days, "days", "", `days to generate, e.g. "1,4" (default all)`)
	_ = cmd.MarkFlagRequired("weeks")
	return cmd
}

func printBatch(rep curriculum.BatchReport) error {
	if viper.GetBool("json") {
		return printJSON(rep)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Week", "Day", "Task", "Status", "Attempts", "Error"})
	for _, it := range rep.Items {
		tw.AppendRow(table.Row{it.Week, it.Day, it.Task, it.Status, it.Attempts, truncate(it.Error, 80)})
	}
	tw.AppendFooter(table.Row{"", "", "Total", fmt.Sprintf("%d ok / %d placeholder / %d failed / %d skipped", rep.Succeeded, rep.Degraded, rep.Failed, rep.Skipped)})
	tw.Render()
	if rep.Degraded > 0 || rep.Failed > 0 {
		fmt.Printf("Rejected responses: %s\n", rep.InvalidDir)
	}
	return nil
}

func validateCmd() *cobra.Command {
	var weeks string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Re-check stored artifacts against their contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			weekList, err := curriculum.ParseWeekRange(weeks)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var reports []curriculum.ValidationReport
				invalid := 0
				for _, w := range weekList {
					rep, err := a.Services.Driver.ValidateWeek(ctx, w)
					if err != nil {
						return err
					}
					if !rep.Valid() {
						invalid++
					}
					reports = append(reports, rep)
				}
				if viper.GetBool("json") {
					if err := printJSON(reports); err != nil {
						return err
					}
				} else {
					printValidation(reports)
				}
				if invalid > 0 {
					return fmt.Errorf("%d week(s) have errors", invalid)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&weeks, "weeks", "", `weeks to validate, e.g. "1-35"`)
	_ = cmd.MarkFlagRequired("weeks")
	return cmd
}

func printValidation(reports []curriculum.ValidationReport) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Week", "Severity", "Location", "Message"})
	for _, rep := range reports {
		for _, group := range [][]curriculum.Finding{rep.Errors, rep.Warnings, rep.Info} {
			for _, f := range group {
				tw.AppendRow(table.Row{rep.Week, strings.ToUpper(string(f.Severity)), f.Location, truncate(f.Message, 100)})
			}
		}
		tw.AppendSeparator()
	}
	tw.Render()
	for _, rep := range reports {
		fmt.Printf("Week %d: %s\n", rep.Week, rep.Summary())
	}
}

func exportCmd() *cobra.Command {
	var weeks, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Package weeks as LatinA_WeekNN.zip archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			weekList, err := curriculum.ParseWeekRange(weeks)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				dir := out
				if dir == "" {
					dir = a.Cfg.ExportDir
				}
				for _, w := range weekList {
					path, err := a.Services.Driver.ExportWeek(ctx, w, dir)
					if err != nil {
						return err
					}
					fmt.Println(path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&weeks, "weeks", "", `weeks to export, e.g. "1-4"`)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (default export_dir)")
	_ = cmd.MarkFlagRequired("weeks")
	return cmd
}

func attemptsCmd() *cobra.Command {
	var key string
	var limit int
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show recorded generation attempts",
		Long: `Shows attempts from the generation_run table when the database audit is enabled,
otherwise prints the per-artifact retry log for --key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Services.Runs == nil {
					if key == "" {
						return errors.New("--key is required without the database audit")
					}
					raw, err := os.ReadFile(a.Services.FileLog.Path(key))
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(raw)
					return err
				}
				dbc := dbctx.Context{Ctx: ctx}
				rows, err := a.Services.Runs.ListRecent(dbc, limit)
				if key != "" {
					rows, err = a.Services.Runs.ListByArtifactKey(dbc, key, limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Key", "Attempt", "Status", "Latency", "Detail"})
				for _, r := range rows {
					tw.AppendRow(table.Row{
						r.CreatedAt.Format("2006-01-02 15:04:05"),
						r.ArtifactKey,
						strconv.Itoa(r.Attempt) + "/" + strconv.Itoa(r.MaxAttempts),
						r.Status,
						fmt.Sprintf("%dms", r.LatencyMS),
						truncate(r.Detail, 60),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "artifact key, e.g. week01/day1/02_summary.md")
	cmd.Flags().IntVar(&limit, "limit", 50, "rows to show")
	return cmd
}

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the generation tasks in run order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Version", "Artifact", "Format", "Days"})
				for _, name := range a.Services.Tasks.Names() {
					t, err := a.Services.Tasks.Get(name)
					if err != nil {
						return err
					}
					days := "all"
					if len(t.Days) > 0 {
						parts := make([]string, 0, len(t.Days))
						for _, d := range t.Days {
							parts = append(parts, strconv.Itoa(d))
						}
						days = strings.Join(parts, ",")
					}
					tw.AppendRow(table.Row{t.Name, t.Version, t.Key(1, 1), t.Format, days})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
