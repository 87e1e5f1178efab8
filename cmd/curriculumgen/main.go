package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs"

	"github.com/yungbote/curriculumgen/internal/app"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "curriculumgen",
	Short: "Generate, validate and export the Latin A curriculum",
	Long: `curriculumgen drives an LLM through a retry-and-repair loop to write every lesson
artifact of the Latin A course (35 weeks, 4 days each).

Each artifact is normalized, checked against its task contract and only then stored.
Failed attempts are retried with a fixed backoff; every attempt is logged and rejected
responses are kept under the invalid directory for inspection.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CURGEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file")
	pf.String("provider", "", "LLM provider: openai, anthropic or scripted")
	pf.String("store", "", "artifact store: fs, db, gcs or memory")
	pf.String("store-dir", "", "root directory of the fs store")
	pf.String("on-exhausted", "", "when retries run out: abort, degrade or confirm")
	pf.Int("max-attempts", 0, "attempts per artifact")
	pf.Duration("backoff", 0, "pause between attempts")
	pf.Int("workers", 0, "weeks generated concurrently")
	pf.String("log-mode", "", "development, production or test")
	pf.Bool("json", false, "output JSON")
	for _, name := range []string{"config", "provider", "store", "store-dir", "on-exhausted", "max-attempts", "backoff", "workers", "log-mode", "json"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(generateCmd(), validateCmd(), exportCmd(), attemptsCmd(), tasksCmd())
}

// loadConfig layers flag and CURGEN_* overrides on top of app.LoadConfig.
func loadConfig() (app.Config, error) {
	cfg, err := app.LoadConfig(viper.GetString("config"), nil)
	if err != nil {
		return cfg, err
	}
	if v := viper.GetString("provider"); v != "" {
		cfg.Provider.Name = v
	}
	if v := viper.GetString("store"); v != "" {
		cfg.Store.Backend = v
	}
	if v := viper.GetString("store-dir"); v != "" {
		cfg.Store.Dir = v
	}
	if v := viper.GetString("on-exhausted"); v != "" {
		cfg.Retry.OnExhausted = v
	}
	if v := viper.GetInt("max-attempts"); v > 0 {
		cfg.Retry.MaxAttempts = v
	}
	if v := viper.GetDuration("backoff"); v > 0 {
		cfg.Retry.Backoff = v
	}
	if v := viper.GetInt("workers"); v > 0 {
		cfg.Workers = v
	}
	if v := viper.GetString("log-mode"); v != "" {
		cfg.LogMode = v
	}
	if cfg.Retry.OnExhausted == "" {
		cfg.Retry.OnExhausted = defaultOnExhausted(stdinIsTerminal())
	}
	return cfg, cfg.Validate()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, app.Options{
		Logger:    log,
		Confirmer: newConsoleConfirmer(os.Stdin, os.Stderr),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(ctx)
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
