package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/daviddao/mailtriage/internal/config"
	"github.com/daviddao/mailtriage/internal/kv"
	"github.com/daviddao/mailtriage/internal/logging"
	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	cfgPath    string
	logLevel   string
	jsonOutput bool
	quietFlag  bool

	cfg    *config.Config
	logger *log.Logger
	store  kv.Store
)

var rootCmd = &cobra.Command{
	Use:   "mt",
	Short: "mt - AI triage for your Gmail inbox",
	Long: `Mailtriage: classify new Gmail threads with Gemini, label and star what
matters, notify a webhook on urgent mail and leave reply drafts in your voice.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "help", "version", "gmail", "webhook":
			return nil
		}

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, err = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}

		if !needsStore(cmd) {
			return nil
		}
		store, err = kv.Open(cmd.Context(), cfg.Store.Driver, storeDSN(), kv.Options{MaxValueBytes: cfg.Store.MaxValueBytes})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

// needsStore reports whether cmd reads or writes persisted state.
func needsStore(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "run", "refresh-context", "watch", "status", "context":
		return true
	}
	return false
}

func storeDSN() string {
	if cfg.Store.Driver == "postgres" {
		return cfg.Store.URL
	}
	return cfg.Store.Path
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mt version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default: ~/.config/mailtriage/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
