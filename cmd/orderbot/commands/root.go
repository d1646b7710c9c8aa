package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"orderbot/internal/browser"
	"orderbot/internal/config"
	"orderbot/internal/locale"
	"orderbot/internal/store"
	"orderbot/internal/telemetry"
)

var (
	configPath string
	debug      bool
	headless   bool

	cfg         *config.Config
	stopTracing telemetry.Shutdown
)

var T = locale.T

var rootCmd = &cobra.Command{
	Use:           "orderbot",
	Short:         "orderbot scrapes restaurant storefront menus and places orders on them.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := locale.InitLocale(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: locale initialization failed, using default English: %v\n", err)
		}

		dataDir := getUserDataDir()
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("create data dir %s: %w", dataDir, err)
		}
		if configPath == "" {
			configPath = filepath.Join(dataDir, "config.yaml")
		}

		_, statErr := os.Stat(configPath)
		var err error
		cfg, err = config.LoadConfig(configPath, dataDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if os.IsNotExist(statErr) {
			fmt.Println(T("config_created", configPath))
		}

		if debug {
			cfg.DebugMode = true
		}
		if cmd.Flags().Changed("headless") {
			cfg.Browser.Headless = headless
		}
		telemetry.SetupLogging(cfg.DebugMode, os.Stderr)
		slog.Debug("config loaded", "path", configPath)

		stopTracing, err = telemetry.SetupTracing(cmd.Context(), cfg.TracingEndpoint)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if stopTracing == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return stopTracing(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default ~/.orderbot/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable detailed debug logging")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "Run the browser without a window")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./orderbot-data"
	}
	return filepath.Join(home, ".orderbot")
}

// launchBrowser starts Chrome and cancels the returned context if the user
// closes it.
func launchBrowser(ctx context.Context) (*browser.Browser, context.Context, context.CancelFunc, error) {
	fmt.Println(T("browser_launching"))
	b, err := browser.Launch(ctx, browser.Options{
		ProfilePath:    cfg.Browser.ProfilePath,
		ChromePath:     cfg.Browser.ChromePath,
		Headless:       cfg.Browser.Headless,
		Leakless:       cfg.Browser.Leakless,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		KeepOpen:       cfg.Browser.KeepBrowserOpen,
	})
	if err != nil {
		if errors.Is(err, browser.ErrAlreadyRunning) {
			return nil, nil, nil, fmt.Errorf("%s", T("error_chrome_already_running", cfg.Browser.ProfilePath))
		}
		return nil, nil, nil, err
	}
	fmt.Println(T("browser_profile_path_set", cfg.Browser.ProfilePath))
	fmt.Println(T("browser_launched"))

	ctx, cancel := context.WithCancel(ctx)
	gone := b.Watch(ctx, 2*time.Second)
	go func() {
		select {
		case <-gone:
			fmt.Println(T("browser_closed"))
			cancel()
		case <-ctx.Done():
		}
	}()
	return b, ctx, cancel, nil
}

func openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.HistoryDB), 0755); err != nil {
		return nil, err
	}
	return store.Open(cfg.HistoryDB)
}
