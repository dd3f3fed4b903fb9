package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/legatehq/legate/internal/config"
	"github.com/legatehq/legate/internal/daemon"
	"github.com/legatehq/legate/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Legate daemon",
	Long: `Start the Legate daemon in the foreground.
The daemon answers invoke and stream requests over its JSON-RPC gateway
until it receives SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Server.SharedSecret == "" {
		return fmt.Errorf("no shared secret configured; run 'legate configure' first")
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("Legate daemon listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)

	// Block until SIGINT or SIGTERM
	d.Wait()
	return nil
}

// getPIDFilePath resolves the PID file the daemon writes. The location
// follows the configured data directory so stop and status agree with
// whatever config the daemon was started with.
func getPIDFilePath() string {
	if cfg, err := config.Load(cfgFile); err == nil && cfg.DataDir != "" {
		return filepath.Join(cfg.DataDir, "legate.pid")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "legate.pid")
	}
	return filepath.Join(home, ".legate", "legate.pid")
}

func isRunning(pidFile string) bool {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessAlive(pid)
}

func readPIDFile(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", pidFile, err)
	}
	return pid, nil
}
