package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/policy"
	"github.com/cortexhub/cortexhub/internal/server"
)

var (
	serveAddr   string
	serveDB     string
	servePolicy string
	serveTTL    time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default CORTEXHUB_LISTEN_ADDR)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Path to the SQLite database (default CORTEXHUB_DB_PATH, then ~/.cortexhub/authority.db)")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy YAML (default CORTEXHUB_POLICY_PATH)")
	serveCmd.Flags().DurationVar(&serveTTL, "approval-ttl", 0, "How long requests may stay pending before the sweeper expires them")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decision authority server",
	Long:  "Runs the HTTP decision authority: receives escalated approval requests,\nserves operator decisions, ingests telemetry, and answers policy checks.\nSupports hot-reload of the policy file.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	if serveAddr == "" {
		serveAddr = settings.ListenAddr
	}
	serveAPIKey := apiKey
	if serveAPIKey == "" {
		serveAPIKey = settings.APIKey
	}
	if servePolicy == "" {
		servePolicy = settings.PolicyPath
	}
	if servePolicy == "" {
		servePolicy = policy.DefaultPath()
	}
	if serveDB == "" {
		serveDB = settings.DBPath
	}
	if serveDB == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir := filepath.Join(home, ".cortexhub")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create data directory: %w", err)
		}
		serveDB = filepath.Join(dir, "authority.db")
	}

	srv, err := server.New(server.Config{
		Addr:        serveAddr,
		APIKey:      serveAPIKey,
		DBPath:      serveDB,
		PolicyPath:  servePolicy,
		ApprovalTTL: serveTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
