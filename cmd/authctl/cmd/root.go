package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dormledger/auth-service/internal/client"
)

var (
	serverURL   string
	realtimeURL string
	tokenFile   string
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "authctl drives the dormledger auth service from a terminal",
	Long:  `A command-line client for logging in, keeping a session alive and administering sessions of the dormledger auth service.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		return err
	},
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AUTHCTL_SERVER", "http://localhost:8080"), "auth API base URL")
	rootCmd.PersistentFlags().StringVar(&realtimeURL, "realtime", envOr("AUTHCTL_REALTIME", "ws://localhost:8081/ws"), "realtime endpoint URL")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", defaultTokenFile(), "where tokens are stored between invocations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging")
}

func apiClient() *client.APIClient {
	return client.NewAPIClient(serverURL, nil)
}

func tokenStore() *client.FileTokenStore {
	return client.NewFileTokenStore(tokenFile)
}

func storedTokens() (client.Tokens, error) {
	t, ok := tokenStore().Get()
	if !ok {
		return client.Tokens{}, fmt.Errorf("not logged in; run 'authctl login' first")
	}
	return t, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".authctl-tokens.json"
	}
	return filepath.Join(home, ".authctl", "tokens.json")
}
