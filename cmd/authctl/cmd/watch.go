package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dormledger/auth-service/internal/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the stored session alive and listen for server pushes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := storedTokens(); err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		store := tokenStore()

		monitor := client.NewHeartbeatMonitor(apiClient(), store, client.HeartbeatConfig{Interval: interval}, logger)
		monitor.OnLoggedOut = func() {
			fmt.Println("Session ended on the server. Please log in again.")
			_ = store.Clear()
			cancel()
		}
		monitor.OnMissingToken = func() {
			fmt.Println("The server did not receive an access token. Please log in again.")
			cancel()
		}

		push := client.NewRealtimeClient(client.RealtimeConfig{URL: realtimeURL}, store, logger)
		push.Prompt = func(message string) {
			fmt.Printf("\n%s\nPress Enter to continue.", message)
			_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		}
		push.Redirect = func() {
			fmt.Println("\nReturning to login. Run 'authctl login' to start a new session.")
		}
		push.OnConfig = func(keys []string) {
			fmt.Printf("Configuration changed: %v\n", keys)
		}

		monitor.Start(ctx)
		defer monitor.Stop()

		fmt.Println("Watching session. Press Ctrl+C to stop.")
		err := push.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().Duration("interval", 0, "heartbeat interval (default 30s)")
	rootCmd.AddCommand(watchCmd)
}
