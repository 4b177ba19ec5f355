package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative session operations",
}

var forceLogoutCmd = &cobra.Command{
	Use:   "force-logout <user-id>",
	Short: "End every session of a user and notify their devices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := storedTokens()
		if err != nil {
			return err
		}
		message, _ := cmd.Flags().GetString("message")

		n, err := apiClient().ForceLogout(cmd.Context(), tokens.AccessToken, args[0], message)
		if err != nil {
			return fmt.Errorf("force logout failed: %w", err)
		}
		fmt.Printf("Revoked %d session(s) of %s.\n", n, args[0])
		return nil
	},
}

func init() {
	forceLogoutCmd.Flags().StringP("message", "m", "", "notice shown on the user's devices")
	adminCmd.AddCommand(forceLogoutCmd)
	rootCmd.AddCommand(adminCmd)
}
