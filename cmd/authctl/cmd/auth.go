package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dormledger/auth-service/internal/client"
)

var loginCmd = &cobra.Command{
	Use:   "login <username|email>",
	Short: "Log in and store the issued tokens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		tokens, err := apiClient().Login(cmd.Context(), args[0], password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := tokenStore().Set(tokens); err != nil {
			return fmt.Errorf("store tokens: %w", err)
		}
		fmt.Printf("Logged in as %s.\n", tokens.UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the stored session and forget its tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := tokenStore()
		tokens, ok := store.Get()
		if !ok {
			fmt.Println("Not logged in.")
			return nil
		}
		if err := apiClient().Logout(cmd.Context(), tokens); err != nil {
			fmt.Fprintf(os.Stderr, "server logout failed: %v\n", err)
		}
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rotate the stored token pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := storedTokens()
		if err != nil {
			return err
		}
		rotated, err := apiClient().Refresh(cmd.Context(), tokens)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
				_ = tokenStore().Clear()
			}
			return fmt.Errorf("refresh failed: %w", err)
		}
		if err := tokenStore().Set(rotated); err != nil {
			return err
		}
		fmt.Println("Tokens refreshed.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the profile behind the stored access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := storedTokens()
		if err != nil {
			return err
		}
		profile, err := apiClient().Profile(cmd.Context(), tokens.AccessToken)
		if err != nil {
			return err
		}
		for _, key := range []string{"id", "username", "email", "displayName", "roles"} {
			if v, ok := profile[key]; ok {
				fmt.Printf("%-12s %v\n", key+":", v)
			}
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringP("password", "p", "", "password (prompted when omitted)")
	rootCmd.AddCommand(loginCmd, logoutCmd, refreshCmd, whoamiCmd)
}
