package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	chatroom "github.com/chatroom-io/chatroom/sdk/golang"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the current configuration, check whether the session token has expired, and verify it against the server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Server:   %s\n", valueOrDefault(cfg.Default.BaseURL, chatroom.DefaultBaseURL+" (default)"))
		fmt.Printf("  Per page: %d\n", perPage(cfg))

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Username != "" {
			fmt.Printf("  Username: %s\n", cfg.Auth.Username)
			fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
		} else {
			fmt.Println("  Username: (not logged in)")
		}
		fmt.Printf("  Token:    %s\n", tokenStatus(cfg.Auth.Token, time.Now()))

		if cfg.Auth.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		client := chatroom.NewClient(cfg.Auth.Token, clientOptions(cfg)...)

		ctx, cancel := requestContext()
		defer cancel()

		res, err := client.Auth.Verify(ctx)
		if err != nil {
			fmt.Printf("  Error verifying session: %v\n", err)
			return nil
		}
		fmt.Printf("  Valid:    %t\n", res.Valid)
		fmt.Printf("  Username: %s\n", res.User.Username)

		online, err := client.Users.Online(ctx)
		if err != nil {
			fmt.Printf("  Error fetching presence: %v\n", err)
			return nil
		}
		fmt.Printf("  Online:   %d users\n", online.Count)
		return nil
	},
}

// tokenStatus describes token relative to now using its exp claim.
func tokenStatus(token string, now time.Time) string {
	if token == "" {
		return "none"
	}
	exp, err := chatroom.TokenExpiry(token)
	switch {
	case err != nil:
		return "present (unreadable)"
	case exp.IsZero():
		return "present (no expiry set)"
	case now.Before(exp):
		return fmt.Sprintf("valid (expires %s)", exp.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("EXPIRED (expired %s)", exp.UTC().Format(time.RFC3339))
	}
}
