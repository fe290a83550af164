package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	chatroom "github.com/chatroom-io/chatroom/sdk/golang"
)

var (
	loginPassword    string
	registerEmail    string
	registerPassword string
)

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password (defaults to $CHATROOM_PASSWORD)")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Email address")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "", "Account password (defaults to $CHATROOM_PASSWORD)")
	registerCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
}

func password(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv("CHATROOM_PASSWORD"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("password required: pass --password or set CHATROOM_PASSWORD")
}

// storeSession writes the login result into the config.
func storeSession(cfg *Config, res *chatroom.AuthResult) error {
	cfg.Auth.Token = res.Token
	cfg.Auth.UserID = res.User.ID.String()
	cfg.Auth.Username = res.User.Username
	cfg.Auth.TokenExpires = ""
	if exp, err := chatroom.TokenExpiry(res.Token); err == nil && !exp.IsZero() {
		cfg.Auth.TokenExpires = exp.UTC().Format(time.RFC3339)
	}
	return saveConfig(cfg)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := password(loginPassword)
		if err != nil {
			return err
		}
		client, cfg := getAnonClient()

		ctx, cancel := requestContext()
		defer cancel()

		res, err := client.Auth.Login(ctx, args[0], pw)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := storeSession(cfg, res); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Login successful!")
		fmt.Printf("  User ID:  %s\n", res.User.ID)
		fmt.Printf("  Username: %s\n", res.User.Username)
		if cfg.Auth.TokenExpires != "" {
			fmt.Printf("  Token expires: %s\n", cfg.Auth.TokenExpires)
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := password(registerPassword)
		if err != nil {
			return err
		}
		client, cfg := getAnonClient()

		ctx, cancel := requestContext()
		defer cancel()

		res, err := client.Auth.Register(ctx, args[0], registerEmail, pw)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		if err := storeSession(cfg, res); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Registration successful!")
		fmt.Printf("  User ID:  %s\n", res.User.ID)
		fmt.Printf("  Username: %s\n", res.User.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}
