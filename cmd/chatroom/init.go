package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	chatroom "github.com/chatroom-io/chatroom/sdk/golang"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [base-url]",
	Short: "Store the server address in ~/.chatroom/config.toml",
	Long:  "Initialize the CLI by storing the chatroom server address. Defaults to " + chatroom.DefaultBaseURL + ".",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL := chatroom.DefaultBaseURL
		if len(args) == 1 {
			baseURL = strings.TrimRight(args[0], "/")
		}
		u, err := url.Parse(baseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("base url must be http(s)://host[:port], got %q", baseURL)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Default.BaseURL = baseURL
		if cfg.Default.PerPage == 0 {
			cfg.Default.PerPage = chatroom.DefaultPerPage
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Server %s saved to %s\n", baseURL, path)
		return nil
	},
}
