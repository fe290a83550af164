package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// configKey describes one dot-notation setting in config.toml.
type configKey struct {
	name   string
	usage  string
	secret bool
	get    func(*Config) string
	set    func(*Config, string) error
}

var configKeys = []configKey{
	{
		name:  "default.base_url",
		usage: "service URL, e.g. http://localhost:9000",
		get:   func(c *Config) string { return c.Default.BaseURL },
		set: func(c *Config, v string) error {
			c.Default.BaseURL = strings.TrimRight(v, "/")
			return nil
		},
	},
	{
		name:  "default.per_page",
		usage: "history page size (positive integer)",
		get: func(c *Config) string {
			if c.Default.PerPage == 0 {
				return ""
			}
			return strconv.Itoa(c.Default.PerPage)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("per_page must be a positive integer")
			}
			c.Default.PerPage = n
			return nil
		},
	},
	{
		name:   "auth.token",
		usage:  "bearer token (normally written by login)",
		secret: true,
		get:    func(c *Config) string { return c.Auth.Token },
		set:    func(c *Config, v string) error { c.Auth.Token = v; return nil },
	},
	{
		name:  "auth.user_id",
		usage: "id of the logged-in user",
		get:   func(c *Config) string { return c.Auth.UserID },
		set:   func(c *Config, v string) error { c.Auth.UserID = v; return nil },
	},
	{
		name:  "auth.username",
		usage: "name of the logged-in user",
		get:   func(c *Config) string { return c.Auth.Username },
		set:   func(c *Config, v string) error { c.Auth.Username = v; return nil },
	},
	{
		name:  "log.level",
		usage: "debug, info, warn, error or disabled",
		get:   func(c *Config) string { return c.Log.Level },
		set:   func(c *Config, v string) error { c.Log.Level = v; return nil },
	},
	{
		name:  "log.pretty",
		usage: "true for console output, false for JSON",
		get:   func(c *Config) string { return strconv.FormatBool(c.Log.Pretty) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("pretty must be true or false")
			}
			c.Log.Pretty = b
			return nil
		},
	},
}

func lookupConfigKey(name string) (configKey, error) {
	if !strings.Contains(name, ".") {
		return configKey{}, fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	for _, k := range configKeys {
		if k.name == name {
			return k, nil
		}
	}
	names := make([]string, len(configKeys))
	for i, k := range configKeys {
		names[i] = k.name
	}
	return configKey{}, fmt.Errorf("unknown config key %q (valid: %s)", name, strings.Join(names, ", "))
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	k, err := lookupConfigKey(key)
	if err != nil {
		return err
	}
	return k.set(cfg, value)
}

// configKeyHelp renders the settable keys for command help.
func configKeyHelp() string {
	var b strings.Builder
	b.WriteString("Keys:\n")
	for _, k := range configKeys {
		fmt.Fprintf(&b, "  %-18s %s\n", k.name, k.usage)
	}
	return b.String()
}

// displayValue returns the printable value of k, masking secrets.
func displayValue(cfg *Config, k configKey) string {
	v := k.get(cfg)
	if k.secret && v != "" {
		return maskToken(v)
	}
	return v
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatroom configuration",
	Long:  "View or modify the CLI configuration stored in ~/.chatroom/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every configuration key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Printf("# %s\n", path)
		for _, k := range configKeys {
			fmt.Printf("%-18s = %s\n", k.name, valueOrDefault(displayValue(cfg, k), "(unset)"))
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := lookupConfigKey(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Println(displayValue(cfg, k))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: chatroom config set default.base_url http://localhost:9000\n\n" + configKeyHelp(),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := lookupConfigKey(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := k.set(cfg, args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Set %s = %s\n", k.name, displayValue(cfg, k))
		return nil
	},
}
