package main

import (
	"fmt"

	"github.com/spf13/cobra"

	chatroom "github.com/chatroom-io/chatroom/sdk/golang"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Presence, search and private history",
}

var usersOnlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List online users",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := requestContext()
		defer cancel()

		res, err := client.Users.Online(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if flagJSON {
			return printJSON(res)
		}
		fmt.Printf("%d online\n", res.Count)
		for _, u := range res.OnlineUsers {
			fmt.Printf("  %-6s %s\n", u.ID, u.Username)
		}
		return nil
	},
}

var usersSearchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search users by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := requestContext()
		defer cancel()

		res, err := client.Users.Search(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if flagJSON {
			return printJSON(res)
		}
		if len(res.Users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		for _, u := range res.Users {
			fmt.Printf("  %-6s %s\n", u.ID, u.Username)
		}
		return nil
	},
}

var usersMessagesCmd = &cobra.Command{
	Use:   "messages <user-id>",
	Short: "Show the private conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		ctx, cancel := requestContext()
		defer cancel()

		res, err := client.Users.PrivateMessages(ctx, chatroom.ID(args[0]), perPage(cfg))
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if flagJSON {
			return printJSON(res)
		}
		if len(res.Messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		for _, m := range res.Messages {
			printMessage(m)
		}
		return nil
	},
}

func init() {
	usersCmd.AddCommand(usersOnlineCmd)
	usersCmd.AddCommand(usersSearchCmd)
	usersCmd.AddCommand(usersMessagesCmd)
	rootCmd.AddCommand(usersCmd)
}
