package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	chatroom "github.com/chatroom-io/chatroom/sdk/golang"
)

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "Friend management",
}

func printFriendships(list []chatroom.Friendship, empty string) {
	if len(list) == 0 {
		fmt.Println(empty)
		return
	}
	for _, f := range list {
		u := f.Friend
		if u == nil {
			u = f.User
		}
		if u == nil {
			continue
		}
		fmt.Printf("  %-6s %-20s %s\n", u.ID, u.Username, f.Status)
	}
}

var friendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List friends",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := requestContext()
		defer cancel()

		res, err := client.Friends.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if flagJSON {
			return printJSON(res)
		}
		printFriendships(res.Friends, "No friends yet.")
		return nil
	},
}

var friendsRequestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List pending friend requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := requestContext()
		defer cancel()

		res, err := client.Friends.Requests(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if flagJSON {
			return printJSON(res)
		}
		printFriendships(res.Requests, "No pending requests.")
		return nil
	},
}

// friendAction builds a command that applies fn to a user id and prints
// the server acknowledgement.
func friendAction(use, short string, fn func(*chatroom.FriendsClient, context.Context, chatroom.ID) (*chatroom.StatusResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _ := getClient()
			ctx, cancel := requestContext()
			defer cancel()

			res, err := fn(client.Friends, ctx, chatroom.ID(args[0]))
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			if flagJSON {
				return printJSON(res)
			}
			fmt.Println(valueOrDefault(res.Message, "OK"))
			return nil
		},
	}
}

func init() {
	friendsCmd.AddCommand(friendsListCmd)
	friendsCmd.AddCommand(friendsRequestsCmd)
	friendsCmd.AddCommand(friendAction("add", "Send a friend request", (*chatroom.FriendsClient).Add))
	friendsCmd.AddCommand(friendAction("accept", "Accept a friend request", (*chatroom.FriendsClient).Accept))
	friendsCmd.AddCommand(friendAction("remove", "Remove a friend", (*chatroom.FriendsClient).Remove))
	rootCmd.AddCommand(friendsCmd)
}
