package main

import (
	"fmt"

	"github.com/spf13/cobra"

	chatroom "github.com/chatroom-io/chatroom/sdk/golang"
)

var (
	roomsCreateDescription string
	roomsCreateCode        string
	roomsCreatePrivate     bool

	roomsJoinByCode bool

	roomsMessagesPage    int
	roomsMessagesPerPage int
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Room commands",
}

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rooms you belong to",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := requestContext()
		defer cancel()

		res, err := client.Rooms.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if flagJSON {
			return printJSON(res)
		}
		if len(res.Rooms) == 0 {
			fmt.Println("No rooms found.")
			return nil
		}
		for _, r := range res.Rooms {
			fmt.Printf("%-6s %-24s code=%-12s members=%d\n", r.ID, r.Name, valueOrDefault(r.RoomCode, "-"), r.MemberCount)
		}
		return nil
	},
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := requestContext()
		defer cancel()

		opts := &chatroom.CreateRoomOptions{
			Name:        args[0],
			Description: roomsCreateDescription,
			RoomCode:    roomsCreateCode,
			RoomType:    chatroom.RoomTypeGroup,
		}
		if roomsCreatePrivate {
			opts.RoomType = chatroom.RoomTypePrivate
		}
		res, err := client.Rooms.Create(ctx, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if flagJSON {
			return printJSON(res)
		}
		fmt.Printf("Room created: %s (id %s)\n", res.Room.Name, res.Room.ID)
		if res.Room.RoomCode != "" {
			fmt.Printf("  Code: %s\n", res.Room.RoomCode)
		}
		return nil
	},
}

var roomsJoinCmd = &cobra.Command{
	Use:   "join <room-id|code>",
	Short: "Join a room by id, or by invite code with --code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := requestContext()
		defer cancel()

		var (
			res *chatroom.RoomResult
			err error
		)
		if roomsJoinByCode {
			res, err = client.Rooms.JoinByCode(ctx, args[0])
		} else {
			res, err = client.Rooms.Join(ctx, chatroom.ID(args[0]))
		}
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if flagJSON {
			return printJSON(res)
		}
		fmt.Printf("Joined %s (id %s)\n", res.Room.Name, res.Room.ID)
		return nil
	},
}

var roomsMessagesCmd = &cobra.Command{
	Use:   "messages <room-id>",
	Short: "Show a page of room history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		ctx, cancel := requestContext()
		defer cancel()

		size := roomsMessagesPerPage
		if size <= 0 {
			size = perPage(cfg)
		}
		res, err := client.Rooms.Messages(ctx, chatroom.ID(args[0]), &chatroom.PageOptions{
			Page:    roomsMessagesPage,
			PerPage: size,
		})
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
	roomsCreateCmd.Flags().StringVar(&roomsCreateDescription, "description", "", "Room description")
	roomsCreateCmd.Flags().StringVar(&roomsCreateCode, "code", "", "Invite code (generated by the server when empty)")
	roomsCreateCmd.Flags().BoolVar(&roomsCreatePrivate, "private", false, "Create a private room")

	roomsJoinCmd.Flags().BoolVar(&roomsJoinByCode, "code", false, "Treat the argument as an invite code")

	roomsMessagesCmd.Flags().IntVar(&roomsMessagesPage, "page", 1, "Page number (1 is the newest)")
	roomsMessagesCmd.Flags().IntVar(&roomsMessagesPerPage, "per-page", 0, "Messages per page")

	roomsCmd.AddCommand(roomsListCmd)
	roomsCmd.AddCommand(roomsCreateCmd)
	roomsCmd.AddCommand(roomsJoinCmd)
	roomsCmd.AddCommand(roomsMessagesCmd)
	rootCmd.AddCommand(roomsCmd)
}
