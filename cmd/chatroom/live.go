package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	chatroom "github.com/chatroom-io/chatroom/sdk/golang"
)

var (
	sendRoom string
	sendTo   string
	sendWait time.Duration

	watchRoom        string
	watchMetricsAddr string
)

// newSession wires a Chat to the stored session.
func newSession(metrics *chatroom.Metrics) (*chatroom.Chat, *chatroom.Client, *Config) {
	client, cfg := getClient()
	logger := newLogger(cfg)
	mgr := client.Realtime(&chatroom.RealtimeConfig{Metrics: metrics})
	chat := chatroom.NewChat(client.Backend(), mgr,
		chatroom.WithChatLogger(logger),
		chatroom.WithMetrics(metrics),
		chatroom.WithSelfID(chatroom.ID(cfg.Auth.UserID)),
		chatroom.WithPerPage(perPage(cfg)),
	)
	return chat, client, cfg
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message to a room (--room) or a user (--to)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (sendRoom == "") == (sendTo == "") {
			return fmt.Errorf("exactly one of --room and --to is required")
		}
		content := args[0]
		chat, client, _ := newSession(nil)
		defer chat.Close()

		echo := make(chan chatroom.Message, 1)
		chat.On(chatroom.ChangeReceived, func(_ string, payload any) {
			ev := payload.(chatroom.MessageEvent)
			if ev.Message.SenderID == chat.SelfID() && ev.Message.Content == content {
				select {
				case echo <- ev.Message:
				default:
				}
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout+sendWait)
		defer cancel()

		if err := chat.Connect(ctx, client.Token()); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		if sendRoom != "" {
			// room traffic, including our own echo, only reaches joined sockets
			chat.SelectRoom(ctx, chatroom.Room{ID: chatroom.ID(sendRoom)})
		}
		if err := chat.SendMessage(ctx, content, chatroom.ID(sendRoom), chatroom.ID(sendTo)); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		select {
		case m := <-echo:
			fmt.Printf("Message sent (id %s)\n", m.ID)
		case <-time.After(sendWait):
			fmt.Println("Message sent (no confirmation received)")
		}
		return nil
	},
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and print live messages and unread counters",
	Long:  "Connect to the realtime channel and print incoming messages until interrupted.\nWith --room, that room is opened and its latest page printed first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		metrics := chatroom.NewMetrics(reg)
		chat, client, _ := newSession(metrics)
		defer chat.Close()

		chat.On(chatroom.ChangeReceived, func(_ string, payload any) {
			ev := payload.(chatroom.MessageEvent)
			if ev.Result == chatroom.AppendDuplicate {
				return
			}
			where := "#" + ev.Message.RoomID.String()
			if ev.Private {
				where = "@" + ev.CounterpartID.String()
			}
			fmt.Printf("%-6s ", where)
			printMessage(ev.Message)
		})
		chat.On(chatroom.ChangeUnread, func(_ string, payload any) {
			fmt.Println(formatUnread(payload.(chatroom.UnreadSnapshot)))
		})
		chat.On(chatroom.ChangeConnection, func(_ string, payload any) {
			ev := payload.(chatroom.ConnectionEvent)
			switch {
			case ev.Err != nil:
				fmt.Fprintf(os.Stderr, "-- %s: %v\n", ev.State, ev.Err)
			case ev.Attempt > 0:
				fmt.Fprintf(os.Stderr, "-- %s (attempt %d)\n", ev.State, ev.Attempt)
			default:
				fmt.Fprintf(os.Stderr, "-- %s %s\n", ev.State, ev.Reason)
			}
		})
		chat.On(chatroom.ChangeError, func(_ string, payload any) {
			fmt.Fprintf(os.Stderr, "-- %v\n", payload)
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := chat.Connect(ctx, client.Token()); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		if err := chat.Refresh(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "-- refresh failed: %v\n", err)
		}
		fmt.Printf("%d rooms, %d users online. Ctrl-C to quit.\n", len(chat.Rooms()), len(chat.OnlineUsers()))

		if watchRoom != "" {
			room := chatroom.Room{ID: chatroom.ID(watchRoom)}
			for _, r := range chat.Rooms() {
				if r.ID == room.ID {
					room = r
				}
			}
			chat.SelectRoom(ctx, room)
			for _, m := range chat.Messages() {
				printMessage(m)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		if watchMetricsAddr != "" {
			srv := &http.Server{
				Addr:              watchMetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
		return g.Wait()
	},
}

func formatUnread(s chatroom.UnreadSnapshot) string {
	out := "-- unread:"
	out += formatCounts(" #", s.Rooms)
	out += formatCounts(" @", s.Users)
	return out
}

func formatCounts(prefix string, counts map[chatroom.ID]int) string {
	keys := make([]string, 0, len(counts))
	for id, n := range counts {
		if n > 0 {
			keys = append(keys, id.String())
		}
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("%s%s=%d", prefix, k, counts[chatroom.ID(k)])
	}
	return out
}

func init() {
	sendCmd.Flags().StringVar(&sendRoom, "room", "", "Target room id")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Target user id")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 3*time.Second, "How long to wait for the server echo")

	watchCmd.Flags().StringVar(&watchRoom, "room", "", "Room to open")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
}
