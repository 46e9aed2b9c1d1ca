package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"eyecare-realtime/internal/client/consult"
	"eyecare-realtime/internal/client/notifications"
	"eyecare-realtime/internal/client/rest"
	"eyecare-realtime/internal/client/socket"
	"eyecare-realtime/internal/client/toasts"
	"eyecare-realtime/internal/config"
	"eyecare-realtime/internal/logging"
	"eyecare-realtime/internal/models"

	"github.com/DavidGamba/go-getoptions"
)

// commandLineOptionValues represents the values of the command-line options
// that were passed when the client was invoked.
type commandLineOptionValues struct {
	APIURL    string
	SocketURL string
	Token     string
	UserID    string
	Room      string
	Limit     int
	LogLevel  string
}

func parseCommandLine(cfg *config.ClientConfig) *commandLineOptionValues {
	optionValues := &commandLineOptionValues{}
	opt := getoptions.New()

	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&optionValues.APIURL, "api-url", cfg.APIBaseURL,
		opt.Description("the base URL of the REST API"))
	opt.StringVar(&optionValues.SocketURL, "socket-url", cfg.SocketURL,
		opt.Description("the URL of the socket endpoint"))
	opt.StringVar(&optionValues.Token, "token", cfg.Token,
		opt.Alias("t"),
		opt.Description("the bearer token used for the API and the socket"))
	opt.StringVar(&optionValues.UserID, "user", "",
		opt.Alias("u"),
		opt.Description("the signed in user's id, used to suppress toasts for own messages"))
	opt.StringVar(&optionValues.Room, "room", "",
		opt.Alias("r"),
		opt.Description("join this consultation room for signaling"))
	opt.IntVar(&optionValues.Limit, "limit", notifications.DefaultPageSize,
		opt.Description("the number of notifications to load"))
	opt.StringVar(&optionValues.LogLevel, "log-level", cfg.LogLevel,
		opt.Description("debug, info, warn or error"))

	_, err := opt.Parse(os.Args[1:])
	if opt.Called("help") {
		fmt.Fprint(os.Stderr, opt.Help())
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		fmt.Fprint(os.Stderr, opt.Help(getoptions.HelpSynopsis))
		os.Exit(1)
	}

	return optionValues
}

func main() {
	cfg := config.LoadClient()
	options := parseCommandLine(cfg)
	logging.Init(options.LogLevel, "text")

	if options.Token == "" {
		fmt.Fprintln(os.Stderr, "Error: a token is required (--token or AUTH_TOKEN)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, options); err != nil {
		slog.Error("rtclient exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, options *commandLineOptionValues) error {
	api := rest.NewClient(options.APIURL, options.Token, nil)
	sock := socket.NewManager(socket.Options{
		URL:               options.SocketURL,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectAttempts: cfg.ReconnectAttempts,
	})
	defer sock.Disconnect()

	store := notifications.NewStore(api, func(err error) {
		fmt.Printf("! %s\n", err)
	})
	defer store.Attach(sock)()

	sock.On(models.EventNewNotification, func(event models.Event) {
		var n models.Notification
		if err := event.Decode(&n); err == nil {
			fmt.Printf("[notification] %s: %s\n", n.Title, n.Message)
		}
	})
	sock.On(models.EventUnreadCount, func(models.Event) {
		fmt.Printf("[unread] %d\n", store.Snapshot().UnreadCount)
	})

	coordinator := toasts.NewCoordinator(api, sock, toasts.Options{
		UserID: options.UserID,
		Notify: func(t toasts.Toast) {
			fmt.Printf("[toast] %s: %s (%s)\n", t.Title, t.Body, t.Link)
		},
	})
	coordinator.Start(ctx)
	defer coordinator.Stop()

	if err := sock.Connect(ctx, options.Token); err != nil {
		return err
	}

	if err := store.Fetch(ctx, options.Limit, 0); err != nil {
		return err
	}
	printNotifications(store.Snapshot())

	if options.Room != "" {
		session := consult.NewSession(options.Room, consult.Options{
			API:    api,
			Socket: sock,
			Media:  signalingMedia{},
			Peer:   newSignalingPeer(),
			OnStateChange: func(s consult.State) {
				fmt.Printf("[consultation] %s\n", s)
			},
		})
		defer session.End()

		if err := session.Start(ctx); err != nil {
			if access := session.Access(); access != nil && !access.Allowed {
				fmt.Printf("[consultation] access denied: %s\n", access.Reason)
				return nil
			}
			return err
		}
	}

	<-ctx.Done()
	return nil
}

func printNotifications(state notifications.State) {
	if state.PermissionDenied {
		fmt.Println("No permission to view notifications")
		return
	}

	fmt.Printf("%d notifications, %d unread\n", state.Total, state.UnreadCount)
	for _, n := range state.Notifications {
		marker := " "
		if !n.Read {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  %s\n", marker, n.CreatedAt.Format("2006-01-02 15:04"), n.Type, n.Title)
	}
}
