package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vedikabops/splitstream/internal/media"
	"github.com/vedikabops/splitstream/internal/playback"
	"github.com/vedikabops/splitstream/internal/player"
	"github.com/vedikabops/splitstream/internal/protocol"
	"github.com/vedikabops/splitstream/internal/session"
	"github.com/vedikabops/splitstream/internal/wsclient"
)

var rootCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Join a room and watch in lock-step with a simulated player",
	RunE:  runWatcher,
}

var (
	flagRelayURL    string
	flagRoom        string
	flagName        string
	flagToken       string
	flagLogLevel    string
	flagNotifyDelay time.Duration
	flagUnavailable []string

	flagDebounce       time.Duration
	flagSettle         time.Duration
	flagSampleInterval time.Duration
	flagDriftThreshold float64
	flagMaxTransit     time.Duration
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagRelayURL, "relay-url", envOr("RELAY_URL", "ws://localhost:5000/ws"), "relay websocket URL (env RELAY_URL)")
	flags.StringVar(&flagRoom, "room", "", "room code to join")
	flags.StringVar(&flagName, "name", "", "display name")
	flags.StringVar(&flagToken, "token", os.Getenv("RELAY_TOKEN"), "access token when the relay requires one (env RELAY_TOKEN)")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level")
	flags.DurationVar(&flagNotifyDelay, "notify-delay", 0, "delay every player notification, like a slow device")
	flags.StringSliceVar(&flagUnavailable, "unavailable", nil, "video or playlist ids the player refuses to load")

	flags.DurationVar(&flagDebounce, "debounce", playback.DefaultDebounceWindow, "drop remote events closer together than this")
	flags.DurationVar(&flagSettle, "settle", playback.DefaultSettleWindow, "how long echo guards stay up after a remote event")
	flags.DurationVar(&flagSampleInterval, "sample-interval", playback.DefaultSampleInterval, "drift monitor period")
	flags.Float64Var(&flagDriftThreshold, "drift-threshold", playback.DefaultDriftThreshold, "seconds of drift treated as a scrub")
	flags.DurationVar(&flagMaxTransit, "max-transit-compensation", 0, "advance remote play positions by transit time, capped at this (0 disables)")

	_ = rootCmd.MarkPersistentFlagRequired("room")
	_ = rootCmd.MarkPersistentFlagRequired("name")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute watcher command")
	}
}

func runWatcher(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(flagLogLevel))
	if err != nil {
		return fmt.Errorf("invalid --log-level %q", flagLogLevel)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Str("name", flagName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := wsclient.Dial(ctx, flagRelayURL, wsclient.Options{Token: flagToken, Logger: &logger})
	if err != nil {
		return err
	}

	sim := player.New(player.Options{
		NotifyDelay: flagNotifyDelay,
		Unavailable: flagUnavailable,
		Logger:      &logger,
	})
	defer sim.Close()

	out := cmd.OutOrStdout()
	c, err := session.New(conn, sim, session.Options{
		RoomID:   flagRoom,
		Username: flagName,
		Playback: playback.Config{
			DebounceWindow:         flagDebounce,
			SettleWindow:           flagSettle,
			SampleInterval:         flagSampleInterval,
			DriftThreshold:         flagDriftThreshold,
			MaxTransitCompensation: flagMaxTransit,
			Logger:                 &logger,
		},
		Observer: session.Observer{
			OnMediaChanged: func(ref media.Reference) {
				fmt.Fprintf(out, "* now watching %s\n", describeMedia(ref))
			},
			OnPlaybackApplied: func(a playback.Action, pos float64) {
				fmt.Fprintf(out, "* room %s at %.1fs\n", a, pos)
			},
			OnError: func(kind session.ErrorKind, msg string) {
				fmt.Fprintf(out, "! %s: %s\n", kind, msg)
			},
			OnMessage: func(m protocol.ChatMessage) {
				if m.Type == protocol.MessageSystem {
					fmt.Fprintf(out, "* %s\n", m.Message)
					return
				}
				fmt.Fprintf(out, "<%s> %s\n", m.Username, m.Message)
			},
			OnParticipants: func(users []string) {
				fmt.Fprintf(out, "* watching: %s\n", strings.Join(users, ", "))
			},
		},
		Logger: &logger,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	if err := c.Join(ctx); err != nil {
		_ = c.Leave()
		<-runErr
		return err
	}

	con := &console{player: sim, room: c, out: out}
	lines := readLines(ctx, cmd.InOrStdin())
	for {
		select {
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil && conn.Err() != nil {
				logger.Debug().Err(conn.Err()).Msg("relay connection")
			}
			return err
		case line, ok := <-lines:
			if !ok {
				_ = c.Leave()
				return ignoreCanceled(<-runErr)
			}
			quit, err := con.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				_ = c.Leave()
				return ignoreCanceled(<-runErr)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
