package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/mossy-p/roulette-signaling/config"
	"github.com/mossy-p/roulette-signaling/internal/call"
	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/fallback"
	"github.com/mossy-p/roulette-signaling/internal/friends"
	"github.com/mossy-p/roulette-signaling/internal/models"
	"github.com/mossy-p/roulette-signaling/internal/peer"
	"github.com/mossy-p/roulette-signaling/internal/retry"
	"github.com/mossy-p/roulette-signaling/internal/signaling"
	"github.com/mossy-p/roulette-signaling/internal/ui"
)

var (
	flagSTUN          string
	flagTURN          string
	flagTURNUser      string
	flagTURNPass      string
	flagSearchTimeout time.Duration
	flagOffline       bool
	flagGenderFilter  string
	flagCalls         int
	flagCallLength    time.Duration
	flagStay          bool
	flagStayAfter     time.Duration
	flagSay           string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Search for a random partner and take calls",
	Long: `Search for a random partner, negotiate a call and report what happens.
A near-silent test tone is sent as the microphone.

Examples:
  roulette call
  roulette call --calls 3 --length 45s
  roulette call --stay --say "hi there"
  roulette call --offline`,
	RunE: runCall,
}

type eventKind int

const (
	eventConnected eventKind = iota
	eventEnded
	eventNoMatches
)

type callEvent struct {
	kind    eventKind
	session call.Session
	reason  call.Reason
}

// connection is what a call runs on: a real server or the simulator.
type connection struct {
	relay     call.Relay
	factory   peer.Factory
	friends   friends.Store
	userID    string
	simulated bool
}

func runCall(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.LoadClient(config.ClientOptions{
		ServerURL:     flagServer,
		Token:         flagToken,
		STUNServer:    flagSTUN,
		TURNServer:    flagTURN,
		TURNUser:      flagTURNUser,
		TURNPass:      flagTURNPass,
		SearchTimeout: flagSearchTimeout,
		Offline:       flagOffline,
	})
	if err != nil {
		return err
	}
	logger := slog.Default()
	clk := clock.Real()

	conn, err := dialOrSimulate(ctx, cfg, clk, logger)
	if err != nil {
		return err
	}

	mic, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: fallback.AudioSampleRate},
		"audio", "roulette")
	if err != nil {
		return err
	}
	go func() {
		if err := fallback.NewStream().PumpAudio(ctx, clk, mic); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("test tone stopped", "error", err)
		}
	}()

	events := make(chan callEvent, 16)
	emit := func(ev callEvent) {
		select {
		case events <- ev:
		default:
			logger.Warn("dropping call event", "kind", ev.kind)
		}
	}
	var received atomic.Int64

	o, err := call.New(call.Options{
		Relay:         conn.relay,
		PeerFactory:   conn.factory,
		Friends:       conn.friends,
		UserID:        conn.userID,
		Tracks:        map[peer.TrackKind]webrtc.TrackLocal{peer.KindAudio: mic},
		GenderFilter:  flagGenderFilter,
		SearchTimeout: cfg.SearchTimeout,
		Simulated:     conn.simulated,
		Hooks: call.Hooks{
			OnStateChange: func(from, to call.State) {
				logger.Debug("call state", "from", from, "to", to)
			},
			OnMatched: func(s call.Session) {
				fmt.Println(ui.MatchView(s))
			},
			OnConnected: func(s call.Session) {
				ui.PrintSuccess("Connected " + ui.StateView(call.StateConnected))
				emit(callEvent{kind: eventConnected, session: s})
			},
			OnTrack: func(t peer.RemoteTrack) {
				go consume(ctx, clk, t, &received)
			},
			OnEnded: func(s call.Session, r call.Reason) {
				emit(callEvent{kind: eventEnded, session: s, reason: r})
			},
			OnNoMatches: func() {
				emit(callEvent{kind: eventNoMatches})
			},
			OnChat: func(m call.ChatMessage) {
				ui.PrintInfof(ui.IconChat, "%s", m.Text)
			},
			OnFriend: func(f models.Friendship) {
				fmt.Println(ui.FriendView(f))
			},
		},
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer o.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx) }()

	ui.PrintInfo(ui.IconSearch, "Searching for a partner...")
	if err := o.StartSearch(); err != nil {
		return err
	}

	completed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case ev := <-events:
			switch ev.kind {
			case eventNoMatches:
				ui.PrintWarning("No matches right now, try again later")
				return nil
			case eventConnected:
				onConnected(o, clk, ev.session, logger)
			case eventEnded:
				fmt.Println(ui.CallSummaryView(ui.CallSummary{
					Session:  ev.session,
					Reason:   ev.reason,
					Duration: clk.Now().Sub(ev.session.StartedAt),
				}))
				ui.PrintInfof(ui.IconCall, "Received %d media samples", received.Swap(0))

				completed++
				if flagCalls > 0 && completed >= flagCalls {
					ui.PrintInfo(ui.IconEnd, "Done")
					return nil
				}
				ui.PrintInfo(ui.IconSearch, "Searching for the next partner...")
				if err := o.StartSearch(); err != nil {
					return err
				}
			}
		}
	}
}

// onConnected schedules the per-call actions asked for on the command
// line. Timers check the partner so they never touch a later call.
func onConnected(o *call.Orchestrator, clk clock.Clock, s call.Session, logger *slog.Logger) {
	sameCall := func() bool {
		current, ok := o.Session()
		return ok && current.PartnerID == s.PartnerID && current.StartedAt.Equal(s.StartedAt)
	}

	if flagSay != "" {
		if _, err := o.SendChat(flagSay, false); err != nil {
			logger.Warn("chat not sent", "error", err)
		}
	}
	if flagStay {
		clk.AfterFunc(flagStayAfter, func() {
			if !sameCall() {
				return
			}
			ui.PrintInfo(ui.IconFriend, "Asking to stay connected...")
			if err := o.VoteStay(true); err != nil {
				logger.Debug("vote not sent", "error", err)
			}
		})
	}
	if flagCallLength > 0 {
		clk.AfterFunc(flagCallLength, func() {
			current, ok := o.Session()
			if !sameCall() || (ok && current.IsFriendCall) {
				return
			}
			if err := o.Skip(); err != nil {
				logger.Debug("skip failed", "error", err)
			}
		})
	}
}

// dialOrSimulate connects to the server, falling back to the offline
// simulator when it cannot be reached.
func dialOrSimulate(ctx context.Context, cfg *config.ClientConfig, clk clock.Clock, logger *slog.Logger) (*connection, error) {
	if !cfg.Offline {
		wsURL, err := cfg.WebSocketURL()
		if err != nil {
			return nil, err
		}
		ui.PrintInfof(ui.IconCall, "Connecting to %s", cfg.ServerURL)

		client, err := signaling.Dial(ctx, wsURL, signaling.Options{
			Policy: retry.Transport,
			Clock:  clk,
			Logger: logger.With("component", "signaling"),
		})
		switch {
		case err == nil:
			conn := &connection{
				relay: client,
				factory: peer.NewPionFactory(peer.ICEConfig{
					STUNServers: cfg.GetSTUNServers(),
					TURNServers: cfg.GetTURNServers(),
					TURNUser:    cfg.TURNUser,
					TURNPass:    cfg.TURNPass,
				}),
				userID: userFromToken(cfg.Token),
			}
			if cfg.Token != "" {
				conn.friends = friends.NewHTTPStore(cfg.ServerURL, cfg.Token)
			}
			return conn, nil
		case errors.Is(err, signaling.ErrUnreachable):
			ui.PrintWarning("Server unreachable, switching to the offline simulation")
		default:
			return nil, err
		}
	}

	ui.PrintInfo(ui.IconOffline, "Offline simulation")
	return &connection{
		relay: fallback.NewRelay(fallback.RelayOptions{
			PartnerStays: flagStay,
			Clock:        clk,
			Logger:       logger,
		}),
		factory:   fallback.NewFactory(fallback.ConnOptions{Clock: clk, Logger: logger}),
		friends:   friends.NewMemoryStore(),
		userID:    "local-user",
		simulated: true,
	}, nil
}

// consume drains an inbound track and counts what arrives.
func consume(ctx context.Context, clk clock.Clock, track peer.RemoteTrack, counter *atomic.Int64) {
	switch t := track.(type) {
	case *fallback.Track:
		for {
			sample, err := t.ReadSample()
			if err != nil {
				return
			}
			counter.Add(1)
			select {
			case <-ctx.Done():
				return
			case <-clk.After(sample.Duration):
			}
		}
	case *webrtc.TrackRemote:
		for {
			if _, _, err := t.ReadRTP(); err != nil {
				return
			}
			counter.Add(1)
		}
	}
}

// userFromToken reads the user id claim without verifying the token.
// The server verifies it; the client only needs the id.
func userFromToken(token string) string {
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	id, _ := claims["user_id"].(string)
	return id
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	callCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	callCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	callCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	callCmd.Flags().DurationVar(&flagSearchTimeout, "search-timeout", 0, "Give up searching after this long (default 30s)")
	callCmd.Flags().BoolVar(&flagOffline, "offline", false, "Skip the server and use the offline simulation")
	callCmd.Flags().StringVar(&flagGenderFilter, "gender-filter", "", "Only match male or female partners (premium)")
	callCmd.Flags().IntVarP(&flagCalls, "calls", "n", 1, "Number of calls before exiting, 0 for no limit")
	callCmd.Flags().DurationVar(&flagCallLength, "length", 0, "Skip each call after this long unless it became a friend call")
	callCmd.Flags().BoolVar(&flagStay, "stay", false, "Vote to stay connected")
	callCmd.Flags().DurationVar(&flagStayAfter, "stay-after", 10*time.Second, "Wait this long into a call before voting")
	callCmd.Flags().StringVar(&flagSay, "say", "", "Chat message to send once connected")
}
