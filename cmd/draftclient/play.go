package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lol-draft-client/internal/client"
	"github.com/DoyleJ11/lol-draft-client/internal/session"
	"github.com/DoyleJ11/lol-draft-client/internal/store"
	"github.com/DoyleJ11/lol-draft-client/internal/transport"
	"github.com/DoyleJ11/lol-draft-client/internal/wire"
)

var errQuit = errors.New("quit")

var playCmd = &cobra.Command{
	Use:   "play CODE",
	Short: "Join a game and stay connected until it ends",
	Long: `Join a game and stay connected until it ends.

Server messages are printed as they arrive. Type "ping", "leave" or "quit"
on stdin to act on the session.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

var (
	playGrant  bool
	playLeave  bool
	playDialer string
)

func init() {
	playCmd.Flags().BoolVar(&playGrant, "grant", false, "claim a seat before joining")
	playCmd.Flags().BoolVar(&playLeave, "leave", false, "give the seat up when interrupted")
	playCmd.Flags().StringVar(&playDialer, "dialer", "coder", "WebSocket implementation: coder or gorilla")
}

type event struct {
	phase  session.Phase
	msg    wire.Message
	status transport.Status
	exit   *session.Exit
}

func runPlay(cmd *cobra.Command, args []string) error {
	code := args[0]
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	var dialer transport.Dialer
	switch playDialer {
	case "coder":
		dialer = transport.WebSocketDialer{}
	case "gorilla":
		dialer = transport.GorillaDialer{}
	default:
		return fmt.Errorf("unknown dialer %q", playDialer)
	}

	ctx := cmd.Context()
	st, err := store.Open(ctx, cfg.StoreDSN)
	if err != nil {
		return err
	}
	c := client.New(ctx, st, dialer, client.Options{Session: cfg.Session(), Logger: log})
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("close client", zap.Error(err))
		}
	}()

	if playGrant {
		if _, err := claimSeat(ctx, st, cfg.ServerURL, code); err != nil {
			return err
		}
	}

	events := make(chan event, 256)
	handlers := func(p session.Phase) session.Handlers {
		push := func(ev event) {
			select {
			case events <- ev:
			default:
				log.Warn("event dropped, printer behind", zap.Stringer("phase", p))
			}
		}
		return session.Handlers{
			OnMessage: func(m wire.Message) { push(event{phase: p, msg: m}) },
			OnStatus:  func(s transport.Status) { push(event{phase: p, status: s}) },
			OnExit:    func(e session.Exit) { push(event{phase: p, exit: &e}) },
		}
	}

	current, err := c.EnterRoom(ctx, code, handlers(session.PhaseRoom))
	if err != nil {
		return err
	}
	phase := session.PhaseRoom

	commands := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readCommands(gctx, cmd.InOrStdin(), commands)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				if playLeave {
					current.Leave(context.Background())
				}
				return nil

			case line := <-commands:
				switch line {
				case "ping":
					current.Send(wire.KindPing)
				case "leave":
					current.Leave(gctx)
					return errQuit
				case "quit":
					return errQuit
				default:
					printf(cmd, "unknown command %q\n", line)
				}

			case ev := <-events:
				if ev.phase != phase {
					continue
				}
				switch {
				case ev.exit != nil:
					return fmt.Errorf("session ended: %w", *ev.exit)
				case ev.msg == nil:
					printf(cmd, "[%s] %s\n", ev.phase, ev.status)
					continue
				}
				printf(cmd, "[%s] %s\n", ev.phase, ev.msg)

				if phase == session.PhaseRoom && ev.msg.Kind() == wire.KindGameStarting {
					if !current.HandOff() {
						return errors.New("handoff refused")
					}
					current.Close()
					game, err := c.EnterGame(gctx, code, handlers(session.PhaseGame))
					if err != nil {
						return err
					}
					current, phase = game, session.PhaseGame
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func readCommands(ctx context.Context, r io.Reader, out chan<- string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep playing until interrupted
				<-ctx.Done()
				return nil
			}
			if line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
