package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/lol-draft-client/internal/client"
	"github.com/DoyleJ11/lol-draft-client/internal/store"
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a game on the server and print its code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		code, err := client.CreateGame(cmd.Context(), nil, cfg.ServerURL)
		if err != nil {
			return err
		}
		printf(cmd, "%s\n", code)
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant CODE",
	Short: "Claim a seat in a game and store its ticket",
	Long: `Claim a seat in a game and store its ticket.

The ticket only outlives this process when --store-dsn points at Postgres.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		st, err := store.Open(cmd.Context(), cfg.StoreDSN)
		if err != nil {
			return err
		}
		sess, err := claimSeat(cmd.Context(), st, cfg.ServerURL, args[0])
		if err = multierr.Append(err, st.Close()); err != nil {
			return err
		}
		printf(cmd, "seat granted in %s via %s\n", sess.ID, sess.Address)
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget CODE",
	Short: "Drop the stored session for a game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		st, err := store.Open(cmd.Context(), cfg.StoreDSN)
		if err != nil {
			return err
		}
		return multierr.Append(st.Clear(cmd.Context(), args[0]), st.Close())
	},
}

func claimSeat(ctx context.Context, st store.Store, serverURL, code string) (store.Session, error) {
	sess, err := client.RequestSeat(ctx, nil, serverURL, code)
	if err != nil {
		return store.Session{}, err
	}
	if err := st.Write(ctx, sess); err != nil {
		return store.Session{}, fmt.Errorf("store seat: %w", err)
	}
	return sess, nil
}
