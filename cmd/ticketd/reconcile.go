package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ticketchain/x402-tickets/config"
	"github.com/ticketchain/x402-tickets/reconcile"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Inspect payments that settled without a ticket being minted",
	}
	cmd.AddCommand(reconcileListCmd())
	cmd.AddCommand(reconcileResolveCmd())
	return cmd
}

func openStore(cmd *cobra.Command) (reconcile.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Reconcile.Backend != "redis" {
		return nil, nil, errors.New("reconcile commands need the redis backend; the memory store lives inside the server process")
	}
	return newStore(cmd.Context(), cfg.Reconcile)
}

func reconcileListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open orphaned settlements, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No orphaned settlements")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %s  event=%s buyer=%s payer=%s amount=%s settlement=%s\n  error: %s\n",
					e.ID, time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339),
					e.EventAddress, e.Buyer, e.Payer, e.Amount, e.SettlementTx, e.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func reconcileResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Close an orphaned settlement after it was re-minted or refunded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			entry, err := store.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s (settlement %s)\n", entry.ID, entry.SettlementTx)
			return nil
		},
	}
}
