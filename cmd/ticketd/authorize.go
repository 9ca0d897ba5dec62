package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	x402 "github.com/ticketchain/x402-tickets"
	"github.com/ticketchain/x402-tickets/config"
	evmsigner "github.com/ticketchain/x402-tickets/signers/evm"
)

// BuyerKeyEnv holds the buyer key for the client-side commands
const BuyerKeyEnv = "BUYER_PRIVATE_KEY"

func buyerSigner() (*evmsigner.ClientSigner, error) {
	key := os.Getenv(BuyerKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s is required", BuyerKeyEnv)
	}
	return evmsigner.NewClientSignerFromPrivateKey(key)
}

func authorizeCmd() *cobra.Command {
	var (
		to       string
		amount   string
		validity time.Duration
	)

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Sign a TransferWithAuthorization and print the X-Payment header",
		Long: `Sign a TransferWithAuthorization for the configured token and print the base64
X-Payment header. The buyer key is read from BUYER_PRIVATE_KEY.

Examples:
  ticketd authorize --amount 2.50
  ticketd authorize --amount 2.50 --to 0x209693Bc6afc0C5328bA36FaF03C514EF312287C --validity 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if to == "" {
				to = cfg.Payment.Receiver
			}
			if to == "" {
				return errors.New("--to or PAYMENT_RECEIVER_ADDRESS is required")
			}

			price, err := decimal.NewFromString(amount)
			if err != nil || !price.IsPositive() {
				return fmt.Errorf("invalid --amount: %q", amount)
			}

			signer, err := buyerSigner()
			if err != nil {
				return err
			}

			auth, err := evmsigner.SignAuthorization(cmd.Context(), signer, tokenDomain(cfg.Payment), evmsigner.AuthorizationRequest{
				To:       to,
				Value:    x402.ToAtomicUnits(price, cfg.Payment.Decimals),
				Validity: validity,
			})
			if err != nil {
				return err
			}

			header, err := x402.EncodePaymentHeader(auth)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), header)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "payee address (default: configured receiver)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in the reference currency, e.g. 2.50")
	cmd.Flags().DurationVar(&validity, "validity", time.Hour, "how long the authorization stays valid")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
