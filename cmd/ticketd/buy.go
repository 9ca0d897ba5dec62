package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ticketchain/x402-tickets/config"
	tickethttp "github.com/ticketchain/x402-tickets/http"
)

func buyCmd() *cobra.Command {
	var (
		baseURL string
		buyer   string
		free    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "buy <event-address>",
		Short: "Buy a ticket, paying the 402 challenge with BUYER_PRIVATE_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = fmt.Sprintf("http://localhost:%d%s", cfg.Server.Port, cfg.Server.Prefix)
			}

			route := "purchase"
			client := &http.Client{Timeout: timeout}
			if free {
				route = "purchase-free"
			} else {
				signer, err := buyerSigner()
				if err != nil {
					return err
				}
				client = tickethttp.WrapHTTPClientWithPayment(client, tickethttp.NewPaymentClient(signer, tokenDomain(cfg.Payment)))
			}

			body, err := json.Marshal(map[string]string{"buyerAddress": buyer})
			if err != nil {
				return err
			}
			url := fmt.Sprintf("%s/%s/%s", strings.TrimRight(baseURL, "/"), route, args[0])
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("purchase failed: %s", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "ticket API base URL (default: local server)")
	cmd.Flags().StringVar(&buyer, "buyer", "", "ticket owner address on the fulfillment chain")
	cmd.Flags().BoolVar(&free, "free", false, "use the zero-price route")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
	_ = cmd.MarkFlagRequired("buyer")

	return cmd
}
