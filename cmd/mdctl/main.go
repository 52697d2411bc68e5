// mdctl queries and watches the market data gateway from a terminal.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shubham-shewale/market-cache/cmd/mdctl/internal/wsclient"
	"github.com/shubham-shewale/market-cache/pkg/protocol"
)

var (
	gatewayURL string
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mdctl",
		Short:        "Market data gateway client",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&gatewayURL, "url", "u", "ws://localhost:8080/ws", "Gateway websocket URL")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(queryCmd("quote <instrument>", "Show the latest quote", protocol.ActionGetQuote))
	rootCmd.AddCommand(queryCmd("book <instrument>", "Show the order book", protocol.ActionGetOrderBook))
	rootCmd.AddCommand(candlesCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func queryCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.Context(), action, protocol.RequestPayload{Symbols: args})
		},
	}
}

func candlesCmd() *cobra.Command {
	var (
		timeframe string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "candles <instrument>",
		Short: "Show historical candles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.Context(), protocol.ActionGetCandles, protocol.RequestPayload{
				Symbols:   args,
				Timeframe: timeframe,
				Limit:     limit,
			})
		},
	}
	cmd.Flags().StringVarP(&timeframe, "timeframe", "f", "1m", "Candle timeframe (1m, 5m, 15m, 1h, 1d, 1w, 1M)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Newest candles to show, 0 for all")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.Context(), protocol.ActionStats, protocol.RequestPayload{})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <instrument>...",
		Short: "Subscribe and print updates until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := wsclient.Dial(ctx, gatewayURL)
			if err != nil {
				return err
			}
			defer c.Close()
			c.OnFrame = printFrame

			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			ack, err := c.Do(reqCtx, protocol.ActionSubscribe, protocol.RequestPayload{Symbols: args})
			cancel()
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, ack.Message)

			return c.Stream(ctx, printFrame)
		},
	}
}

func request(ctx context.Context, action string, payload protocol.RequestPayload) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := wsclient.Dial(ctx, gatewayURL)
	if err != nil {
		return err
	}
	defer c.Close()

	f, err := c.Do(ctx, action, payload)
	if err != nil {
		return err
	}
	printFrame(f)
	return nil
}

func printFrame(f wsclient.Frame) {
	if len(f.Data) == 0 {
		fmt.Printf("[%s] %s\n", f.Type, f.Message)
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, f.Data, "", "  "); err != nil {
		fmt.Printf("[%s] %s\n", f.Type, f.Data)
		return
	}
	fmt.Printf("[%s]\n%s\n", f.Type, buf.String())
}
