package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"GrinderAI-Chain/sdk/go/grinder"
)

// main 查询 grinderd 状态接口并打印共享状态与最近的周期。
func main() {
	addr := flag.String("addr", envOr("GRINDER_API", "http://127.0.0.1:8080"), "grinderd 状态接口地址")
	limit := flag.Int("limit", 10, "显示的周期数量")
	timeout := flag.Duration("timeout", 10*time.Second, "请求超时时间")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := grinder.NewClient(*addr, grinder.WithTimeout(*timeout))
	if err := run(ctx, client, *limit, os.Stdout); err != nil {
		log.Fatalf("grinderctl: %v", err)
	}
}

func run(ctx context.Context, client *grinder.Client, limit int, out io.Writer) error {
	if err := client.Health(ctx); err != nil {
		return err
	}
	state, err := client.State(ctx)
	if err != nil {
		return err
	}
	cycles, err := client.Cycles(ctx, limit)
	if err != nil {
		return err
	}
	printState(out, state)
	fmt.Fprintln(out)
	printCycles(out, cycles)
	return nil
}

func printState(out io.Writer, state grinder.State) {
	fmt.Fprintf(out, "price_estimate: %s\n", state.Market.PriceEstimate)
	fmt.Fprintf(out, "total_intents:  %d\n", state.Market.TotalIntents)
	fmt.Fprintf(out, "cursor:         %d\n", state.Market.Cursor)
	switch {
	case state.Chain != nil:
		fmt.Fprintf(out, "chain:          %s @ %s (signer %s)\n", state.Chain.ChainID, state.Chain.BlockNumber, state.Chain.Signer)
	case state.ChainError != "":
		fmt.Fprintf(out, "chain:          unavailable (%s)\n", state.ChainError)
	}
}

func printCycles(out io.Writer, cycles []grinder.Cycle) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tINTENTS\tBATCH\tFIAT COST\tBUDGET\tTX / ERROR")
	for _, c := range cycles {
		ops := make([]string, len(c.Batch))
		for i, entry := range c.Batch {
			ops[i] = fmt.Sprintf("%d:%s", entry.PoolID, entry.Op)
		}
		detail := c.TxHash
		if detail == "" {
			detail = c.ErrorCode
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\t%s\n",
			c.Started().UTC().Format(time.RFC3339),
			c.Outcome,
			c.IntentIDs,
			dash(strings.Join(ops, " ")),
			dash(c.FiatCost),
			dash(c.Budget),
			dash(detail))
	}
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
