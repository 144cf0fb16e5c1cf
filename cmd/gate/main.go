// Command gate reads an escrow and its price sources from a Solana node and
// prints the trade decision the ledger would reach. With -watch it re-evaluates
// whenever one of those accounts changes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futarchy-lobbyist/internal/config"
	"futarchy-lobbyist/internal/layout"
	"futarchy-lobbyist/internal/solana"
)

func main() {
	configPath := flag.String("config", os.Getenv("LOBBYIST_CONFIG"), "Path to TOML config file (optional)")
	escrowFlag := flag.String("escrow", "", "Escrow address (required)")
	attestationFlag := flag.String("attestation", "", "Posted PriceUpdateV2 account (pyth deployments)")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Solana RPC endpoint (overrides config)")
	wsEndpoint := flag.String("ws-endpoint", "", "Solana WebSocket endpoint (overrides config)")
	watch := flag.Bool("watch", false, "Re-evaluate on every account change")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	logger := log.New(os.Stderr, "[gate] ", log.LstdFlags)

	if *escrowFlag == "" {
		logger.Fatal("--escrow is required")
	}
	escrowAddr, err := solana.ParsePubkey(*escrowFlag)
	if err != nil {
		logger.Fatalf("parse escrow: %v", err)
	}
	var attestationAddr solana.Pubkey
	if *attestationFlag != "" {
		if attestationAddr, err = solana.ParsePubkey(*attestationFlag); err != nil {
			logger.Fatalf("parse attestation: %v", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *rpcEndpoint != "" {
		cfg.Solana.RPCEndpoint = *rpcEndpoint
	}
	if *wsEndpoint != "" {
		cfg.Solana.WSEndpoint = *wsEndpoint
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}
	if cfg.AmmProgram().IsZero() {
		logger.Fatal("program.amm_program is required to read pool oracles")
	}

	codec, err := layout.NewCodec(cfg.Variant())
	if err != nil {
		logger.Fatal(err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	rpc := solana.NewHTTPClient(cfg.Solana.RPCEndpoint,
		solana.WithTimeout(cfg.Solana.Timeout.Duration),
		solana.WithMaxRetries(cfg.Solana.MaxRetries),
		solana.WithRateLimit(cfg.Solana.RateLimit, cfg.Solana.RateBurst),
		solana.WithBreaker(uint32(cfg.Solana.BreakerFailures), cfg.Solana.BreakerCoolDown.Duration),
	)
	ev := newEvaluator(rpc, codec, cfg.ProgramID(), cfg.AmmProgram(),
		cfg.Program.OracleOffset, uint8(cfg.Program.PriceDecimals), cfg.Program.MaxAttestAge)

	rep, err := ev.Evaluate(ctx, escrowAddr, attestationAddr)
	if err != nil {
		logger.Fatalf("evaluate: %v", err)
	}
	printReport(rep, *outputJSON)

	if !*watch {
		return
	}

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Logger = logger
	ws, err := solana.NewWSClient(ctx, cfg.Solana.WSEndpoint, &wsCfg)
	if err != nil {
		logger.Fatalf("connect websocket: %v", err)
	}
	defer ws.Close()

	if err := runWatch(ctx, ws, ev, rep, attestationAddr, *outputJSON, logger); err != nil && ctx.Err() == nil {
		logger.Fatalf("watch: %v", err)
	}
}

// runWatch subscribes to every account in rep.Watch and prints a fresh report
// after each change. Bursts of notifications within a second are coalesced.
func runWatch(ctx context.Context, ws solana.WSClient, ev *Evaluator, rep *Report, attestation solana.Pubkey, outputJSON bool, logger *log.Logger) error {
	changed := make(chan solana.Pubkey, 64)
	for _, addr := range rep.Watch {
		ch, err := ws.SubscribeAccount(ctx, addr)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", addr, err)
		}
		go func(addr solana.Pubkey, ch <-chan solana.AccountNotification) {
			for range ch {
				select {
				case changed <- addr:
				default:
				}
			}
		}(addr, ch)
	}
	logger.Printf("Watching %d accounts", len(rep.Watch))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case addr := <-changed:
			logger.Printf("account %s changed", addr)
			dirty = true
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			next, err := ev.Evaluate(ctx, rep.Escrow, attestation)
			if err != nil {
				logger.Printf("evaluate: %v", err)
				continue
			}
			printReport(next, outputJSON)
		}
	}
}

func printReport(rep *Report, outputJSON bool) {
	if outputJSON {
		output, _ := json.Marshal(rep)
		fmt.Println(string(output))
		return
	}

	fmt.Printf("\n=== Gate Decision ===\n")
	fmt.Printf("Escrow:     %s\n", rep.Escrow)
	fmt.Printf("Lobbyist:   %s\n", rep.Lobbyist)
	fmt.Printf("Variant:    %s\n", rep.Variant)
	fmt.Printf("Slot:       %d (%s)\n", rep.Slot, time.Unix(rep.Now, 0).UTC().Format(time.RFC3339))
	fmt.Printf("Active:     %v\n", rep.Active)
	fmt.Printf("Direction:  %s\n", direction(rep.Bullish))
	fmt.Printf("Action:     %s\n", rep.Action)
	if rep.Error != "" {
		fmt.Printf("Code:       %s\n", rep.Code)
		fmt.Printf("Reason:     %s\n", rep.Error)
		return
	}
	fmt.Printf("Market:     %s\n", rep.Market)
	fmt.Printf("Current:    %s\n", rep.Current)
	fmt.Printf("Reference:  %s\n", rep.Reference)
	fmt.Printf("Limit:      %s\n", rep.Limit)
}

func direction(bullish bool) string {
	if bullish {
		return "bullish"
	}
	return "bearish"
}
