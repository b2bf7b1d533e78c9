// Command clob boots the exchange: a Ledger, a Factory of Books, and
// a Gateway TCP server in front of them, following the teacher's
// signal.NotifyContext shutdown shape (cmd/main.go).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"clob/internal/clock"
	"clob/internal/config"
	"clob/internal/events"
	"clob/internal/factory"
	"clob/internal/gateway"
	"clob/internal/ledger"
)

func main() {
	cfg, err := config.ParseFlags(flag.NewFlagSet("clob", flag.ExitOnError), os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	clk := clock.System{}
	bus := events.NewBus(1024)
	l := ledger.New(clk, bus, cfg.AdminTimelockDelay)
	for asset := range cfg.SupportedAssets {
		l.AddSupportedAssetNow(asset)
	}

	f := factory.New(l, cfg.Domain, clk, bus)
	for _, pair := range cfg.Pairs {
		if _, err := f.CreateBook(pair.BaseAsset, pair.QuoteAsset, pair.TickSize); err != nil {
			log.Fatal().Err(err).Str("base", pair.BaseAsset).Str("quote", pair.QuoteAsset).Msg("failed to create configured book")
		}
	}

	gw := gateway.New(f, cfg.Domain)
	defer gw.Stop()

	srv := gateway.NewServer(cfg.ListenAddress, cfg.ListenPort, gw, bus)
	go srv.Run(ctx)

	<-ctx.Done()
}
