// Package config centralises the exchange's static, enumerated
// configuration: the scaled-price constants, supported assets, the
// admin timelock delay, and the domain separator that scopes order
// hashes to this deployment.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"clob/internal/money"
)

// DefaultAdminTimelockDelay is the reference delay between an admin
// action being proposed and becoming executable.
const DefaultAdminTimelockDelay = 48 * time.Hour

// Domain scopes canonical order hashes to one chain/contract/gateway
// identity, so the same order tuple hashed under two domains never
// collides. Modeled on the EIP-712 domain separator.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	GatewayAddress    common.Address
}

// DefaultDomain is the reference domain for a single-deployment
// gateway; production configs should override every field.
func DefaultDomain() Domain {
	return Domain{
		Name:           "clob",
		Version:        "1",
		ChainID:        1337,
		GatewayAddress: common.Address{},
	}
}

// Pair is the immutable configuration of a single book.
type Pair struct {
	BaseAsset  string
	QuoteAsset string
	TickSize   uint64
}

// Config is the exchange's enumerated configuration surface
// (spec.md §6's Configuration list).
type Config struct {
	ListenAddress       string
	ListenPort          int
	PriceScale          *uint256.Int
	MaxTickIndex        uint32
	AdminTimelockDelay  time.Duration
	SupportedAssets     map[string]bool
	Domain              Domain
	Pairs               []Pair
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		ListenAddress:      "0.0.0.0",
		ListenPort:         9001,
		PriceScale:         money.PriceScale,
		MaxTickIndex:       money.MaxTickIndex,
		AdminTimelockDelay: DefaultAdminTimelockDelay,
		SupportedAssets:    map[string]bool{},
		Domain:             DefaultDomain(),
	}
}

// ParseFlags builds a Config from command-line flags, following the
// flag-parsed CLI style of cmd/client.
func ParseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()

	address := fs.String("address", cfg.ListenAddress, "listen address of the exchange gateway")
	port := fs.Int("port", cfg.ListenPort, "listen port of the exchange gateway")
	delay := fs.Duration("admin-timelock", cfg.AdminTimelockDelay, "delay between a timelocked admin proposal and its execution")
	domainName := fs.String("domain-name", cfg.Domain.Name, "domain separator name")
	domainVersion := fs.String("domain-version", cfg.Domain.Version, "domain separator version")
	chainID := fs.Uint64("chain-id", cfg.Domain.ChainID, "domain separator chain/system id")
	assets := fs.String("assets", "", "comma-separated list of supported asset symbols")
	pairs := fs.String("pairs", "", "comma-separated list of base:quote:tick_size books to create on startup")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.ListenAddress = *address
	cfg.ListenPort = *port
	cfg.AdminTimelockDelay = *delay
	cfg.Domain.Name = *domainName
	cfg.Domain.Version = *domainVersion
	cfg.Domain.ChainID = *chainID

	for _, a := range splitNonEmpty(*assets) {
		cfg.SupportedAssets[a] = true
	}

	for _, p := range splitNonEmpty(*pairs) {
		pair, err := parsePairSpec(p)
		if err != nil {
			return Config{}, err
		}
		cfg.Pairs = append(cfg.Pairs, pair)
	}
	return cfg, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePairSpec parses a "base:quote:tick_size" book specification, as
// passed via -pairs on the command line.
func parsePairSpec(spec string) (Pair, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return Pair{}, fmt.Errorf("config: invalid pair spec %q, want base:quote:tick_size", spec)
	}
	tickSize, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Pair{}, fmt.Errorf("config: invalid tick_size in pair spec %q: %w", spec, err)
	}
	return Pair{BaseAsset: parts[0], QuoteAsset: parts[1], TickSize: tickSize}, nil
}
