// Command client is a CLI that places and cancels orders against a
// running gateway server, adapted from the teacher's cmd/client/client.go
// flag-parsed style to the signed, hash-addressed wire protocol of
// internal/gateway.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"clob/internal/config"
	"clob/internal/gateway"
	"clob/internal/order"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange gateway")
	action := flag.String("action", "place", "action to perform: ['place', 'cancel']")

	base := flag.String("base", "BTC", "base asset symbol")
	quote := flag.String("quote", "USD", "quote asset symbol")
	tickSize := flag.Uint64("tick-size", 1_000_000_000_000_000_000, "book tick size, scaled by 1e18")
	sideStr := flag.String("side", "buy", "order side: 'buy' or 'sell'")
	priceStr := flag.String("price", "100", "limit price, in whole units of quote per base")
	qty := flag.Uint64("qty", 10, "base amount to trade")
	expiry := flag.Uint64("expiry", 0, "order expiry, unix seconds (0 = never)")
	nonce := flag.Uint64("nonce", 0, "maker's order nonce")
	privKeyHex := flag.String("privkey", "", "hex-encoded ECDSA private key to sign the order with (compulsory)")

	hashHex := flag.String("hash", "", "hex-encoded order hash to cancel (required for -action=cancel)")

	flag.Parse()

	if *privKeyHex == "" {
		fmt.Println("Error: -privkey is compulsory.")
		flag.Usage()
		os.Exit(1)
	}
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(*privKeyHex, "0x"))
	if err != nil {
		log.Fatalf("invalid -privkey: %v", err)
	}
	maker := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to gateway at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s as %s\n", *serverAddr, maker)

	go readReports(conn)

	switch strings.ToLower(*action) {
	case "place":
		side := order.Buy
		if strings.ToLower(*sideStr) == "sell" {
			side = order.Sell
		}
		price, ok := new(uint256.Int).SetString(*priceStr, 10)
		if !ok {
			log.Fatalf("invalid -price: %q", *priceStr)
		}
		price = price.Mul(price, uint256.NewInt(1_000_000_000_000_000_000))

		o := order.Order{
			Maker:      maker,
			BaseAsset:  *base,
			QuoteAsset: *quote,
			BaseAmount: *qty,
			Price:      price,
			Side:       side,
			Expiry:     *expiry,
			Nonce:      *nonce,
		}
		hash := order.HashWithDomain(o, config.DefaultDomain())
		sig, err := crypto.Sign(hash[:], priv)
		if err != nil {
			log.Fatalf("failed to sign order: %v", err)
		}

		frame := gateway.EncodeNewOrder(o, sig, *tickSize)
		if _, err := conn.Write(frame); err != nil {
			log.Fatalf("failed to send order: %v", err)
		}
		fmt.Printf("-> sent %s order: %s/%s %d @ %s\n", strings.ToUpper(*sideStr), *base, *quote, *qty, *priceStr)

	case "cancel":
		if *hashHex == "" {
			log.Fatal("Error: -hash is required for -action=cancel")
		}
		var hash order.Hash
		raw := strings.TrimPrefix(*hashHex, "0x")
		if len(raw) != 64 {
			log.Fatalf("invalid -hash: want 32 bytes hex, got %d chars", len(raw))
		}
		for i := 0; i < 32; i++ {
			b, err := strconv.ParseUint(raw[i*2:i*2+2], 16, 8)
			if err != nil {
				log.Fatalf("invalid -hash: %v", err)
			}
			hash[i] = byte(b)
		}
		frame := gateway.EncodeCancelByHash(hash, maker, *base, *quote, *tickSize)
		if _, err := conn.Write(frame); err != nil {
			log.Fatalf("failed to send cancel request: %v", err)
		}
		fmt.Printf("-> sent cancel request for hash %s\n", *hashHex)

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nlistening for reports... (press Ctrl+C to exit)")
	select {}
}

// readReports parses Report frames as they arrive, in the shape of the
// teacher's client readReports loop.
func readReports(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			fmt.Printf("connection lost: %v\n", err)
			os.Exit(0)
		}
		report, err := decodeReport(buf[:n])
		if err != nil {
			log.Printf("error decoding report: %v", err)
			continue
		}
		if report.Type == gateway.ErrorReport {
			fmt.Printf("\n[GATEWAY ERROR] %s\n", report.ErrStr)
			continue
		}
		fmt.Printf("\n[EXECUTION] hash=%x fill_base=%d maker=%s taker=%s at=%s\n",
			report.OrderHash, report.FillBase, report.Maker, report.Taker,
			time.Unix(int64(report.Timestamp), 0).Format(time.RFC3339))
	}
}

func decodeReport(msg []byte) (gateway.Report, error) {
	const fixed = 1 + 32 + 8 + 32 + 32 + 8 + 2 + 2 + 2
	if len(msg) < fixed {
		return gateway.Report{}, fmt.Errorf("client: report too short")
	}
	var r gateway.Report
	off := 0
	r.Type = gateway.ReportMessageType(msg[off])
	off++
	copy(r.OrderHash[:], msg[off:off+32])
	off += 32
	r.FillBase = binary.BigEndian.Uint64(msg[off : off+8])
	off += 8
	r.Quote = new(uint256.Int).SetBytes(msg[off : off+32])
	off += 32
	r.Price = new(uint256.Int).SetBytes(msg[off : off+32])
	off += 32
	r.Timestamp = binary.BigEndian.Uint64(msg[off : off+8])
	off += 8
	makerLen := int(binary.BigEndian.Uint16(msg[off : off+2]))
	off += 2
	takerLen := int(binary.BigEndian.Uint16(msg[off : off+2]))
	off += 2
	errLen := int(binary.BigEndian.Uint16(msg[off : off+2]))
	off += 2
	if len(msg) < off+makerLen+takerLen+errLen {
		return gateway.Report{}, fmt.Errorf("client: report too short for declared field lengths")
	}
	r.Maker = string(msg[off : off+makerLen])
	off += makerLen
	r.Taker = string(msg[off : off+takerLen])
	off += takerLen
	r.ErrStr = string(msg[off : off+errLen])
	return r, nil
}
