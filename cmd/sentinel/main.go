package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftops/listing-sentinel/internal/aggregate"
	"github.com/nftops/listing-sentinel/internal/chain"
	"github.com/nftops/listing-sentinel/internal/classify"
	"github.com/nftops/listing-sentinel/internal/config"
	"github.com/nftops/listing-sentinel/internal/domain"
	"github.com/nftops/listing-sentinel/internal/engine"
	"github.com/nftops/listing-sentinel/internal/notify"
	"github.com/nftops/listing-sentinel/internal/observability"
	"github.com/nftops/listing-sentinel/internal/policy"
	"github.com/nftops/listing-sentinel/internal/signer"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	st := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if st.WSURL == "" {
		die("WS_URL is empty in env (websocket endpoint with mempool subscriptions)")
	}
	if st.SignerKeys == "" {
		die("SIGNER_KEYS is empty in env (name:hexkey,name:hexkey)")
	}

	client, err := chain.Dial(st.RPCURL)
	must(err, "dial RPC")
	var chainID *big.Int
	if st.ChainID != "" {
		chainID = mustBig(st.ChainID)
	} else {
		chainID, err = client.ChainID(ctx)
		must(err, "chain id")
	}

	signers := signer.NewManager()
	must(signers.LoadPairs(st.SignerKeys), "load signer keys")

	store := policy.NewStore()
	must(store.Load(st.PoliciesPath), "load policies")
	for _, p := range store.List(nil) {
		if !signers.Has(p.User) {
			log.Printf("policy %s: user %s is not a controlled signer, cancels will fail", p.Token.UniqueID(), p.User.Hex())
		}
	}

	marketplace := classify.MarketplaceAddr
	if st.Marketplace != "" {
		marketplace = common.HexToAddress(st.Marketplace)
	}
	aggregator := classify.AggregatorAddr
	if st.Aggregator != "" {
		aggregator = common.HexToAddress(st.Aggregator)
	}

	agg := aggregate.New(store, chainID, marketplace)
	eng := engine.New(engine.Options{
		ChainID:      chainID,
		Classifier:   classify.New(marketplace, aggregator),
		Policies:     store,
		Aggregator:   agg,
		Signers:      signers,
		Backend:      client,
		Sink:         notify.NewDiscord(st.DiscordWebhook),
		Metrics:      observability.NewMetrics(""),
		PoliciesPath: st.PoliciesPath,
		Debug:        st.Debug,
	})

	fmt.Println("=== CONFIG (.env) ===")
	fmt.Println("RPC_URL        :", st.RPCURL)
	fmt.Println("WS_URL         :", st.WSURL)
	fmt.Println("CHAIN_ID       :", chainID.String())
	fmt.Println("POLICIES_PATH  :", st.PoliciesPath, "(", store.Len(), "policies )")
	fmt.Println("MARKETPLACE    :", marketplace.Hex())
	fmt.Println("AGGREGATOR     :", aggregator.Hex())
	fmt.Println("SIGNERS        :", signers.Len())
	for _, addr := range signers.Addresses() {
		bal, berr := client.Balance(ctx, addr)
		if berr != nil {
			fmt.Println("  ->", addr.Hex(), "| balance: ?")
			continue
		}
		fmt.Println("  ->", addr.Hex(), "| balance:", chain.FmtETH(bal), "ETH")
	}
	fmt.Println("DEBUG          :", st.Debug)
	fmt.Println("=====================")

	if st.MetricsAddr != "" {
		go func() {
			if serr := observability.Serve(st.MetricsAddr); serr != nil {
				log.Printf("metrics server: %v", serr)
			}
		}()
	}

	txs := make(chan chain.PendingTx, 256)
	heads := make(chan chain.Head, 8)
	stream := chain.NewStream(st.WSURL, []common.Address{marketplace, aggregator})
	go stream.Run(ctx, txs, heads)
	go console(ctx, eng, stop)

	eng.Run(ctx, txs, heads)
	log.Println("sentinel stopped")
}

// console reads admin commands from stdin until the context ends:
//
//	add <user> <collection> <tokenId> <insuranceEth>
//	remove <collection> <tokenId>
//	list [user]
//	quit
func console(ctx context.Context, eng *engine.Engine, stop func()) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "add":
			if len(fields) != 5 {
				fmt.Println("usage: add <user> <collection> <tokenId> <insuranceEth>")
				continue
			}
			user := common.HexToAddress(fields[1])
			token, err := parseToken(fields[2], fields[3])
			if err != nil {
				fmt.Println("add:", err)
				continue
			}
			cap, err := policy.ParseEther(fields[4])
			if err != nil {
				fmt.Println("add:", err)
				continue
			}
			if err := eng.AddPolicy(user, token, cap); err != nil {
				fmt.Println("add:", err)
				continue
			}
			fmt.Println("insured", token.UniqueID())
		case "remove":
			if len(fields) != 3 {
				fmt.Println("usage: remove <collection> <tokenId>")
				continue
			}
			token, err := parseToken(fields[1], fields[2])
			if err != nil {
				fmt.Println("remove:", err)
				continue
			}
			if err := eng.RemovePolicy(token); err != nil {
				fmt.Println("remove:", err)
				continue
			}
			fmt.Println("removed", token.UniqueID())
		case "list":
			var filter *common.Address
			if len(fields) > 1 {
				u := common.HexToAddress(fields[1])
				filter = &u
			}
			for _, p := range eng.ListPolicies(filter) {
				fmt.Println(" ", p)
			}
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Println("commands: add, remove, list, quit")
		}
	}
}

func parseToken(collection, id string) (domain.Token, error) {
	if !common.IsHexAddress(collection) {
		return domain.Token{}, fmt.Errorf("bad collection address %q", collection)
	}
	n, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return domain.Token{}, fmt.Errorf("bad token id %q", id)
	}
	return domain.NewToken(common.HexToAddress(collection), n)
}

func must(err error, what string) {
	if err != nil {
		die(what + ": " + err.Error())
	}
}

func die(msg string) {
	fmt.Fprintln(os.Stderr, "fatal:", msg)
	os.Exit(1)
}

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		die("bad big integer: " + s)
	}
	return n
}
