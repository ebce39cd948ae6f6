package config

import (
	"os"
	"strings"
)

// Settings keeps all daemon configuration options.
type Settings struct {
	RPCURL         string
	WSURL          string
	ChainID        string // kept as string, parsed at boot
	PoliciesPath   string
	SignerKeys     string // "name:hexkey,name:hexkey"
	DiscordWebhook string
	MetricsAddr    string
	Marketplace    string // router address overrides, empty = mainnet defaults
	Aggregator     string
	Debug          bool
}

// Load reads settings from environment supporting both UPPER_CASE and
// lower_case keys.
func Load() Settings {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	getBool := func(keys []string, def bool) bool {
		s := strings.ToLower(get(keys, ""))
		if s == "" {
			return def
		}
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}

	st := Settings{}
	st.RPCURL = get([]string{"rpc_url", "RPC_URL"}, "https://eth.llamarpc.com")
	st.WSURL = get([]string{"ws_url", "WS_URL"}, "")
	st.ChainID = get([]string{"chain_id", "CHAIN_ID"}, "")
	st.PoliciesPath = get([]string{"policies_path", "POLICIES_PATH"}, "policies.csv")
	st.SignerKeys = get([]string{"signer_keys", "SIGNER_KEYS"}, "")
	st.DiscordWebhook = get([]string{"discord_webhook", "DISCORD_WEBHOOK"}, "")
	st.MetricsAddr = get([]string{"metrics_addr", "METRICS_ADDR"}, "")
	st.Marketplace = get([]string{"marketplace_addr", "MARKETPLACE_ADDR"}, "")
	st.Aggregator = get([]string{"aggregator_addr", "AGGREGATOR_ADDR"}, "")
	st.Debug = getBool([]string{"debug", "DEBUG"}, true)
	return st
}
