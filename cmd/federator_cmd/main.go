package main

import (
	"fmt"
	"os"
	"strings"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/TEENet-io/pegout-federator/cmd"
	"github.com/TEENet-io/pegout-federator/common"
	"github.com/TEENet-io/pegout-federator/ledgerwatch"
	"github.com/TEENet-io/pegout-federator/logconfig"
	"github.com/TEENet-io/pegout-federator/releaser"
	"github.com/TEENet-io/pegout-federator/releasestore"
	"github.com/TEENet-io/pegout-federator/releasesync"
	"github.com/TEENet-io/pegout-federator/signedcache"
)

const (
	ENV_CONFIG_FILE_PATH = "FEDERATOR_CONFIG"
)

func main() {
	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Federator configuration file = %s\n", _config_file)

	if err := cmd.CheckConfigFile(_config_file); err != nil {
		fmt.Printf("Federator configuration file unusable: %v\n", err)
		os.Exit(1)
	}

	// Read from config file.
	if !initializeViper(_config_file) {
		os.Exit(1)
	}
	setDefaults()
	logconfig.ConfigLoggerFromString(viper.GetString("LOG_LEVEL"))

	fc := PrepareFederatorConfig()

	fmt.Println("Starting federator... press Ctrl+C to stop it")
	if err := cmd.StartFederatorAndWait(fc); err != nil {
		logger.Fatalf("federator failed: %v", err)
	}
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

func setDefaults() {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LEDGER_POLL_INTERVAL", ledgerwatch.DefaultPollInterval)
	viper.SetDefault("MAX_REORG_DEPTH", ledgerwatch.DefaultMaxReorgDepth)
	viper.SetDefault("STORE_BACKEND", cmd.StoreBackendFile)
	viper.SetDefault("STORE_FLUSH_DELAY", releasestore.DefaultFlushDelay)
	viper.SetDefault("STORE_MAX_DELAYS", releasestore.DefaultMaxDelays)
	viper.SetDefault("SYNC_POLL_INTERVAL", releasesync.DefaultPollInterval)
	viper.SetDefault("MAX_BACKLOG_DEPTH", releasesync.DefaultMaxBacklogDepth)
	viper.SetDefault("SIGNING_ENABLED", true)
	viper.SetDefault("KEY_ID", releaser.DefaultKeyID)
	viper.SetDefault("LOCAL_APPLIANCE_VERSION", 2)
	viper.SetDefault("MIN_VALIDATION_CONFIRMATIONS", releaser.DefaultMinValidationConfirmations)
	viper.SetDefault("MAX_FORWARD_SEARCH", 100)
	viper.SetDefault("SIGNED_CACHE_TTL", signedcache.DefaultTTL)
	viper.SetDefault("TICK_TIMEOUT", releaser.DefaultTickTimeout)
}

// splitList accepts comma separated values, or a yaml list.
func splitList(key string) []string {
	var out []string
	for _, item := range viper.GetStringSlice(key) {
		for _, v := range strings.Split(item, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// PrepareFederatorConfig reads configuration variables and returns a FederatorConfig.
func PrepareFederatorConfig() *cmd.FederatorConfig {
	return &cmd.FederatorConfig{
		// ledger side
		LedgerRpcUrl:       viper.GetString("LEDGER_RPC_URL"),
		LedgerChainID:      viper.GetInt64("LEDGER_CHAIN_ID"),
		BridgeContractAddr: viper.GetString("BRIDGE_CONTRACT_ADDR"),
		SubmitterPriv:      viper.GetString("SUBMITTER_PRIV"),
		LedgerPollInterval: viper.GetDuration("LEDGER_POLL_INTERVAL"),
		MaxReorgDepth:      viper.GetUint64("MAX_REORG_DEPTH"),
		// federations
		BtcChainConfig:      common.BtcNetParams(viper.GetString("BTC_CHAIN_CONFIG")),
		FederationPubKeys:   splitList("FEDERATION_PUBKEYS"),
		FederationThreshold: viper.GetInt("FEDERATION_THRESHOLD"),
		RetiringPubKeys:     splitList("RETIRING_PUBKEYS"),
		RetiringThreshold:   viper.GetInt("RETIRING_THRESHOLD"),
		// release index
		StoreBackend:     viper.GetString("STORE_BACKEND"),
		StorePath:        viper.GetString("STORE_PATH"),
		StoreFlushDelay:  viper.GetDuration("STORE_FLUSH_DELAY"),
		StoreMaxDelays:   viper.GetInt("STORE_MAX_DELAYS"),
		SyncPollInterval: viper.GetDuration("SYNC_POLL_INTERVAL"),
		MaxBacklogDepth:  viper.GetUint64("MAX_BACKLOG_DEPTH"),
		// signing
		SigningEnabled:             viper.GetBool("SIGNING_ENABLED"),
		KeyID:                      viper.GetString("KEY_ID"),
		ApplianceTarget:            viper.GetString("APPLIANCE_TARGET"),
		ApplianceCert:              viper.GetString("APPLIANCE_CERT"),
		ApplianceKey:               viper.GetString("APPLIANCE_KEY"),
		ApplianceCACert:            viper.GetString("APPLIANCE_CA_CERT"),
		LocalSignerPriv:            viper.GetString("LOCAL_SIGNER_PRIV"),
		LocalApplianceVersion:      viper.GetInt("LOCAL_APPLIANCE_VERSION"),
		NewestFirst:                viper.GetBool("NEWEST_FIRST"),
		MinValidationConfirmations: viper.GetUint64("MIN_VALIDATION_CONFIRMATIONS"),
		MaxForwardSearch:           viper.GetUint64("MAX_FORWARD_SEARCH"),
		SignedCacheTTL:             viper.GetDuration("SIGNED_CACHE_TTL"),
		TickTimeout:                viper.GetDuration("TICK_TIMEOUT"),
		// btc side
		BtcRpcServer:   viper.GetString("BTC_RPC_SERVER"),
		BtcRpcPort:     viper.GetString("BTC_RPC_PORT"),
		BtcRpcUsername: viper.GetString("BTC_RPC_USERNAME"),
		BtcRpcPwd:      viper.GetString("BTC_RPC_PWD"),
		// http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}
}
