// Federator = ledger access + release index + signing appliance
// + signing orchestrator + btc broadcaster + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/attestation"
	"github.com/TEENet-io/pegout-federator/bridgeman"
	btcrpc "github.com/TEENet-io/pegout-federator/btcman/rpc"
	"github.com/TEENet-io/pegout-federator/common"
	"github.com/TEENet-io/pegout-federator/database"
	"github.com/TEENet-io/pegout-federator/federation"
	"github.com/TEENet-io/pegout-federator/ledgerwatch"
	"github.com/TEENet-io/pegout-federator/monitoring"
	"github.com/TEENet-io/pegout-federator/releaser"
	"github.com/TEENet-io/pegout-federator/releasestore"
	"github.com/TEENet-io/pegout-federator/releasesync"
	"github.com/TEENet-io/pegout-federator/reporter"
	"github.com/TEENet-io/pegout-federator/signedcache"
	"github.com/TEENet-io/pegout-federator/signers"
)

const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"

	// in-memory ledger for local runs, no node needed
	LedgerSim = "sim"
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type FederatorConfig struct {
	// ledger side
	LedgerRpcUrl       string // json rpc url, or "sim"
	LedgerChainID      int64  // 0 to ask the node
	BridgeContractAddr string
	SubmitterPriv      string // hex key of the account paying for submissions
	LedgerPollInterval time.Duration
	MaxReorgDepth      uint64

	// federations
	BtcChainConfig      *chaincfg.Params
	FederationPubKeys   []string // hex compressed keys
	FederationThreshold int
	RetiringPubKeys     []string // empty when no federation is retiring
	RetiringThreshold   int

	// release index
	StoreBackend     string // "file" or "sqlite"
	StorePath        string
	StoreFlushDelay  time.Duration
	StoreMaxDelays   int
	SyncPollInterval time.Duration
	MaxBacklogDepth  uint64

	// signing
	SigningEnabled             bool
	KeyID                      string
	ApplianceTarget            string // grpc target of the appliance, empty for a local key
	ApplianceCert              string // client TLS cert, empty for plaintext
	ApplianceKey               string
	ApplianceCACert            string
	LocalSignerPriv            string // hex key used when ApplianceTarget is empty
	LocalApplianceVersion      int
	NewestFirst                bool
	MinValidationConfirmations uint64
	MaxForwardSearch           uint64
	SignedCacheTTL             time.Duration
	TickTimeout                time.Duration

	// btc side
	BtcRpcServer   string
	BtcRpcPort     string
	BtcRpcUsername string
	BtcRpcPwd      string

	// http side
	HttpIp   string
	HttpPort string
}

// Federator holds the objects that make up the federator.
type Federator struct {
	Bridge      agreement.Bridge
	Chain       agreement.ChainReader
	SimLedger   *bridgeman.SimLedger // set when running on the in-memory ledger
	Resolver    *federation.Resolver
	Store       *releasestore.Store
	Signed      *signedcache.Cache
	Sync        *releasesync.Synchronizer
	Appliance   signers.Appliance
	Watcher     *ledgerwatch.Watcher
	Releaser    *releaser.Service
	Broadcaster agreement.Broadcaster
	Metrics     *monitoring.Metrics
	Reporter    *reporter.HttpReporter

	closers []func()
}

// NewFederator builds every component. Nothing runs until Run.
func NewFederator(ctx context.Context, fc *FederatorConfig) (*Federator, error) {
	f := &Federator{Metrics: monitoring.NewMetrics()}
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	// 1) ledger
	if err := f.setupLedger(fc); err != nil {
		return nil, fmt.Errorf("failed to set up ledger: %w", err)
	}
	parser := bridgeman.NewEventParser(ethcommon.HexToAddress(fc.BridgeContractAddr))

	// 2) federations
	resolver, err := setupResolver(fc)
	if err != nil {
		return nil, fmt.Errorf("failed to set up federations: %w", err)
	}
	f.Resolver = resolver

	// 3) release index and its synchronizer
	if err := f.setupStore(fc); err != nil {
		return nil, fmt.Errorf("failed to set up release index: %w", err)
	}
	f.Sync, err = releasesync.New(&releasesync.Config{
		PollInterval:    fc.SyncPollInterval,
		MaxBacklogDepth: fc.MaxBacklogDepth,
	}, f.Bridge, f.Chain, parser, f.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create release index synchronizer: %w", err)
	}

	f.Signed, err = signedcache.New(fc.SignedCacheTTL, 2*fc.SignedCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed cache: %w", err)
	}

	// 4) appliance
	if err := f.setupAppliance(fc); err != nil {
		return nil, fmt.Errorf("failed to set up signing appliance: %w", err)
	}
	enabled, err := f.isMember(ctx, fc)
	if err != nil {
		return nil, err
	}

	// 5) btc broadcaster
	if err := f.setupBroadcaster(fc); err != nil {
		return nil, fmt.Errorf("failed to set up btc broadcaster: %w", err)
	}

	// 6) watcher and orchestrator
	watchCfg := ledgerwatch.DefaultConfig()
	watchCfg.PollInterval = fc.LedgerPollInterval
	watchCfg.MaxReorgDepth = fc.MaxReorgDepth
	f.Watcher, err = ledgerwatch.New(watchCfg, f.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger watcher: %w", err)
	}

	f.Releaser, err = releaser.New(&releaser.Config{
		Enabled:                    enabled,
		KeyID:                      fc.KeyID,
		MinValidationConfirmations: fc.MinValidationConfirmations,
		NewestFirst:                fc.NewestFirst,
		TickTimeout:                fc.TickTimeout,
	}, &releaser.Params{
		Bridge:       f.Bridge,
		Resolver:     f.Resolver,
		Index:        f.Store,
		Signed:       f.Signed,
		Sync:         f.Sync,
		Attestations: attestation.NewReceiptProvider(f.Chain, parser, fc.MaxForwardSearch),
		Appliance:    f.Appliance,
		Broadcaster:  f.Broadcaster,
		Parser:       parser,
		Metrics:      f.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create releaser: %w", err)
	}

	// 7) http reporter
	if fc.HttpPort != "" {
		f.Reporter = reporter.NewHttpReporter(fc.HttpIp, fc.HttpPort, f.Store, f.Sync, f.Signed, f.Metrics.Registry)
	}

	ok = true
	return f, nil
}

func (f *Federator) setupLedger(fc *FederatorConfig) error {
	if fc.LedgerRpcUrl == LedgerSim {
		f.SimLedger = bridgeman.NewSimLedger(ethcommon.HexToAddress(fc.BridgeContractAddr))
		f.Bridge, f.Chain = f.SimLedger, f.SimLedger
		logger.Warn("running on the in-memory ledger")
		return nil
	}

	var chainID *big.Int
	if fc.LedgerChainID != 0 {
		chainID = big.NewInt(fc.LedgerChainID)
	}
	bm, err := bridgeman.NewBridgeman(&bridgeman.Config{
		URL:                   fc.LedgerRpcUrl,
		BridgeContractAddress: ethcommon.HexToAddress(fc.BridgeContractAddr),
		SubmitterPrivateKey:   fc.SubmitterPriv,
		ChainID:               chainID,
	})
	if err != nil {
		return err
	}
	logger.WithField("address", bm.BridgeAddress().Hex()).Info("Bridge contract address")
	f.Bridge, f.Chain = bm, bm
	return nil
}

func setupResolver(fc *FederatorConfig) (*federation.Resolver, error) {
	active, err := federation.NewFromHex("active", fc.FederationPubKeys, fc.FederationThreshold, fc.BtcChainConfig)
	if err != nil {
		return nil, err
	}
	logger.WithField("federation", active.String()).Info("active federation")

	var retiring *federation.Federation
	if len(fc.RetiringPubKeys) > 0 {
		retiring, err = federation.NewFromHex("retiring", fc.RetiringPubKeys, fc.RetiringThreshold, fc.BtcChainConfig)
		if err != nil {
			return nil, err
		}
		logger.WithField("federation", retiring.String()).Info("retiring federation")
	}

	return federation.NewResolver(active, retiring), nil
}

func (f *Federator) setupStore(fc *FederatorConfig) error {
	var backend releasestore.Backend
	switch fc.StoreBackend {
	case StoreBackendSQLite:
		db, err := database.OpenSQLite(fc.StorePath)
		if err != nil {
			return err
		}
		sb, err := releasestore.NewSQLiteBackend(db)
		if err != nil {
			db.Close()
			return err
		}
		f.closers = append(f.closers, func() {
			sb.Close()
			db.Close()
		})
		backend = sb
	case StoreBackendFile, "":
		fb, err := releasestore.NewFileBackend(fc.StorePath)
		if err != nil {
			return err
		}
		logger.WithField("path", fb.Path()).Info("release index file")
		backend = fb
	default:
		return fmt.Errorf("unknown store backend %q", fc.StoreBackend)
	}

	store, err := releasestore.New(backend, &releasestore.Config{
		FlushDelay: fc.StoreFlushDelay,
		MaxDelays:  fc.StoreMaxDelays,
	})
	if err != nil {
		return err
	}
	// the store flushes before its backend goes away
	f.closers = append([]func(){func() {
		if err := store.Close(); err != nil {
			logger.WithField("err", err).Error("failed to flush release index")
		}
	}}, f.closers...)
	f.Store = store
	return nil
}

func (f *Federator) setupAppliance(fc *FederatorConfig) error {
	if fc.ApplianceTarget != "" {
		var opts []grpc.DialOption
		if fc.ApplianceCert != "" {
			opt, err := signers.WithClientTLS(fc.ApplianceCert, fc.ApplianceKey, fc.ApplianceCACert)
			if err != nil {
				return err
			}
			opts = append(opts, opt)
		}

		remote, err := signers.DialRemoteAppliance(fc.ApplianceTarget, opts...)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, func() { remote.Close() })
		f.Appliance = remote
		return nil
	}

	local, err := NewLocalAppliance(fc.LocalApplianceVersion, fc.KeyID, fc.LocalSignerPriv)
	if err != nil {
		return err
	}
	logger.Warn("signing with a local key")
	f.Appliance = local
	return nil
}

// isMember keeps signing off for nodes outside every federation.
func (f *Federator) isMember(ctx context.Context, fc *FederatorConfig) (bool, error) {
	if !fc.SigningEnabled {
		return false, nil
	}

	pubKey, err := f.Appliance.PublicKey(ctx, fc.KeyID)
	if err != nil {
		return false, fmt.Errorf("failed to get public key from appliance: %w", err)
	}
	short := common.Shorten(common.ByteSliceToPureHexStr(pubKey.SerializeCompressed()), 8)

	for _, fed := range f.Resolver.Federations() {
		if fed.IsMember(pubKey) {
			logger.WithFields(logger.Fields{
				"pubKey":     short,
				"federation": fed.Name,
			}).Info("federation member, signing enabled")
			return true, nil
		}
	}

	logger.WithField("pubKey", short).Warn("not a federation member, signing disabled")
	return false, nil
}

func (f *Federator) setupBroadcaster(fc *FederatorConfig) error {
	if fc.BtcRpcServer == "" {
		logger.Warn("no btc node configured, released txs are only logged")
		f.Broadcaster = logBroadcaster{}
		return nil
	}

	client, err := btcrpc.NewRpcClient(&btcrpc.RpcClientConfig{
		ServerAddr: fc.BtcRpcServer,
		Port:       fc.BtcRpcPort,
		Username:   fc.BtcRpcUsername,
		Pwd:        fc.BtcRpcPwd,
	})
	if err != nil {
		return fmt.Errorf("failed to create btc rpc client for %s:%s: %w", fc.BtcRpcServer, fc.BtcRpcPort, err)
	}
	logger.WithField("node", fc.BtcRpcServer+":"+fc.BtcRpcPort).Info("broadcasting released txs to btc node")
	f.closers = append(f.closers, client.Close)
	f.Broadcaster = client
	return nil
}

// Run starts every loop and blocks until ctx is done or one of them fails.
func (f *Federator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return f.Watcher.Loop(gctx) })
	g.Go(func() error { return f.Sync.Sync(gctx) })
	g.Go(func() error { return f.Releaser.Loop(gctx, f.Watcher.BestBlocks(), f.Watcher.Blocks()) })
	if f.Reporter != nil {
		g.Go(func() error { return f.Reporter.Run(gctx) })
	}
	if f.SimLedger != nil {
		g.Go(func() error { return mineSimBlocks(gctx, f.SimLedger) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the index, the appliance and the btc client.
func (f *Federator) Close() {
	for _, c := range f.closers {
		c()
	}
	f.closers = nil
}

// Create, then start the federator and wait.
// Press Ctrl-C to stop it.
func StartFederatorAndWait(fc *FederatorConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := NewFederator(ctx, fc)
	if err != nil {
		return err
	}
	defer f.Close()

	logger.Info("federator started")
	err = f.Run(ctx)
	logger.Info("federator stopped")
	return err
}

// NewLocalAppliance builds an appliance over a hex private key.
func NewLocalAppliance(version int, keyID string, privHex string) (*signers.LocalAppliance, error) {
	raw := common.HexStrToByteSlice(privHex)
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return signers.NewLocalAppliance(version, map[string]*btcec.PrivateKey{keyID: priv})
}

type logBroadcaster struct{}

func (logBroadcaster) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	logger.WithField("btcTxId", tx.TxHash().String()).Info("released btc tx, no node to broadcast to")
	return nil
}

func mineSimBlocks(ctx context.Context, sl *bridgeman.SimLedger) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sl.AddBlocks(1)
		}
	}
}
