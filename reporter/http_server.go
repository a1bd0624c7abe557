// This is a http type of reporter.
// It reads the federator's internal state
// and publishes it on http routes.

package reporter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
)

const (
	ROUTE_HELLO   = "/hello"
	ROUTE_STATUS  = "/status"
	ROUTE_RELEASE = "/release"
	ROUTE_METRICS = "/metrics"
)

type ReleaseIndex interface {
	Get(btcTxID chainhash.Hash) (ethcommon.Hash, bool)
	BestBlockHash() (ethcommon.Hash, bool)
	Len() int
}

type SyncStatus interface {
	IsSynced() bool
}

type SignedCache interface {
	Len() int
}

type Status struct {
	Synced     bool   `json:"synced"`
	Checkpoint string `json:"checkpoint,omitempty"`
	Indexed    int    `json:"indexed"`
	Signed     int    `json:"signed"`
}

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	index    ReleaseIndex
	sync     SyncStatus
	signed   SignedCache
	registry prometheus.Gatherer
}

func NewHttpReporter(
	serverIP string,
	serverPort string,
	index ReleaseIndex,
	sync SyncStatus,
	signed SignedCache,
	registry prometheus.Gatherer,
) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		index:      index,
		sync:       sync,
		signed:     signed,
		registry:   registry,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_STATUS, h.Status)
	router.GET(ROUTE_RELEASE, h.Release)
	if h.registry != nil {
		router.GET(ROUTE_METRICS, gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))
	}

	return router
}

// Run serves until ctx is done.
func (h *HttpReporter) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.serverIP + ":" + h.serverPort,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("http reporter listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// Example route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

func (h *HttpReporter) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

func (h *HttpReporter) status() *Status {
	st := &Status{}
	if h.sync != nil {
		st.Synced = h.sync.IsSynced()
	}
	if h.index != nil {
		st.Indexed = h.index.Len()
		if hash, ok := h.index.BestBlockHash(); ok {
			st.Checkpoint = hash.Hex()
		}
	}
	if h.signed != nil {
		st.Signed = h.signed.Len()
	}
	return st
}

// Release maps a btc tx id to the ledger tx that requested it.
func (h *HttpReporter) Release(c *gin.Context) {
	btcTxID := c.Query("btc_tx_id")
	if btcTxID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "btc_tx_id must be provided"})
		return
	}

	hash, err := chainhash.NewHashFromStr(btcTxID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.index == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no release index"})
		return
	}

	creation, ok := h.index.Get(*hash)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No release found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"btc_tx_id":      hash.String(),
		"creation_tx_id": creation.Hex(),
	}})
}
