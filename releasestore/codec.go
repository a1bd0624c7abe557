package releasestore

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

const recordVersion = 1

var ErrCorruptRecord = errors.New("release index record is corrupt")

// record is the persisted form of the index. Entries are kept sorted by
// btc tx id so that the same index always encodes to the same bytes.
type record struct {
	Version       uint
	BestBlockHash []byte
	Entries       []recordEntry
}

type recordEntry struct {
	BtcTxID      [32]byte
	CreationTxID [32]byte
}

func encodeRecord(best *ethcommon.Hash, entries map[chainhash.Hash]ethcommon.Hash) ([]byte, error) {
	rec := record{
		Version: recordVersion,
		Entries: make([]recordEntry, 0, len(entries)),
	}
	if best != nil {
		rec.BestBlockHash = best.Bytes()
	}
	for btcTxID, creationTxID := range entries {
		rec.Entries = append(rec.Entries, recordEntry{
			BtcTxID:      btcTxID,
			CreationTxID: creationTxID,
		})
	}
	sort.Slice(rec.Entries, func(i, j int) bool {
		return bytes.Compare(rec.Entries[i].BtcTxID[:], rec.Entries[j].BtcTxID[:]) < 0
	})

	return rlp.EncodeToBytes(&rec)
}

// decodeRecord treats empty input as a fresh index.
func decodeRecord(b []byte) (*ethcommon.Hash, map[chainhash.Hash]ethcommon.Hash, error) {
	entries := make(map[chainhash.Hash]ethcommon.Hash)
	if len(b) == 0 {
		return nil, entries, nil
	}

	var rec record
	if err := rlp.DecodeBytes(b, &rec); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.Version != recordVersion {
		return nil, nil, fmt.Errorf("%w: unknown version %d", ErrCorruptRecord, rec.Version)
	}

	var best *ethcommon.Hash
	switch len(rec.BestBlockHash) {
	case 0:
	case ethcommon.HashLength:
		h := ethcommon.BytesToHash(rec.BestBlockHash)
		best = &h
	default:
		return nil, nil, fmt.Errorf("%w: best block hash has %d bytes", ErrCorruptRecord, len(rec.BestBlockHash))
	}

	for _, e := range rec.Entries {
		entries[e.BtcTxID] = e.CreationTxID
	}
	return best, entries, nil
}
