package attestation

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

var (
	ErrReceiptsRootMismatch = errors.New("rebuilt receipts root does not match block header")
	ErrInvalidProof         = errors.New("receipt proof does not verify")
	ErrIndexOutOfRange      = errors.New("receipt index out of range")
)

// ReceiptProof shows that Receipt sits at Index in the receipts trie of the
// block whose header commits to ReceiptsRoot.
type ReceiptProof struct {
	BlockHash    ethcommon.Hash
	BlockNumber  uint64
	ReceiptsRoot ethcommon.Hash
	Index        uint64
	// consensus encoding of the receipt
	Receipt []byte
	// trie nodes from the root down to the receipt
	Nodes [][]byte
}

type proofList [][]byte

func (l *proofList) Put(key []byte, value []byte) error {
	*l = append(*l, value)
	return nil
}

func (l *proofList) Delete(key []byte) error {
	panic("not supported")
}

// BuildReceiptProof rebuilds the receipts trie of block and proves the
// receipt at index.
func BuildReceiptProof(block *types.Block, receipts types.Receipts, index int) (*ReceiptProof, error) {
	if index < 0 || index >= len(receipts) {
		return nil, ErrIndexOutOfRange
	}

	tr := trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
	var value []byte
	for i, r := range receipts {
		enc, err := r.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := tr.Update(rlp.AppendUint64(nil, uint64(i)), enc); err != nil {
			return nil, err
		}
		if i == index {
			value = enc
		}
	}

	if tr.Hash() != block.ReceiptHash() {
		return nil, fmt.Errorf("%w: block %d", ErrReceiptsRootMismatch, block.NumberU64())
	}

	var nodes proofList
	if err := tr.Prove(rlp.AppendUint64(nil, uint64(index)), &nodes); err != nil {
		return nil, err
	}

	return &ReceiptProof{
		BlockHash:    block.Hash(),
		BlockNumber:  block.NumberU64(),
		ReceiptsRoot: block.ReceiptHash(),
		Index:        uint64(index),
		Receipt:      value,
		Nodes:        nodes,
	}, nil
}

// Verify checks the proof against its receipts root and decodes the receipt.
func (p *ReceiptProof) Verify() (*types.Receipt, error) {
	db := memorydb.New()
	for _, node := range p.Nodes {
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return nil, err
		}
	}

	value, err := trie.VerifyProof(p.ReceiptsRoot, rlp.AppendUint64(nil, p.Index), db)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if value == nil || string(value) != string(p.Receipt) {
		return nil, ErrInvalidProof
	}

	receipt := new(types.Receipt)
	if err := receipt.UnmarshalBinary(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return receipt, nil
}

func (p *ReceiptProof) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(p)
}

func DecodeReceiptProof(b []byte) (*ReceiptProof, error) {
	p := new(ReceiptProof)
	if err := rlp.DecodeBytes(b, p); err != nil {
		return nil, err
	}
	return p, nil
}
