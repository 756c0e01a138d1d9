package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Receipt is the confirmation of an included transaction.
type Receipt struct {
	Success     bool
	BlockNumber uint64
}

// Transport is the ledger collaborator: a read path, a write path and a way
// to observe confirmation of what was written.
type Transport interface {
	// Call runs a read-only contract call and returns the raw return data.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// Send submits a transaction from the given account and returns its reference.
	Send(ctx context.Context, from, to common.Address, data []byte) (string, error)
	// Receipt returns nil without error while the transaction is pending.
	Receipt(ctx context.Context, txRef string) (*Receipt, error)
}

// RPCTransport talks JSON-RPC to an Ethereum node. Transactions go through
// eth_sendTransaction, so the node (or the signer behind it) holds the keys.
type RPCTransport struct {
	eth *ethclient.Client
}

func DialRPC(ctx context.Context, url string) (*RPCTransport, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc: %w", err)
	}
	return &RPCTransport{eth: eth}, nil
}

func (t *RPCTransport) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return t.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (t *RPCTransport) Send(ctx context.Context, from, to common.Address, data []byte) (string, error) {
	var hash common.Hash
	args := map[string]any{
		"from": from,
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	if err := t.eth.Client().CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

func (t *RPCTransport) Receipt(ctx context.Context, txRef string) (*Receipt, error) {
	r, err := t.eth.TransactionReceipt(ctx, common.HexToHash(txRef))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := &Receipt{Success: r.Status == types.ReceiptStatusSuccessful}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out, nil
}

func (t *RPCTransport) Close() {
	t.eth.Close()
}
