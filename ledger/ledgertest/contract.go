// Package ledgertest provides an in-memory record registry contract that
// satisfies ledger.Transport, with hooks to inject read and write failures.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"jtrace-service/ledger"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractAddress is a fixed address tests can pass to ledger.NewClient.
const ContractAddress = "0x7c162430f7d622a485d095f5c1ca87f38e0c7e70"

type record struct {
	subject     common.Address
	submitter   common.Address
	fingerprint string
	recordType  string
	timestamp   time.Time
}

type accessKey struct {
	owner    common.Address
	delegate common.Address
}

// Send is one transaction the contract received.
type Send struct {
	TxRef  string
	From   string
	Method string
}

type Contract struct {
	abi abi.ABI

	mu       sync.Mutex
	records  []record
	access   map[accessKey]bool
	receipts map[string]*ledger.Receipt
	txSeq    int
	txRefs   []string
	sends    []Send
	now      func() time.Time

	countErr     error
	recordErrs   map[uint64]error
	accessErrs   map[common.Address]error
	accessDelays map[common.Address]time.Duration
	sendErr      error
	revertNext   bool
	holdReceipts bool
}

func NewContract() *Contract {
	return &Contract{
		abi:          ledger.ContractABI(),
		access:       map[accessKey]bool{},
		receipts:     map[string]*ledger.Receipt{},
		now:          time.Now,
		recordErrs:   map[uint64]error{},
		accessErrs:   map[common.Address]error{},
		accessDelays: map[common.Address]time.Duration{},
	}
}

// AddRecord appends an anchored record directly, bypassing Send.
func (c *Contract) AddRecord(subject, submitter, fingerprint, recordType string, at time.Time) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record{
		subject:     common.HexToAddress(subject),
		submitter:   common.HexToAddress(submitter),
		fingerprint: fingerprint,
		recordType:  recordType,
		timestamp:   at,
	})
	return uint64(len(c.records))
}

// SetAccess sets the on-chain grant flag for (owner, delegate) directly.
func (c *Contract) SetAccess(owner, delegate string, granted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access[accessKey{common.HexToAddress(owner), common.HexToAddress(delegate)}] = granted
}

func (c *Contract) Access(owner, delegate string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access[accessKey{common.HexToAddress(owner), common.HexToAddress(delegate)}]
}

// FailCount makes recordCount fail with err (nil clears it).
func (c *Contract) FailCount(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countErr = err
}

// FailRecord makes getRecord(seq) fail with err.
func (c *Contract) FailRecord(seq uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordErrs[seq] = err
}

// FailAccess makes accessGranted reads for delegate fail with err.
func (c *Contract) FailAccess(delegate string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.accessErrs, common.HexToAddress(delegate))
		return
	}
	c.accessErrs[common.HexToAddress(delegate)] = err
}

// DelayAccess makes accessGranted reads for delegate block for d or until
// the caller's context ends.
func (c *Contract) DelayAccess(delegate string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessDelays[common.HexToAddress(delegate)] = d
}

// RejectSends makes every Send fail with err (nil clears it).
func (c *Contract) RejectSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// RevertNext makes the next accepted transaction confirm with a failed status.
func (c *Contract) RevertNext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revertNext = true
}

// HoldReceipts keeps every later transaction pending; its effects are never applied.
func (c *Contract) HoldReceipts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdReceipts = true
}

// QueueTxRefs sets the references handed out by the next sends, in order.
func (c *Contract) QueueTxRefs(refs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txRefs = append(c.txRefs, refs...)
}

func (c *Contract) Sends() []Send {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Send(nil), c.sends...)
}

func (c *Contract) RecordCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Contract) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	method, args, err := c.decode(data)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "recordCount":
		c.mu.Lock()
		n, cerr := len(c.records), c.countErr
		c.mu.Unlock()
		if cerr != nil {
			return nil, cerr
		}
		return method.Outputs.Pack(big.NewInt(int64(n)))

	case "getRecord":
		seq := args[0].(*big.Int).Uint64()
		c.mu.Lock()
		rerr := c.recordErrs[seq]
		var rec record
		found := seq >= 1 && seq <= uint64(len(c.records))
		if found {
			rec = c.records[seq-1]
		}
		c.mu.Unlock()
		if rerr != nil {
			return nil, rerr
		}
		if !found {
			return method.Outputs.Pack(big.NewInt(0), common.Address{}, common.Address{}, "", "", big.NewInt(0))
		}
		return method.Outputs.Pack(
			new(big.Int).SetUint64(seq),
			rec.subject,
			rec.submitter,
			rec.fingerprint,
			rec.recordType,
			big.NewInt(rec.timestamp.Unix()),
		)

	case "accessGranted":
		owner := args[0].(common.Address)
		delegate := args[1].(common.Address)
		c.mu.Lock()
		delay, aerr := c.accessDelays[delegate], c.accessErrs[delegate]
		granted := c.access[accessKey{owner, delegate}]
		c.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if aerr != nil {
			return nil, aerr
		}
		return method.Outputs.Pack(granted)
	}
	return nil, fmt.Errorf("ledgertest: %s is not a view method", method.Name)
}

func (c *Contract) Send(ctx context.Context, from, to common.Address, data []byte) (string, error) {
	method, args, err := c.decode(data)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return "", c.sendErr
	}

	txRef := c.nextTxRef()
	c.sends = append(c.sends, Send{TxRef: txRef, From: strings.ToLower(from.Hex()), Method: method.Name})

	if c.revertNext {
		c.revertNext = false
		c.receipts[txRef] = &ledger.Receipt{Success: false, BlockNumber: uint64(c.txSeq)}
		return txRef, nil
	}
	if c.holdReceipts {
		return txRef, nil
	}

	switch method.Name {
	case "addRecord":
		c.records = append(c.records, record{
			subject:     from,
			submitter:   from,
			fingerprint: args[0].(string),
			recordType:  args[1].(string),
			timestamp:   c.now(),
		})
	case "grantAccess":
		c.access[accessKey{from, args[0].(common.Address)}] = true
	case "revokeAccess":
		c.access[accessKey{from, args[0].(common.Address)}] = false
	default:
		return "", fmt.Errorf("ledgertest: %s is not a transaction method", method.Name)
	}
	c.receipts[txRef] = &ledger.Receipt{Success: true, BlockNumber: uint64(c.txSeq)}
	return txRef, nil
}

func (c *Contract) Receipt(ctx context.Context, txRef string) (*ledger.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[txRef], nil
}

func (c *Contract) nextTxRef() string {
	c.txSeq++
	if len(c.txRefs) > 0 {
		ref := c.txRefs[0]
		c.txRefs = c.txRefs[1:]
		return ref
	}
	return fmt.Sprintf("0x%064x", c.txSeq)
}

func (c *Contract) decode(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("ledgertest: call data too short")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}
