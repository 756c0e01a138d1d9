// Package ledger anchors record fingerprints in the record registry contract
// and reads anchored records and access grants back from it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"jtrace-service/fault"
	"jtrace-service/models"
	"jtrace-service/utils"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultCategory is used when a record is anchored without a category.
const DefaultCategory = "General Record"

var errEmptyResult = errors.New("ledger returned an empty result")

// ErrThrottled is returned by reads refused by the local read limiter
// because the caller's deadline would pass before a slot frees up. The
// ledger was never asked.
var ErrThrottled = errors.New("ledger read throttled")

type Options struct {
	// ConfirmTimeout bounds a confirmation wait when the caller's context
	// carries no deadline.
	ConfirmTimeout time.Duration
	// PollInterval is the first receipt poll delay; it doubles up to 8x.
	PollInterval time.Duration
	// ReadsPerSecond throttles contract reads. Zero disables throttling.
	ReadsPerSecond float64
}

type Client struct {
	transport Transport
	contract  common.Address
	opts      Options
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func NewClient(transport Transport, contractAddress string, opts Options, logger *zap.Logger) (*Client, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid ledger contract address %q", contractAddress)
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.ReadsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ReadsPerSecond), int(opts.ReadsPerSecond)+1)
	}
	return &Client{
		transport: transport,
		contract:  common.HexToAddress(contractAddress),
		opts:      opts,
		limiter:   limiter,
		logger:    logger.Named("ledger"),
	}, nil
}

// Anchor submits a content fingerprint from the given account and blocks
// until the ledger confirms inclusion or ctx (or the default confirmation
// timeout) expires.
func (c *Client) Anchor(ctx context.Context, from, fingerprint, category string) (string, error) {
	sender, err := parseAddress("submitter", from)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(fingerprint) == "" {
		return "", fault.ValidationError("content fingerprint is required")
	}
	if strings.TrimSpace(category) == "" {
		category = DefaultCategory
	}
	return c.submit(ctx, sender, methodAddRecord, fingerprint, category)
}

// GrantAccess submits grantAccess(delegate) on behalf of owner.
func (c *Client) GrantAccess(ctx context.Context, owner, delegate string) (string, error) {
	return c.submitAccess(ctx, methodGrantAccess, owner, delegate)
}

// RevokeAccess submits revokeAccess(delegate) on behalf of owner.
func (c *Client) RevokeAccess(ctx context.Context, owner, delegate string) (string, error) {
	return c.submitAccess(ctx, methodRevokeAccess, owner, delegate)
}

func (c *Client) submitAccess(ctx context.Context, method, owner, delegate string) (string, error) {
	from, err := parseAddress("owner", owner)
	if err != nil {
		return "", err
	}
	to, err := parseAddress("delegate", delegate)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, from, method, to)
}

// AccessGranted reads the current grant flag for (owner, delegate).
func (c *Client) AccessGranted(ctx context.Context, owner, delegate string) (bool, error) {
	o, err := parseAddress("owner", owner)
	if err != nil {
		return false, err
	}
	d, err := parseAddress("delegate", delegate)
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, methodAccessGranted, o, d)
	if err != nil {
		return false, err
	}
	granted, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("accessGranted: unexpected result type %T", out[0])
	}
	return granted, nil
}

// ReadTotalCount returns the number of anchored records. The count may lag
// the chain; an unreadable count is reported as zero.
func (c *Client) ReadTotalCount(ctx context.Context) uint64 {
	out, err := c.call(ctx, methodRecordCount)
	if err != nil {
		c.logger.Warn("record count unavailable, treating as zero", zap.Error(err))
		return 0
	}
	n, ok := out[0].(*big.Int)
	if !ok || n == nil || n.Sign() < 0 || !n.IsUint64() {
		c.logger.Warn("record count has unexpected shape, treating as zero", zap.Any("value", out[0]))
		return 0
	}
	return n.Uint64()
}

// ReadRecord fetches one anchored record by its 1-based sequence id.
func (c *Client) ReadRecord(ctx context.Context, seq uint64) (*models.LedgerRecord, error) {
	if seq == 0 {
		return nil, fault.ValidationError("sequence id must be 1 or greater")
	}
	out, err := c.call(ctx, methodGetRecord, new(big.Int).SetUint64(seq))
	if err != nil {
		return nil, fmt.Errorf("getRecord(%d): %w", seq, err)
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("getRecord(%d): expected 6 values, got %d", seq, len(out))
	}

	id, _ := out[0].(*big.Int)
	subject, _ := out[1].(common.Address)
	submitter, _ := out[2].(common.Address)
	fingerprint, _ := out[3].(string)
	recordType, _ := out[4].(string)
	ts, _ := out[5].(*big.Int)

	// Unset mapping slots come back zeroed.
	if id == nil || id.Sign() == 0 {
		return nil, fault.NotFoundError("ledger record %d not found", seq)
	}

	rec := &models.LedgerRecord{
		SequenceID:         id.Uint64(),
		Subject:            strings.ToLower(subject.Hex()),
		Submitter:          strings.ToLower(submitter.Hex()),
		ContentFingerprint: fingerprint,
		RecordType:         recordType,
	}
	if ts != nil && ts.IsInt64() {
		rec.Timestamp = time.Unix(ts.Int64(), 0).UTC()
	}
	return rec, nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", method, ErrThrottled)
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	raw, err := c.transport.Call(ctx, c.contract, data)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errEmptyResult
	}
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, errEmptyResult
	}
	return out, nil
}

func (c *Client) submit(ctx context.Context, from common.Address, method string, args ...any) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConfirmTimeout)
		defer cancel()
	}

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return "", fault.LedgerSubmissionError("", err, "malformed %s arguments", method)
	}

	txRef, err := c.transport.Send(ctx, from, c.contract, data)
	if err != nil {
		if ctx.Err() != nil {
			// The request may have reached the node before the deadline.
			return "", fault.LedgerTimeoutError("", err)
		}
		return "", fault.LedgerSubmissionError("", err, "%s rejected by ledger", method)
	}

	c.logger.Info("transaction submitted",
		zap.String("method", method),
		zap.String("from", strings.ToLower(from.Hex())),
		zap.String("tx_ref", txRef),
	)

	if err := c.waitConfirmed(ctx, method, txRef); err != nil {
		return txRef, err
	}
	return txRef, nil
}

func (c *Client) waitConfirmed(ctx context.Context, method, txRef string) error {
	delay := c.opts.PollInterval
	maxDelay := 8 * c.opts.PollInterval

	for {
		receipt, err := c.transport.Receipt(ctx, txRef)
		switch {
		case err != nil && ctx.Err() != nil:
			return fault.LedgerTimeoutError(txRef, ctx.Err())
		case err != nil:
			c.logger.Debug("receipt lookup failed, retrying", zap.String("tx_ref", txRef), zap.Error(err))
		case receipt != nil && !receipt.Success:
			return fault.LedgerSubmissionError(txRef, nil, "%s reverted in block %d", method, receipt.BlockNumber)
		case receipt != nil:
			c.logger.Info("transaction confirmed",
				zap.String("method", method),
				zap.String("tx_ref", txRef),
				zap.Uint64("block", receipt.BlockNumber),
			)
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Warn("confirmation wait abandoned", zap.String("tx_ref", txRef), zap.Error(ctx.Err()))
			return fault.LedgerTimeoutError(txRef, ctx.Err())
		case <-timer.C:
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
}

func parseAddress(field, raw string) (common.Address, error) {
	addr, ok := utils.NormalizeAddress(raw)
	if !ok {
		if addr == "" {
			return common.Address{}, fault.ValidationError("%s address is required", field)
		}
		return common.Address{}, fault.ValidationError("%s address %q is not a valid wallet address", field, raw)
	}
	return common.HexToAddress(addr), nil
}
