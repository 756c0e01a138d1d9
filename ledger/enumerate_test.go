package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerateAll_SkipsUnreadableIDs(t *testing.T) {
	client, contract := newTestClient(t)
	now := time.Now()
	contract.AddRecord(owner, owner, "bafy1", "General Record", now)
	contract.AddRecord(owner, owner, "bafy2", "General Record", now)
	contract.AddRecord(owner, owner, "bafy3", "General Record", now)
	contract.FailRecord(2, errors.New("execution reverted"))

	en := client.EnumerateAll(context.Background())

	assert.Equal(t, uint64(3), en.TotalCount)
	require.Len(t, en.Records, 2)
	assert.Equal(t, "bafy1", en.Records[0].ContentFingerprint)
	assert.Equal(t, "bafy3", en.Records[1].ContentFingerprint)
	require.Len(t, en.Skipped, 1)
	assert.Equal(t, uint64(2), en.Skipped[0].SequenceID)
	assert.Contains(t, en.Skipped[0].Reason, "execution reverted")
}

func TestEnumerateAll_UnknownCountIsEmpty(t *testing.T) {
	client, contract := newTestClient(t)
	contract.AddRecord(owner, owner, "bafy1", "General Record", time.Now())
	contract.FailCount(errors.New("timeout"))

	en := client.EnumerateAll(context.Background())
	assert.Equal(t, uint64(0), en.TotalCount)
	assert.Empty(t, en.Records)
	assert.Empty(t, en.Skipped)
}

func TestEnumerate_CancelledContextReportsRest(t *testing.T) {
	client, contract := newTestClient(t)
	contract.AddRecord(owner, owner, "bafy1", "General Record", time.Now())
	contract.AddRecord(owner, owner, "bafy2", "General Record", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	en := client.Enumerate(ctx, 1, 2)
	assert.Empty(t, en.Records)
	assert.Len(t, en.Skipped, 2)
}
