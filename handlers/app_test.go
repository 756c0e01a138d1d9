package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jtrace-service/grants"
	"jtrace-service/ledger"
	"jtrace-service/ledger/ledgertest"
	"jtrace-service/models"
	"jtrace-service/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	walletA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type staticBlobStore struct{ cid string }

func (s staticBlobStore) Pin(ctx context.Context, name string, payload any) (string, error) {
	return s.cid, nil
}

type fixture struct {
	app      *fiber.App
	contract *ledgertest.Contract
	db       *gorm.DB
}

func newFixture(t *testing.T, cfg AppConfig) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Record{}, &models.RecordLine{}, &models.LedgerRecord{}))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	contract := ledgertest.NewContract()
	client, err := ledger.NewClient(contract, ledgertest.ContractAddress, ledger.Options{
		ConfirmTimeout: time.Second,
		PollInterval:   time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	log := zap.NewNop()
	audit := grants.NewAuditStream(rdb, "", log)
	users := services.NewUserService(db, log)
	records := services.NewRecordService(db, false, log)
	deps := Deps{
		Users:       users,
		Records:     records,
		Submissions: services.NewSubmissionService(users, records, staticBlobStore{cid: "bafy123"}, client, audit, log),
		Access: services.NewAccessService(client, grants.NewRedisStore(rdb), audit, services.AccessOptions{
			ReadTimeout:  200 * time.Millisecond,
			RetryBackoff: time.Millisecond,
		}, log),
		Ledger: client,
		DB:     db,
	}
	return fixture{app: NewApp(cfg, deps, log), contract: contract, db: db}
}

func (f fixture) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := f.app.Test(req, 5000)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)
	return resp.StatusCode, obj, raw
}

func TestHealth(t *testing.T) {
	f := newFixture(t, AppConfig{})
	status, _, raw := f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "running")
}

func TestUsers(t *testing.T) {
	f := newFixture(t, AppConfig{})

	status, body, _ := f.do(t, http.MethodPost, "/api/users", map[string]string{"wallet_address": "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"})
	require.Equal(t, http.StatusOK, status)
	user := body["user"].(map[string]any)
	assert.Equal(t, walletA, user["wallet_address"])

	status, body, _ = f.do(t, http.MethodPost, "/api/users", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["code"])

	status, body, _ = f.do(t, http.MethodPost, "/api/users", nil, "X-Wallet-Address", walletB)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, walletB, body["user"].(map[string]any)["wallet_address"])

	id := user["id"].(float64)
	status, body, _ = f.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", int(id)), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, walletA, body["user"].(map[string]any)["wallet_address"])

	status, body, _ = f.do(t, http.MethodGet, "/api/users/9999", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])

	status, _, _ = f.do(t, http.MethodGet, "/api/users/abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestJournal(t *testing.T) {
	f := newFixture(t, AppConfig{})
	_, body, _ := f.do(t, http.MethodPost, "/api/users", map[string]string{"wallet_address": walletA})
	userID := body["user"].(map[string]any)["id"].(float64)

	status, body, _ := f.do(t, http.MethodPost, "/api/journal", map[string]any{
		"owner_user_id": userID,
		"reference_no":  "JV-1",
		"lines": []map[string]any{
			{"code": "1000", "label": "Cash", "debit": "abc", "credit": 10},
		},
	})
	require.Equal(t, http.StatusOK, status)
	rec := body["record"].(map[string]any)
	lines := rec["lines"].([]any)
	require.Len(t, lines, 1)
	assert.Equal(t, "0", lines[0].(map[string]any)["debit"])
	assert.Equal(t, "10", lines[0].(map[string]any)["credit"])

	// Older clients send user_id, tx_hash and accounts.
	status, body, _ = f.do(t, http.MethodPost, "/api/journal", map[string]any{
		"user_id":  userID,
		"tx_hash":  "0xfeed",
		"accounts": []map[string]any{{"no": "2000", "name": "Payable", "debit": 0, "credit": "5.5"}},
	})
	require.Equal(t, http.StatusOK, status)
	rec = body["record"].(map[string]any)
	assert.Equal(t, "0xfeed", rec["ledger_tx_ref"])
	assert.Equal(t, "Payable", rec["lines"].([]any)[0].(map[string]any)["label"])

	status, _, _ = f.do(t, http.MethodPost, "/api/journal", map[string]any{"reference_no": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body, _ = f.do(t, http.MethodPost, "/api/journal", map[string]any{
		"owner_user_id": userID,
		"reference_no":  strings.Repeat("9", 200),
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["code"])

	status, body, _ = f.do(t, http.MethodPost, "/api/journal", map[string]any{"owner_user_id": 999})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])

	var list []map[string]any
	status, _, raw := f.do(t, http.MethodGet, "/api/journal_block", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "0xfeed", list[0]["ledger_tx_ref"], "newest first")

	status, _, raw = f.do(t, http.MethodGet, "/api/journal_block/42", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(raw))

	status, _, _ = f.do(t, http.MethodGet, "/api/journal_block/abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSubmitAndLedger(t *testing.T) {
	f := newFixture(t, AppConfig{})
	f.contract.QueueTxRefs("0xabc")

	status, body, _ := f.do(t, http.MethodPost, "/api/records/submit", map[string]any{
		"record": map[string]any{"patientName": "Jane", "visitDate": "2025-03-01"},
	}, "X-Wallet-Address", walletA)
	require.Equal(t, http.StatusOK, status)
	result := body["result"].(map[string]any)
	assert.Equal(t, "bafy123", result["fingerprint"])
	assert.Equal(t, "General Record", result["category"])
	assert.Equal(t, "0xabc", result["tx_ref"])

	status, body, _ = f.do(t, http.MethodGet, "/api/ledger/count", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total_count"])

	status, body, _ = f.do(t, http.MethodGet, "/api/ledger/records", nil)
	require.Equal(t, http.StatusOK, status)
	records := body["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "bafy123", records[0].(map[string]any)["content_fingerprint"])

	status, body, _ = f.do(t, http.MethodGet, "/api/ledger/records/1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, walletA, body["submitter"])

	status, _, _ = f.do(t, http.MethodGet, "/api/ledger/records/9", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _, _ = f.do(t, http.MethodGet, "/api/ledger/records/0", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body, _ = f.do(t, http.MethodGet, "/api/ledger/records?source=mirror", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["records"])
	status, _, _ = f.do(t, http.MethodGet, "/api/ledger/records/1?source=mirror", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSubmit_LedgerErrors(t *testing.T) {
	f := newFixture(t, AppConfig{})
	f.contract.RejectSends(errors.New("insufficient funds"))

	status, body, _ := f.do(t, http.MethodPost, "/api/records/submit", map[string]any{"wallet_address": walletA})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "ledger_submission", body["code"])

	f.contract.RejectSends(nil)
	f.contract.HoldReceipts()
	f.contract.QueueTxRefs("0xpending")
	status, body, _ = f.do(t, http.MethodPost, "/api/records/submit", map[string]any{"wallet_address": walletA})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "0xpending", body["tx_ref"])
}

func TestAccessRoutes(t *testing.T) {
	f := newFixture(t, AppConfig{})

	status, body, _ := f.do(t, http.MethodPost, "/api/access/grant",
		map[string]string{"owner": walletA, "delegate": walletB}, "X-Wallet-Address", walletB)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["code"])

	status, body, _ = f.do(t, http.MethodPost, "/api/access/grant",
		map[string]string{"delegate": walletB}, "X-Wallet-Address", walletA)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["grant"].(map[string]any)["granted"])
	assert.True(t, f.contract.Access(walletA, walletB))

	status, body, _ = f.do(t, http.MethodPost, "/api/access/reconcile",
		map[string]any{"owner": walletA, "delegates": []string{walletB}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, walletA, body["owner"])
	assert.Equal(t, map[string]any{walletB: true}, body["access"])

	status, _, _ = f.do(t, http.MethodPost, "/api/access/revoke",
		map[string]string{"owner": walletA, "delegate": walletB})
	require.Equal(t, http.StatusOK, status)

	status, body, _ = f.do(t, http.MethodGet, "/api/access/"+walletA, nil)
	require.Equal(t, http.StatusOK, status)
	entries := body["grants"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "revoked", entries[0].(map[string]any)["state"])

	status, _, _ = f.do(t, http.MethodPost, "/api/access/grant", map[string]string{"owner": walletA})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIToken(t *testing.T) {
	f := newFixture(t, AppConfig{APIToken: "s3cret"})

	status, _, _ := f.do(t, http.MethodGet, "/api/journal_block", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _, _ = f.do(t, http.MethodGet, "/api/journal_block", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, status)

	status, _, _ = f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, status, "health stays open")
}
