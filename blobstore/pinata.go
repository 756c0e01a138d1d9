package blobstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type PinataConfig struct {
	BaseURL   string
	JWT       string
	APIKey    string
	APISecret string
}

type pinJSONRequest struct {
	PinataMetadata pinataMetadata `json:"pinataMetadata"`
	PinataContent  any            `json:"pinataContent"`
}

type pinataMetadata struct {
	Name string `json:"name"`
}

type pinJSONResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

type pinataError struct {
	Error any `json:"error"`
}

// PinataStore pins JSON documents through the Pinata pinning API.
type PinataStore struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewPinataStore(cfg PinataConfig, logger *zap.Logger) (*PinataStore, error) {
	if cfg.JWT == "" && (cfg.APIKey == "" || cfg.APISecret == "") {
		return nil, fmt.Errorf("pinata credentials missing: set PINATA_JWT or PINATA_API_KEY and PINATA_SECRET_API_KEY")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.JWT != "" {
		client.SetAuthToken(cfg.JWT)
	} else {
		client.SetHeader("pinata_api_key", cfg.APIKey)
		client.SetHeader("pinata_secret_api_key", cfg.APISecret)
	}

	return &PinataStore{httpClient: client, logger: logger.Named("pinata")}, nil
}

func (s *PinataStore) Pin(ctx context.Context, name string, payload any) (string, error) {
	var out pinJSONResponse
	var apiErr pinataError

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(pinJSONRequest{
			PinataMetadata: pinataMetadata{Name: name},
			PinataContent:  payload,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/pinning/pinJSONToIPFS")
	if err != nil {
		s.logger.Error("pinata request failed", zap.String("name", name), zap.Error(err))
		return "", fmt.Errorf("failed to call pinata: %w", err)
	}
	if resp.IsError() {
		s.logger.Error("pinata returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.Any("error", apiErr.Error),
		)
		return "", fmt.Errorf("pinata error: status %d: %v", resp.StatusCode(), apiErr.Error)
	}
	if out.IpfsHash == "" {
		return "", ErrEmptyFingerprint
	}

	s.logger.Info("payload pinned", zap.String("name", name), zap.String("cid", out.IpfsHash), zap.Int64("size", out.PinSize))
	return out.IpfsHash, nil
}
