// Package blobstore pins JSON payloads to a content-addressed store and
// returns the content identifier used as the record fingerprint.
package blobstore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

var ErrEmptyFingerprint = errors.New("blob store returned an empty content identifier")

// Store is the blob store collaborator.
type Store interface {
	// Pin stores payload under a human-readable name and returns its
	// content identifier.
	Pin(ctx context.Context, name string, payload any) (string, error)
}

// PinName builds the metadata name for a pinned record, e.g.
// "record-jane-doe-2025-03-01". An empty result falls back to a random id.
func PinName(parts ...string) string {
	name := slug.Make(strings.Join(append([]string{"record"}, parts...), " "))
	if name == "" || name == "record" {
		return "record-" + uuid.NewString()
	}
	return name
}
