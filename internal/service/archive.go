package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/tejasbhor/Civiclens/internal/storage"
)

// RunArchiver stores clustering run summaries as JSON objects.
type RunArchiver struct {
	store  storage.ObjectStorage
	prefix string
}

// NewRunArchiver creates a RunArchiver writing under prefix.
func NewRunArchiver(store storage.ObjectStorage, prefix string) *RunArchiver {
	return &RunArchiver{store: store, prefix: prefix}
}

// Key returns the object key for a run.
func (a *RunArchiver) Key(runID string) string {
	return path.Join(a.prefix, runID+".json")
}

// Archive uploads the run summary and returns its URL.
func (a *RunArchiver) Archive(ctx context.Context, result *RunResult) (string, error) {
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run summary: %w", err)
	}
	key := a.Key(result.RunID)
	if err := a.store.PutObject(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return "", err
	}
	return a.store.ObjectURL(key), nil
}

// Load reads an archived run summary.
func (a *RunArchiver) Load(ctx context.Context, runID string) (*RunResult, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, ErrRunNotFound
	}
	rc, err := a.store.GetObject(ctx, a.Key(runID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	defer rc.Close()

	var result RunResult
	if err := json.NewDecoder(rc).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode run summary: %w", err)
	}
	return &result, nil
}
