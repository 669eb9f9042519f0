package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// TextArchive keeps a copy of extracted article text in object storage,
// addressed by content hash so identical texts share one object.
type TextArchive struct {
	store  ObjectStorage
	prefix string
}

// NewTextArchive creates an archive writing under prefix.
func NewTextArchive(store ObjectStorage, prefix string) *TextArchive {
	return &TextArchive{store: store, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a content hash.
func (a *TextArchive) Key(contentHash string) string {
	shard := contentHash
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(a.prefix, shard, contentHash+".txt")
}

// Put uploads text unless an object for contentHash already exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - contentHash: hash of text, used as the object name.
//   - text: extracted article text.
// Returns:
//   - string: object key.
//   - error: non-nil if the existence check or upload fails.
func (a *TextArchive) Put(ctx context.Context, contentHash, text string) (string, error) {
	key := a.Key(contentHash)
	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return key, nil
	}
	if err := a.store.Upload(ctx, key, strings.NewReader(text), int64(len(text)), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return key, nil
}

// Get reads archived text back.
func (a *TextArchive) Get(ctx context.Context, key string) (string, error) {
	rc, err := a.store.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read archived text: %w", err)
	}
	return string(b), nil
}
