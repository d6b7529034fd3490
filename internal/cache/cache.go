// Package cache stores full payload-field bodies behind opaque handles so
// query responses stay small. Retrieval is paged; entries expire by TTL.
package cache

import (
	"fmt"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
	"github.com/jsbattig/code-indexer-sub032/internal/store"
)

// DefaultMaxFetchSize is the page size in bytes for paged retrieval.
const DefaultMaxFetchSize = 5000

// TruncatableFields are the payload fields subject to preview truncation.
var TruncatableFields = []string{store.KeyContent, store.KeyCodeSnippet, store.KeyMatchText}

// Page is one slice of a cached field body.
type Page struct {
	Content    string `json:"content"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
	HasMore    bool   `json:"has_more"`
}

// Cache is the payload cache capability. Memory and SQLite backends
// implement it.
type Cache interface {
	// Store saves content and returns an opaque handle.
	Store(content string) (string, error)

	// Retrieve returns the requested page of a cached body. Unknown or
	// expired handles fail with cache_expired.
	Retrieve(handle string, page int) (Page, error)

	// Clear drops every entry.
	Clear() error

	// Len reports the live entry count.
	Len() int

	// Close stops the evictor and releases resources.
	Close() error
}

// paginate slices content for Retrieve.
func paginate(content string, page, fetchSize int) (Page, error) {
	if fetchSize <= 0 {
		fetchSize = DefaultMaxFetchSize
	}
	totalPages := (len(content) + fetchSize - 1) / fetchSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 0 || page >= totalPages {
		return Page{}, ierr.InvalidInput(fmt.Sprintf("page %d out of range, total pages %d", page, totalPages))
	}

	start := page * fetchSize
	end := start + fetchSize
	if end > len(content) {
		end = len(content)
	}

	return Page{
		Content:    content[start:end],
		Page:       page,
		TotalPages: totalPages,
		HasMore:    end < len(content),
	}, nil
}

// TruncatePayload applies the preview rules in place: each listed field
// longer than previewSize is replaced by <f>_preview, <f>_cache_handle,
// <f>_has_more and <f>_total_size, with the full body cached under an
// independent handle. Returns the handles it created.
func TruncatePayload(c Cache, payload map[string]any, previewSize int, fields []string) ([]string, error) {
	if previewSize <= 0 || payload == nil {
		return nil, nil
	}
	if fields == nil {
		fields = TruncatableFields
	}

	var handles []string
	for _, f := range fields {
		v, ok := payload[f].(string)
		if !ok || len(v) <= previewSize {
			continue
		}

		handle, err := c.Store(v)
		if err != nil {
			return handles, err
		}
		handles = append(handles, handle)

		delete(payload, f)
		payload[f+"_preview"] = v[:previewSize]
		payload[f+"_cache_handle"] = handle
		payload[f+"_has_more"] = true
		payload[f+"_total_size"] = len(v)
	}
	return handles, nil
}
