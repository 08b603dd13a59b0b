package domain

import (
	"context"
	"time"
)

// Signed URL expiries. Metadata URLs are longer-lived because metadata upload
// batches can be large.
const (
	ContentURLExpiry  = time.Hour
	MetadataURLExpiry = 24 * time.Hour
)

type SignedURLMethod string

const (
	SignedURLMethodGet    SignedURLMethod = "GET"
	SignedURLMethodPut    SignedURLMethod = "PUT"
	SignedURLMethodDelete SignedURLMethod = "DELETE"
)

// PresignItem is one URL to mint within a location. Key is the caller's
// correlation key (object key for content, metadata hash for metadata) so
// workers can map URLs back to local files without extra round trips.
type PresignItem struct {
	Key       string
	ObjectKey string
	Method    SignedURLMethod
	Expiry    time.Duration
}

// SignedObjectURL is one minted URL handed to a worker.
type SignedObjectURL struct {
	FolderID  string `json:"folderId"`
	ObjectKey string `json:"objectKey"`
	URL       string `json:"url"`
}

// ObjectPresigner mints presigned URLs against one storage location per
// call. Callers group items by folder so each distinct location is configured
// exactly once per batch.
type ObjectPresigner interface {
	PresignURLs(ctx context.Context, location StorageLocation, items []PresignItem) (map[string]string, error)
}
