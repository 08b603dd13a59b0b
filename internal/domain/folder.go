package domain

import (
	"context"
	"time"
)

// StorageLocation holds the credentials and addressing for one S3-compatible
// bucket. Each folder carries two: one for content, one for metadata.
type StorageLocation struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"-"`
}

// Key returns the location's identity for grouping presign work. Two folders
// sharing a bucket still group separately by credentials.
func (l StorageLocation) Key() string {
	return l.Endpoint + "|" + l.Region + "|" + l.Bucket + "|" + l.AccessKeyID
}

type Folder struct {
	ID               string          `json:"id"`
	OwnerUserID      string          `json:"ownerUserId"`
	Name             string          `json:"name"`
	ContentLocation  StorageLocation `json:"contentLocation"`
	MetadataLocation StorageLocation `json:"metadataLocation"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// FolderObject is one object in a folder. ContentAttributes and
// ContentMetadata are keyed by content hash; updates merge new hash keys in
// rather than replacing the map.
type FolderObject struct {
	ID                string                    `json:"id"`
	FolderID          string                    `json:"folderId"`
	ObjectKey         string                    `json:"objectKey"`
	SizeBytes         int64                     `json:"sizeBytes"`
	Hash              *string                   `json:"hash,omitempty"`
	ContentAttributes map[string]map[string]any `json:"contentAttributes"`
	ContentMetadata   map[string]map[string]any `json:"contentMetadata"`
	CreatedAt         time.Time                 `json:"createdAt"`
	UpdatedAt         time.Time                 `json:"updatedAt"`
}

type FolderRepository interface {
	GetFolder(ctx context.Context, id string) (Folder, error)
	GetFolderObject(ctx context.Context, folderID, objectKey string) (FolderObject, error)
	// MergeObjectAttributes merges the hash-keyed attribute entry and updates
	// the object's current hash.
	MergeObjectAttributes(ctx context.Context, folderID, objectKey, hash string, attributes map[string]any) error
	// MergeObjectMetadata merges the hash-keyed metadata entry without
	// touching other hash keys.
	MergeObjectMetadata(ctx context.Context, folderID, objectKey, hash string, metadata map[string]any) error
}
