package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresFolderRepository struct {
	pool *pgxpool.Pool
}

type PostgresFolderRepositoryDependencies struct {
	Pool *pgxpool.Pool
}

func NewPostgresFolderRepository(deps PostgresFolderRepositoryDependencies) domain.FolderRepository {
	return &PostgresFolderRepository{
		pool: deps.Pool,
	}
}

func (r *PostgresFolderRepository) GetFolder(ctx context.Context, id string) (domain.Folder, error) {
	var folder domain.Folder

	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, name,
			content_endpoint, content_region, content_bucket, content_prefix, content_access_key_id, content_secret_access_key,
			metadata_endpoint, metadata_region, metadata_bucket, metadata_prefix, metadata_access_key_id, metadata_secret_access_key,
			created_at, updated_at
		FROM folders WHERE id = $1`, id,
	).Scan(&folder.ID, &folder.OwnerUserID, &folder.Name,
		&folder.ContentLocation.Endpoint, &folder.ContentLocation.Region, &folder.ContentLocation.Bucket,
		&folder.ContentLocation.Prefix, &folder.ContentLocation.AccessKeyID, &folder.ContentLocation.SecretAccessKey,
		&folder.MetadataLocation.Endpoint, &folder.MetadataLocation.Region, &folder.MetadataLocation.Bucket,
		&folder.MetadataLocation.Prefix, &folder.MetadataLocation.AccessKeyID, &folder.MetadataLocation.SecretAccessKey,
		&folder.CreatedAt, &folder.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Folder{}, domain.NewOperationNotFoundError("folder", id)
	}
	if err != nil {
		return domain.Folder{}, fmt.Errorf("failed to get folder: %w", err)
	}

	return folder, nil
}

func (r *PostgresFolderRepository) GetFolderObject(ctx context.Context, folderID, objectKey string) (domain.FolderObject, error) {
	var object domain.FolderObject

	err := r.pool.QueryRow(ctx, `
		SELECT id, folder_id, object_key, size_bytes, hash, content_attributes, content_metadata, created_at, updated_at
		FROM folder_objects WHERE folder_id = $1 AND object_key = $2`, folderID, objectKey,
	).Scan(&object.ID, &object.FolderID, &object.ObjectKey, &object.SizeBytes, &object.Hash,
		&object.ContentAttributes, &object.ContentMetadata, &object.CreatedAt, &object.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FolderObject{}, domain.NewOperationNotFoundError("folder object", folderID+"/"+objectKey)
	}
	if err != nil {
		return domain.FolderObject{}, fmt.Errorf("failed to get folder object: %w", err)
	}

	return object, nil
}

// MergeObjectAttributes merges the hash-keyed attribute entry in place with
// jsonb concatenation, so entries under other hashes survive.
func (r *PostgresFolderRepository) MergeObjectAttributes(ctx context.Context, folderID, objectKey, hash string, attributes map[string]any) error {
	payload, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE folder_objects
		SET content_attributes = COALESCE(content_attributes, '{}'::jsonb) || jsonb_build_object($3::text, $4::jsonb),
			hash = $3,
			updated_at = now()
		WHERE folder_id = $1 AND object_key = $2`,
		folderID, objectKey, hash, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to merge object attributes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewOperationNotFoundError("folder object", folderID+"/"+objectKey)
	}

	return nil
}

func (r *PostgresFolderRepository) MergeObjectMetadata(ctx context.Context, folderID, objectKey, hash string, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE folder_objects
		SET content_metadata = COALESCE(content_metadata, '{}'::jsonb) || jsonb_build_object($3::text, $4::jsonb),
			hash = $3,
			updated_at = now()
		WHERE folder_id = $1 AND object_key = $2`,
		folderID, objectKey, hash, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to merge object metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewOperationNotFoundError("folder object", folderID+"/"+objectKey)
	}

	return nil
}
