package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresAppRepository struct {
	pool *pgxpool.Pool
}

type PostgresAppRepositoryDependencies struct {
	Pool *pgxpool.Pool
}

func NewPostgresAppRepository(deps PostgresAppRepositoryDependencies) domain.AppRepository {
	return &PostgresAppRepository{
		pool: deps.Pool,
	}
}

func (r *PostgresAppRepository) GetApp(ctx context.Context, identifier string) (domain.App, error) {
	var app domain.App

	err := r.pool.QueryRow(ctx, `
		SELECT identifier, label, registration_order, manifest
		FROM apps WHERE identifier = $1`, identifier,
	).Scan(&app.Identifier, &app.Label, &app.RegistrationOrder, &app.Manifest)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.App{}, domain.NewOperationNotFoundError("app", identifier)
	}
	if err != nil {
		return domain.App{}, fmt.Errorf("failed to get app: %w", err)
	}

	return app, nil
}

func (r *PostgresAppRepository) ListApps(ctx context.Context) ([]domain.App, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identifier, label, registration_order, manifest
		FROM apps ORDER BY registration_order`)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	return scanApps(rows)
}

func (r *PostgresAppRepository) ListSubscribedApps(ctx context.Context, eventKey string) ([]domain.App, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identifier, label, registration_order, manifest
		FROM apps
		WHERE manifest->'subscribedEvents' ? $1
		ORDER BY registration_order`, eventKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed apps: %w", err)
	}
	defer rows.Close()

	return scanApps(rows)
}

func scanApps(rows pgx.Rows) ([]domain.App, error) {
	var apps []domain.App
	for rows.Next() {
		var app domain.App
		if err := rows.Scan(&app.Identifier, &app.Label, &app.RegistrationOrder, &app.Manifest); err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, app)
	}

	return apps, rows.Err()
}
