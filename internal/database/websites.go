// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/tomtom215/sitepulse/internal/metrics"
	"github.com/tomtom215/sitepulse/internal/models"
)

var websiteColumns = []string{"id", "owner_id", "name", "url", "domain", "api_key", "is_active", "created_at"}

func scanWebsite(row rowScanner) (*models.Website, error) {
	var w models.Website
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.URL, &w.Domain, &w.APIKey, &w.IsActive, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	return &w, nil
}

// CreateWebsite inserts a website, assigning an ID and creation time when unset.
func (s *SQLStore) CreateWebsite(ctx context.Context, w *models.Website) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
	}

	q, args, err := s.sb.Insert("websites").
		Columns(websiteColumns...).
		Values(w.ID, w.OwnerID, w.Name, w.URL, w.Domain, w.APIKey, w.IsActive, w.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("inserting website: %w", err)
	}
	return nil
}

// Website returns a website by ID.
func (s *SQLStore) Website(ctx context.Context, id string) (*models.Website, error) {
	return s.websiteWhere(ctx, sq.Eq{"id": id})
}

// WebsiteByAPIKey returns the website owning apiKey, active or not.
func (s *SQLStore) WebsiteByAPIKey(ctx context.Context, apiKey string) (w *models.Website, err error) {
	start := time.Now()
	defer func() {
		opErr := err
		if errors.Is(opErr, ErrWebsiteNotFound) {
			opErr = nil
		}
		metrics.RecordStoreOp(s.dialect.Name, "website_by_key", time.Since(start), opErr)
	}()
	return s.websiteWhere(ctx, sq.Eq{"api_key": apiKey})
}

func (s *SQLStore) websiteWhere(ctx context.Context, pred sq.Sqlizer) (*models.Website, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	q, args, err := s.sb.Select(websiteColumns...).From("websites").Where(pred).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building website query: %w", err)
	}
	w, err := scanWebsite(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWebsiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying website: %w", err)
	}
	return w, nil
}

// ListWebsites returns the websites of an owner, oldest first. An empty
// ownerID lists every website.
func (s *SQLStore) ListWebsites(ctx context.Context, ownerID string) ([]models.Website, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	qb := s.sb.Select(websiteColumns...).From("websites").OrderBy("created_at ASC", "id ASC")
	if ownerID != "" {
		qb = qb.Where(sq.Eq{"owner_id": ownerID})
	}
	q, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying websites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Website{}
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning website: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// UpdateWebsite saves the mutable fields of w.
func (s *SQLStore) UpdateWebsite(ctx context.Context, w *models.Website) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	q, args, err := s.sb.Update("websites").
		Set("name", w.Name).
		Set("url", w.URL).
		Set("domain", w.Domain).
		Set("is_active", w.IsActive).
		Where(sq.Eq{"id": w.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}
	return s.execOne(ctx, q, args, "updating website")
}

// RotateAPIKey replaces the API key of a website.
func (s *SQLStore) RotateAPIKey(ctx context.Context, id, apiKey string) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	q, args, err := s.sb.Update("websites").Set("api_key", apiKey).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building rotate query: %w", err)
	}
	return s.execOne(ctx, q, args, "rotating api key")
}

// DeleteWebsite removes a website and its visits.
func (s *SQLStore) DeleteWebsite(ctx context.Context, id string) (err error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete website: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q, args, err := s.sb.Delete("visits").Where(sq.Eq{"website_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building visit delete query: %w", err)
	}
	if _, err = tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("deleting visits: %w", err)
	}

	q, args, err = s.sb.Delete("websites").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building website delete query: %w", err)
	}
	result, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("deleting website: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		err = ErrWebsiteNotFound
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete website: %w", err)
	}
	return nil
}

func (s *SQLStore) execOne(ctx context.Context, q string, args []interface{}, op string) error {
	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: reading affected rows: %w", op, err)
	}
	if n == 0 {
		return ErrWebsiteNotFound
	}
	return nil
}

// ActiveWebsiteByAPIKey resolves an API key to an active website.
func ActiveWebsiteByAPIKey(ctx context.Context, s WebsiteStore, apiKey string) (*models.Website, error) {
	if apiKey == "" {
		return nil, ErrWebsiteNotFound
	}
	w, err := s.WebsiteByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !w.IsActive {
		return nil, ErrWebsiteInactive
	}
	return w, nil
}
