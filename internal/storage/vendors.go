package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/model"
)

// GetVendor retrieves a vendor directory entry by service name.
func (s *SQLiteStorage) GetVendor(ctx context.Context, name string) (*model.Vendor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	// Check cache first
	if vendor := s.getCachedVendor(name); vendor != nil {
		return vendor, nil
	}

	return s.getVendorTx(ctx, s.db, name)
}

func (s *SQLiteStorage) getVendorTx(ctx context.Context, q queryable, name string) (*model.Vendor, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, category, website, cancellation_url,
		       needs_enrichment, enriched_at, created_at
		FROM vendors
		WHERE name = ?
	`, name)

	vendor, err := scanVendor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: vendor %q", common.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}

	// Update cache
	s.cacheVendor(vendor)

	return vendor, nil
}

// SaveVendor inserts or updates a vendor directory entry, keyed by name.
func (s *SQLiteStorage) SaveVendor(ctx context.Context, vendor *model.Vendor) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateVendor(vendor); err != nil {
		return err
	}
	return s.saveVendorTx(ctx, s.db, vendor)
}

func (s *SQLiteStorage) saveVendorTx(ctx context.Context, q queryable, vendor *model.Vendor) error {
	if vendor.CreatedAt.IsZero() {
		vendor.CreatedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO vendors (
			id, name, category, website, cancellation_url,
			needs_enrichment, enriched_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			category = excluded.category,
			website = excluded.website,
			cancellation_url = excluded.cancellation_url,
			needs_enrichment = excluded.needs_enrichment,
			enriched_at = excluded.enriched_at
	`,
		vendor.ID,
		vendor.Name,
		vendor.Category,
		vendor.Website,
		vendor.CancellationURL,
		vendor.NeedsEnrichment,
		vendor.EnrichedAt,
		vendor.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save vendor: %w", err)
	}

	// On a name conflict the row keeps its original id, so read the
	// canonical identity back before caching.
	row := q.QueryRowContext(ctx, `SELECT id, created_at FROM vendors WHERE name = ?`, vendor.Name)
	if err := row.Scan(&vendor.ID, &vendor.CreatedAt); err != nil {
		return fmt.Errorf("failed to read back vendor: %w", err)
	}

	// Update cache
	s.cacheVendor(vendor)

	return nil
}

// GetAllVendors retrieves every vendor directory entry.
func (s *SQLiteStorage) GetAllVendors(ctx context.Context) ([]model.Vendor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, website, cancellation_url,
		       needs_enrichment, enriched_at, created_at
		FROM vendors
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectVendors(rows)
}

// GetVendorsNeedingEnrichment retrieves vendor stubs awaiting directory
// data, oldest first.
func (s *SQLiteStorage) GetVendorsNeedingEnrichment(ctx context.Context, limit int) ([]model.Vendor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, website, cancellation_url,
		       needs_enrichment, enriched_at, created_at
		FROM vendors
		WHERE needs_enrichment = 1
		ORDER BY created_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendors needing enrichment: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectVendors(rows)
}

func collectVendors(rows *sql.Rows) ([]model.Vendor, error) {
	var vendors []model.Vendor
	for rows.Next() {
		vendor, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vendor: %w", err)
		}
		vendors = append(vendors, *vendor)
	}
	return vendors, rows.Err()
}

func scanVendor(row scanner) (*model.Vendor, error) {
	var vendor model.Vendor
	var category, website, cancellationURL sql.NullString
	var enrichedAt sql.NullTime

	err := row.Scan(
		&vendor.ID,
		&vendor.Name,
		&category,
		&website,
		&cancellationURL,
		&vendor.NeedsEnrichment,
		&enrichedAt,
		&vendor.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	vendor.Category = category.String
	vendor.Website = website.String
	vendor.CancellationURL = cancellationURL.String
	if enrichedAt.Valid {
		vendor.EnrichedAt = &enrichedAt.Time
	}

	return &vendor, nil
}

// getCachedVendor retrieves a vendor from the cache.
func (s *SQLiteStorage) getCachedVendor(name string) *model.Vendor {
	s.cacheMutex.RLock()

	if time.Now().After(s.cacheExpiry) {
		// Cache expired, needs to be cleared
		// Upgrade to write lock
		s.cacheMutex.RUnlock()
		s.cacheMutex.Lock()
		defer s.cacheMutex.Unlock()

		// Double-check after acquiring write lock
		if time.Now().After(s.cacheExpiry) {
			s.vendorCache = make(map[string]*model.Vendor)
		}
		return nil
	}

	vendor := s.vendorCache[name]
	s.cacheMutex.RUnlock()
	return vendor
}

// cacheVendor adds a vendor to the cache.
func (s *SQLiteStorage) cacheVendor(vendor *model.Vendor) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	if len(s.vendorCache) == 0 {
		// Set cache expiry on first entry
		s.cacheExpiry = time.Now().Add(5 * time.Minute)
	}
	s.vendorCache[vendor.Name] = vendor
}

// WarmVendorCache loads all vendors into the cache.
func (s *SQLiteStorage) WarmVendorCache(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	vendors, err := s.GetAllVendors(ctx)
	if err != nil {
		return err
	}

	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	s.vendorCache = make(map[string]*model.Vendor)
	for i := range vendors {
		s.vendorCache[vendors[i].Name] = &vendors[i]
	}

	s.cacheExpiry = time.Now().Add(5 * time.Minute)
	return nil
}
