package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glizzus/encore/internal/config"
	"github.com/glizzus/encore/internal/region"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GuildRegion is a guild's stored region preference.
type GuildRegion struct {
	GuildID   string
	Region    string
	UpdatedAt time.Time
}

var ErrRegionNotFound = errors.New("no region preference stored for guild")

type RegionPersister interface {
	Save(ctx context.Context, guildID, region string) error
}

type RegionRetriever interface {
	Get(ctx context.Context, guildID string) (GuildRegion, error)
}

type PostgresRegionRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRegionRepository(db *pgxpool.Pool) *PostgresRegionRepository {
	return &PostgresRegionRepository{db: db}
}

var (
	_ RegionPersister = (*PostgresRegionRepository)(nil)
	_ RegionRetriever = (*PostgresRegionRepository)(nil)
	_ region.Provider = (*PostgresRegionRepository)(nil)
)

// Save stores or replaces a guild's preference. Regions are stored
// lower-cased; the auto region clears the preference.
func (r *PostgresRegionRepository) Save(ctx context.Context, guildID, region string) error {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" || region == config.RegionAuto {
		if _, err := r.db.Exec(ctx, `DELETE FROM guild_region WHERE guild_id = $1`, guildID); err != nil {
			return fmt.Errorf("failed to clear region: %w", err)
		}
		return nil
	}

	const query = `
	INSERT INTO guild_region (guild_id, region, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (guild_id) DO UPDATE SET
		region = EXCLUDED.region,
		updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(ctx, query, guildID, region); err != nil {
		return fmt.Errorf("failed to save region: %w", err)
	}
	return nil
}

func (r *PostgresRegionRepository) Get(ctx context.Context, guildID string) (GuildRegion, error) {
	const query = `SELECT guild_id, region, updated_at FROM guild_region WHERE guild_id = $1`

	var gr GuildRegion
	err := r.db.QueryRow(ctx, query, guildID).Scan(&gr.GuildID, &gr.Region, &gr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GuildRegion{}, ErrRegionNotFound
	}
	if err != nil {
		return GuildRegion{}, fmt.Errorf("failed to query region: %w", err)
	}
	return gr, nil
}

// Lookup returns the stored region, or the auto region when the guild
// has not chosen one.
func (r *PostgresRegionRepository) Lookup(ctx context.Context, guildID string) (string, error) {
	gr, err := r.Get(ctx, guildID)
	if errors.Is(err, ErrRegionNotFound) {
		return config.RegionAuto, nil
	}
	if err != nil {
		return "", err
	}
	return gr.Region, nil
}
