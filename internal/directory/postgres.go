package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamhook/internal/models"
)

// PostgresDirectory reads the catalog from the streamers and
// streamer_services tables.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("postgres directory: pool is required")
	}
	return &PostgresDirectory{pool: pool}, nil
}

func selectStreamers() sq.SelectBuilder {
	return sq.Select("s.id", "s.name", "s.logo_url", "ss.service", "ss.username").
		From("streamers s").
		LeftJoin("streamer_services ss ON ss.streamer_id = s.id").
		OrderBy("s.id", "ss.service").
		PlaceholderFormat(sq.Dollar)
}

func (d *PostgresDirectory) FindByUsername(ctx context.Context, service models.Service, username string) (models.Streamer, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.Streamer{}, ErrNotFound
	}
	query := selectStreamers().Where(sq.Expr(
		"s.id IN (SELECT streamer_id FROM streamer_services WHERE service = ? AND lower(username) = lower(?))",
		string(service), username,
	))
	return d.findOne(ctx, query)
}

func (d *PostgresDirectory) FindOne(ctx context.Context, id int64) (models.Streamer, error) {
	return d.findOne(ctx, selectStreamers().Where(sq.Eq{"s.id": id}))
}

func (d *PostgresDirectory) FindAll(ctx context.Context) ([]models.Streamer, error) {
	return d.query(ctx, selectStreamers())
}

func (d *PostgresDirectory) findOne(ctx context.Context, builder sq.SelectBuilder) (models.Streamer, error) {
	streamers, err := d.query(ctx, builder)
	if err != nil {
		return models.Streamer{}, err
	}
	if len(streamers) == 0 {
		return models.Streamer{}, ErrNotFound
	}
	return streamers[0], nil
}

func (d *PostgresDirectory) query(ctx context.Context, builder sq.SelectBuilder) ([]models.Streamer, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build streamer query: %w", err)
	}
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query streamers: %w", err)
	}
	defer rows.Close()

	var out []models.Streamer
	for rows.Next() {
		var (
			id       int64
			name     string
			logoURL  string
			service  *string
			username *string
		)
		if err := rows.Scan(&id, &name, &logoURL, &service, &username); err != nil {
			return nil, fmt.Errorf("scan streamer: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, models.Streamer{ID: id, Name: name, LogoURL: logoURL})
		}
		if service != nil && username != nil {
			current := &out[len(out)-1]
			current.Services = append(current.Services, models.ServiceAccount{
				Service:  models.Service(*service),
				Username: *username,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streamers: %w", err)
	}
	return out, nil
}

// Save upserts a streamer and replaces its service handles. A zero ID lets
// the database assign one.
func (d *PostgresDirectory) Save(ctx context.Context, streamer models.Streamer) (models.Streamer, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Streamer{}, fmt.Errorf("begin streamer save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insert := sq.Insert("streamers").PlaceholderFormat(sq.Dollar)
	if streamer.ID > 0 {
		insert = insert.Columns("id", "name", "logo_url").
			Values(streamer.ID, streamer.Name, streamer.LogoURL).
			Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, logo_url = EXCLUDED.logo_url RETURNING id")
	} else {
		insert = insert.Columns("name", "logo_url").
			Values(streamer.Name, streamer.LogoURL).
			Suffix("RETURNING id")
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return models.Streamer{}, fmt.Errorf("build streamer insert: %w", err)
	}
	if err := tx.QueryRow(ctx, query, args...).Scan(&streamer.ID); err != nil {
		return models.Streamer{}, fmt.Errorf("save streamer: %w", err)
	}

	query, args, err = sq.Delete("streamer_services").
		Where(sq.Eq{"streamer_id": streamer.ID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return models.Streamer{}, fmt.Errorf("build service delete: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return models.Streamer{}, fmt.Errorf("clear streamer services: %w", err)
	}

	if len(streamer.Services) > 0 {
		services := sq.Insert("streamer_services").
			Columns("streamer_id", "service", "username").
			PlaceholderFormat(sq.Dollar)
		for _, account := range streamer.Services {
			services = services.Values(streamer.ID, string(account.Service), strings.TrimSpace(account.Username))
		}
		query, args, err = services.ToSql()
		if err != nil {
			return models.Streamer{}, fmt.Errorf("build service insert: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return models.Streamer{}, fmt.Errorf("save streamer services: %w", err)
		}
	}

	// Keep the serial ahead of explicitly assigned ids.
	if _, err := tx.Exec(ctx, `SELECT setval(pg_get_serial_sequence('streamers', 'id'), GREATEST((SELECT MAX(id) FROM streamers), 1))`); err != nil {
		return models.Streamer{}, fmt.Errorf("sync streamer id sequence: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Streamer{}, fmt.Errorf("commit streamer save: %w", err)
	}
	return streamer, nil
}
