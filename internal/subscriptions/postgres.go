package subscriptions

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

// PostgresRegistry reads subscriptions from user_streamer_subscriptions,
// users, devices and push_subscriptions.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) (*PostgresRegistry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry: pool is required")
	}
	return &PostgresRegistry{pool: pool}, nil
}

func activeSubscribersQuery(streamerID int64) sq.SelectBuilder {
	return sq.Select(
		"uss.id", "u.id", "u.email", "u.locale", "uss.notification_method",
		"ps.id", "ps.device_id", "ps.endpoint", "ps.p256dh", "ps.auth",
	).
		From("user_streamer_subscriptions uss").
		Join("users u ON u.id = uss.user_id").
		LeftJoin("devices d ON d.user_id = u.id").
		LeftJoin("push_subscriptions ps ON ps.device_id = d.id AND ps.is_active").
		Where(sq.Eq{"uss.streamer_id": streamerID, "uss.is_active": true}).
		OrderBy("uss.id", "ps.id").
		PlaceholderFormat(sq.Dollar)
}

func (r *PostgresRegistry) FindActiveSubscriptionsWithDeliveryTargets(ctx context.Context, streamerID int64) ([]models.Subscriber, error) {
	query, args, err := activeSubscribersQuery(streamerID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build subscriber query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var out []models.Subscriber
	for rows.Next() {
		var (
			subscriber models.Subscriber
			method     string
			endpointID *int64
			deviceID   *int64
			endpoint   *string
			p256dh     *string
			auth       *string
		)
		if err := rows.Scan(
			&subscriber.SubscriptionID, &subscriber.UserID, &subscriber.Email, &subscriber.Locale, &method,
			&endpointID, &deviceID, &endpoint, &p256dh, &auth,
		); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subscriber.Method = models.NotificationMethod(strings.ToLower(strings.TrimSpace(method)))
		if len(out) == 0 || out[len(out)-1].SubscriptionID != subscriber.SubscriptionID {
			out = append(out, subscriber)
		}
		if endpointID != nil && endpoint != nil {
			current := &out[len(out)-1]
			current.Endpoints = append(current.Endpoints, models.PushEndpoint{
				ID:       *endpointID,
				DeviceID: deref(deviceID),
				Endpoint: *endpoint,
				P256dh:   derefString(p256dh),
				Auth:     derefString(auth),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return out, nil
}

func (r *PostgresRegistry) DisableEndpoint(ctx context.Context, endpointID int64) error {
	query, args, err := sq.Update("push_subscriptions").
		Set("is_active", false).
		Where(sq.Eq{"id": endpointID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build endpoint update: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("disable push endpoint: %w", err)
	}
	return nil
}

// Save upserts the user, their devices and endpoints, and an active
// subscription to streamerID carrying the subscriber's notification method. It returns the subscriber with assigned ids.
func (r *PostgresRegistry) Save(ctx context.Context, streamerID int64, subscriber models.Subscriber) (models.Subscriber, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Subscriber{}, fmt.Errorf("begin subscriber save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	method := string(subscriber.Method)
	if method == "" {
		method = string(models.NotifyPush)
	}
	locale := subscriber.Locale
	if locale == "" {
		locale = "en"
	}

	user := sq.Insert("users").PlaceholderFormat(sq.Dollar)
	if subscriber.UserID > 0 {
		user = user.Columns("id", "email", "locale").
			Values(subscriber.UserID, subscriber.Email, locale).
			Suffix("ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, locale = EXCLUDED.locale RETURNING id")
	} else {
		user = user.Columns("email", "locale").
			Values(subscriber.Email, locale).
			Suffix("RETURNING id")
	}
	if err := queryRowInto(ctx, tx, user, &subscriber.UserID); err != nil {
		return models.Subscriber{}, fmt.Errorf("save user: %w", err)
	}

	for i := range subscriber.Endpoints {
		endpoint := &subscriber.Endpoints[i]
		if endpoint.DeviceID <= 0 {
			device := sq.Insert("devices").Columns("user_id").Values(subscriber.UserID).
				Suffix("RETURNING id").PlaceholderFormat(sq.Dollar)
			if err := queryRowInto(ctx, tx, device, &endpoint.DeviceID); err != nil {
				return models.Subscriber{}, fmt.Errorf("save device: %w", err)
			}
		} else {
			device := sq.Insert("devices").Columns("id", "user_id").Values(endpoint.DeviceID, subscriber.UserID).
				Suffix("ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id RETURNING id").PlaceholderFormat(sq.Dollar)
			if err := queryRowInto(ctx, tx, device, &endpoint.DeviceID); err != nil {
				return models.Subscriber{}, fmt.Errorf("save device: %w", err)
			}
		}
		push := sq.Insert("push_subscriptions").
			Columns("device_id", "endpoint", "p256dh", "auth", "is_active").
			Values(endpoint.DeviceID, endpoint.Endpoint, endpoint.P256dh, endpoint.Auth, true).
			Suffix("ON CONFLICT (endpoint) DO UPDATE SET device_id = EXCLUDED.device_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, is_active = TRUE RETURNING id").
			PlaceholderFormat(sq.Dollar)
		if err := queryRowInto(ctx, tx, push, &endpoint.ID); err != nil {
			return models.Subscriber{}, fmt.Errorf("save push endpoint: %w", err)
		}
	}

	subscription := sq.Insert("user_streamer_subscriptions").
		Columns("user_id", "streamer_id", "notification_method", "is_active").
		Values(subscriber.UserID, streamerID, method, true).
		Suffix("ON CONFLICT (user_id, streamer_id) DO UPDATE SET notification_method = EXCLUDED.notification_method, is_active = TRUE RETURNING id").
		PlaceholderFormat(sq.Dollar)
	if err := queryRowInto(ctx, tx, subscription, &subscriber.SubscriptionID); err != nil {
		return models.Subscriber{}, fmt.Errorf("save subscription: %w", err)
	}

	for _, table := range []string{"users", "devices", "push_subscriptions", "user_streamer_subscriptions"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%s', 'id'), GREATEST((SELECT MAX(id) FROM %s), 1))`, table, table)); err != nil {
			return models.Subscriber{}, fmt.Errorf("sync %s id sequence: %w", table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Subscriber{}, fmt.Errorf("commit subscriber save: %w", err)
	}
	subscriber.Method = models.NotificationMethod(method)
	subscriber.Locale = locale
	return subscriber, nil
}

func queryRowInto(ctx context.Context, tx pgx.Tx, builder sq.InsertBuilder, dest *int64) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	return tx.QueryRow(ctx, query, args...).Scan(dest)
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
