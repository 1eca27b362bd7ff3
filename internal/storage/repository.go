package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrSubscriberNotFound indicates no subscriber exists for a phone.
	ErrSubscriberNotFound = errors.New("storage: subscriber not found")
)

const (
	insertReadingSQL = `INSERT INTO gold_prices (
        price_ounce,
        price_gram_24k,
        currency,
        metal,
        change,
        alert_sent,
        source
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	latestReadingSQL = `SELECT
        id,
        price_ounce,
        price_gram_24k,
        currency,
        metal,
        change,
        alert_sent,
        source,
        created_at
    FROM gold_prices
    ORDER BY created_at DESC, id DESC
    LIMIT 1;`

	listRecentReadingsSQL = `SELECT
        id,
        price_ounce,
        price_gram_24k,
        currency,
        metal,
        change,
        alert_sent,
        source,
        created_at
    FROM gold_prices
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	listReadingsBetweenSQL = `SELECT
        id,
        price_ounce,
        price_gram_24k,
        currency,
        metal,
        change,
        alert_sent,
        source,
        created_at
    FROM gold_prices
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	countReadingsSQL = `SELECT COUNT(*) FROM gold_prices;`

	upsertSubscriberSQL = `INSERT INTO subscribers (phone)
    VALUES ($1)
    ON CONFLICT (phone) DO UPDATE
    SET phone = EXCLUDED.phone
    RETURNING id, phone, is_active, is_verified, created_at;`

	getSubscriberSQL = `SELECT id, phone, is_active, is_verified, created_at
    FROM subscribers
    WHERE phone = $1;`

	listActiveSubscribersSQL = `SELECT id, phone, is_active, is_verified, created_at
    FROM subscribers
    WHERE is_active = TRUE
    ORDER BY id;`

	setSubscriberActiveSQL = `UPDATE subscribers
    SET is_active = $2,
        is_verified = CASE WHEN $2 THEN TRUE ELSE is_verified END
    WHERE phone = $1;`
)

// ReadingStore defines operations for gold price persistence.
type ReadingStore interface {
	InsertReading(ctx context.Context, reading GoldReading) (GoldReading, error)
	LatestReading(ctx context.Context) (*GoldReading, error)
	ListRecentReadings(ctx context.Context, limit int) ([]GoldReading, error)
	ListReadingsBetween(ctx context.Context, from, to time.Time) ([]GoldReading, error)
	CountReadings(ctx context.Context) (int64, error)
}

// SubscriberStore defines operations for the subscriber directory.
type SubscriberStore interface {
	UpsertSubscriber(ctx context.Context, phone string) (Subscriber, error)
	GetSubscriber(ctx context.Context, phone string) (Subscriber, error)
	ListActiveSubscribers(ctx context.Context) ([]Subscriber, error)
	SetSubscriberActive(ctx context.Context, phone string, active bool) error
}

// Store aggregates access to readings and subscribers.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertReading appends a price reading. Duplicate values are valid.
func (s *Store) InsertReading(ctx context.Context, reading GoldReading) (GoldReading, error) {
	pool, err := s.getPool()
	if err != nil {
		return GoldReading{}, err
	}

	source := []byte(reading.Source)
	if len(source) == 0 {
		source = []byte("{}")
	}

	row := pool.QueryRow(ctx, insertReadingSQL,
		reading.PriceOunce.String(),
		reading.PriceGram24.String(),
		reading.Currency,
		reading.Metal,
		reading.Change.String(),
		reading.AlertSent,
		source,
	)

	stored := reading
	if scanErr := row.Scan(&stored.ID, &stored.CreatedAt); scanErr != nil {
		return GoldReading{}, fmt.Errorf("insert reading: %w", scanErr)
	}
	return stored, nil
}

// LatestReading returns the most recent reading, or nil on an empty history.
func (s *Store) LatestReading(ctx context.Context) (*GoldReading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestReadingSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest reading: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, nil
	}

	reading, scanErr := scanReading(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &reading, nil
}

// ListRecentReadings lists the most recent readings, newest first.
func (s *Store) ListRecentReadings(ctx context.Context, limit int) ([]GoldReading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReadingsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent readings: %w", queryErr)
	}
	defer rows.Close()

	readings := make([]GoldReading, 0, limit)
	for rows.Next() {
		reading, scanErr := scanReading(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		readings = append(readings, reading)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return readings, nil
}

// ListReadingsBetween lists readings within a time window.
func (s *Store) ListReadingsBetween(ctx context.Context, from, to time.Time) ([]GoldReading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReadingsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list readings between: %w", queryErr)
	}
	defer rows.Close()

	readings := make([]GoldReading, 0)
	for rows.Next() {
		reading, scanErr := scanReading(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		readings = append(readings, reading)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return readings, nil
}

// CountReadings counts stored readings.
func (s *Store) CountReadings(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReadingsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count readings: %w", scanErr)
	}
	return count, nil
}

// UpsertSubscriber registers a phone, returning the existing row on conflict.
func (s *Store) UpsertSubscriber(ctx context.Context, phone string) (Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscriber{}, err
	}

	var sub Subscriber
	row := pool.QueryRow(ctx, upsertSubscriberSQL, phone)
	if scanErr := row.Scan(&sub.ID, &sub.Phone, &sub.IsActive, &sub.IsVerified, &sub.CreatedAt); scanErr != nil {
		return Subscriber{}, fmt.Errorf("upsert subscriber: %w", scanErr)
	}
	return sub, nil
}

// GetSubscriber looks up a subscriber by phone.
func (s *Store) GetSubscriber(ctx context.Context, phone string) (Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscriber{}, err
	}

	var sub Subscriber
	row := pool.QueryRow(ctx, getSubscriberSQL, phone)
	if scanErr := row.Scan(&sub.ID, &sub.Phone, &sub.IsActive, &sub.IsVerified, &sub.CreatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Subscriber{}, ErrSubscriberNotFound
		}
		return Subscriber{}, fmt.Errorf("get subscriber: %w", scanErr)
	}
	return sub, nil
}

// ListActiveSubscribers lists subscribers with the active flag set.
func (s *Store) ListActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveSubscribersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active subscribers: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]Subscriber, 0)
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.ID, &sub.Phone, &sub.IsActive, &sub.IsVerified, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// SetSubscriberActive toggles the active flag. Activation also marks the
// subscriber verified; deactivation leaves the verified flag untouched.
func (s *Store) SetSubscriberActive(ctx context.Context, phone string, active bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, setSubscriberActiveSQL, phone, active)
	if execErr != nil {
		return fmt.Errorf("set subscriber active: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}
	return nil
}

func scanReading(rows pgx.Rows) (GoldReading, error) {
	var (
		id        int64
		ounceStr  string
		gram24Str string
		currency  string
		metal     string
		changeStr string
		alertSent bool
		source    json.RawMessage
		createdAt time.Time
	)

	if err := rows.Scan(
		&id,
		&ounceStr,
		&gram24Str,
		&currency,
		&metal,
		&changeStr,
		&alertSent,
		&source,
		&createdAt,
	); err != nil {
		return GoldReading{}, err
	}

	ounce, err := decimal.NewFromString(ounceStr)
	if err != nil {
		return GoldReading{}, fmt.Errorf("parse price_ounce: %w", err)
	}
	gram24, err := decimal.NewFromString(gram24Str)
	if err != nil {
		return GoldReading{}, fmt.Errorf("parse price_gram_24k: %w", err)
	}
	change, err := decimal.NewFromString(changeStr)
	if err != nil {
		return GoldReading{}, fmt.Errorf("parse change: %w", err)
	}

	return GoldReading{
		ID:          id,
		PriceOunce:  ounce,
		PriceGram24: gram24,
		Currency:    currency,
		Metal:       metal,
		Change:      change,
		AlertSent:   alertSent,
		Source:      source,
		CreatedAt:   createdAt,
	}, nil
}

var (
	_ ReadingStore    = (*Store)(nil)
	_ SubscriberStore = (*Store)(nil)
)
