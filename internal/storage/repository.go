package storage

import (
	"context"
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
)

const (
	insertObservationSQL = `INSERT INTO stock_prices (
        ticker,
        price,
        observed_at
    ) VALUES ($1,$2,$3);`

	listObservationsBetweenSQL = `SELECT
        id,
        ticker,
        price,
        observed_at
    FROM stock_prices
    WHERE ticker = $1
      AND observed_at >= $2
      AND observed_at <= $3
    ORDER BY observed_at;`

	deleteObservationsBeforeSQL = `DELETE FROM stock_prices WHERE observed_at < $1;`

	countObservationsSQL = `SELECT COUNT(*) FROM stock_prices;`

	getDropdownEventSQL = `SELECT
        id,
        ticker,
        initial_price,
        final_price,
        max_price,
        min_price,
        dropdown_pct,
        window_start,
        window_end,
        computed_at
    FROM dropdowns
    WHERE ticker = $1
    ORDER BY computed_at DESC
    LIMIT 1;`

	insertDropdownEventSQL = `INSERT INTO dropdowns (
        ticker,
        initial_price,
        final_price,
        max_price,
        min_price,
        dropdown_pct,
        window_start,
        window_end,
        computed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING id;`

	updateDropdownEventSQL = `UPDATE dropdowns
    SET initial_price = $2,
        final_price   = $3,
        max_price     = $4,
        min_price     = $5,
        dropdown_pct  = $6,
        window_start  = $7,
        window_end    = $8,
        computed_at   = $9
    WHERE id = $1;`

	listRecentDropdownEventsSQL = `SELECT
        id,
        ticker,
        initial_price,
        final_price,
        max_price,
        min_price,
        dropdown_pct,
        window_start,
        window_end,
        computed_at
    FROM dropdowns
    ORDER BY computed_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore defines operations for price observation persistence.
type ObservationStore interface {
	InsertObservation(ctx context.Context, obs PriceObservation) error
	ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceObservation, error)
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountObservations(ctx context.Context) (int64, error)
}

// EventStore defines operations on the single dropdown slot per ticker.
type EventStore interface {
	GetDropdownEvent(ctx context.Context, symbol string) (*DropdownEvent, error)
	InsertDropdownEvent(ctx context.Context, event DropdownEvent) (DropdownEvent, error)
	UpdateDropdownEvent(ctx context.Context, id int64, event DropdownEvent) error
	ListRecentDropdownEvents(ctx context.Context, limit int) ([]DropdownEvent, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price observations and dropdown events.
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

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertObservation appends one price observation.
func (s *Store) InsertObservation(ctx context.Context, obs PriceObservation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertObservationSQL,
		obs.Symbol,
		obs.Price.String(),
		obs.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert observation: %w", execErr)
	}
	return nil
}

// ListObservationsBetween lists one ticker's observations within the
// inclusive time window, ordered by observed_at ascending.
func (s *Store) ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]PriceObservation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// DeleteObservationsBefore prunes observations strictly older than cutoff.
func (s *Store) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteObservationsBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete observations before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// GetDropdownEvent loads the slot for a ticker, or nil when absent.
func (s *Store) GetDropdownEvent(ctx context.Context, symbol string) (*DropdownEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, getDropdownEventSQL, symbol)
	event, scanErr := scanDropdownEvent(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dropdown event: %w", scanErr)
	}
	return &event, nil
}

// InsertDropdownEvent creates the slot for a ticker.
func (s *Store) InsertDropdownEvent(ctx context.Context, event DropdownEvent) (DropdownEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return DropdownEvent{}, err
	}

	row := pool.QueryRow(ctx, insertDropdownEventSQL,
		event.Symbol,
		event.InitialPrice.String(),
		event.FinalPrice.String(),
		event.MaxPrice.String(),
		event.MinPrice.String(),
		event.DropdownPct.String(),
		event.WindowStart,
		event.WindowEnd,
		event.ComputedAt,
	)
	if scanErr := row.Scan(&event.ID); scanErr != nil {
		return DropdownEvent{}, fmt.Errorf("insert dropdown event: %w", scanErr)
	}
	return event, nil
}

// UpdateDropdownEvent overwrites the slot row identified by id.
func (s *Store) UpdateDropdownEvent(ctx context.Context, id int64, event DropdownEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateDropdownEventSQL,
		id,
		event.InitialPrice.String(),
		event.FinalPrice.String(),
		event.MaxPrice.String(),
		event.MinPrice.String(),
		event.DropdownPct.String(),
		event.WindowStart,
		event.WindowEnd,
		event.ComputedAt,
	)
	if execErr != nil {
		return fmt.Errorf("update dropdown event: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentDropdownEvents lists slots ordered by most recent computation.
func (s *Store) ListRecentDropdownEvents(ctx context.Context, limit int) ([]DropdownEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDropdownEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent dropdown events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]DropdownEvent, 0, limit)
	for rows.Next() {
		event, scanErr := scanDropdownEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanObservation(row pgx.Row) (PriceObservation, error) {
	var (
		obs      PriceObservation
		priceStr string
	)

	if err := row.Scan(&obs.ID, &obs.Symbol, &priceStr, &obs.ObservedAt); err != nil {
		return PriceObservation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("parse price: %w", err)
	}
	obs.Price = price

	return obs, nil
}

func scanDropdownEvent(row pgx.Row) (DropdownEvent, error) {
	var (
		event       DropdownEvent
		initialStr  string
		finalStr    string
		maxStr      string
		minStr      string
		dropdownStr string
	)

	if err := row.Scan(
		&event.ID,
		&event.Symbol,
		&initialStr,
		&finalStr,
		&maxStr,
		&minStr,
		&dropdownStr,
		&event.WindowStart,
		&event.WindowEnd,
		&event.ComputedAt,
	); err != nil {
		return DropdownEvent{}, err
	}

	fields := []struct {
		raw  string
		dst  *decimal.Decimal
		name string
	}{
		{initialStr, &event.InitialPrice, "initial price"},
		{finalStr, &event.FinalPrice, "final price"},
		{maxStr, &event.MaxPrice, "max price"},
		{minStr, &event.MinPrice, "min price"},
		{dropdownStr, &event.DropdownPct, "dropdown pct"},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.raw)
		if err != nil {
			return DropdownEvent{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = value
	}

	return event, nil
}

var (
	_ ObservationStore = (*Store)(nil)
	_ EventStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
