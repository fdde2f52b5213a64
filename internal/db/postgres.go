package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/launch-sentinel/internal/launch"
	"github.com/rawblock/launch-sentinel/pkg/models"
)

// acceptStatusList are the order statuses that count as a live accept. The
// unitary-entry upsert refuses to overwrite any of them.
const acceptStatusList = "('dry_run', 'accepted')"

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Launch Sentinel")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Launch Sentinel schema initialized")
	return nil
}

// UpsertUnitaryEntry writes the single unitary-entry order row for a market.
// A conflicting row is overwritten only when it is not already an accept, so
// replays and races can never downgrade a recorded accept.
func (s *PostgresStore) UpsertUnitaryEntry(ctx context.Context, rec launch.EntryRecord) error {
	now := time.Now().UnixMilli()
	sql := `
		INSERT INTO orders
			(client_order_id, market, side, type, status, quantity_base,
			 created_at, updated_at, mint, origin, decided_ts, size_tier, notes)
		VALUES ($1, $2, 'buy', 'unitary-entry', $3, $4, $5, $5, $6, $7, $8, $9, NULLIF($10, ''))
		ON CONFLICT (market, type) WHERE type = 'unitary-entry' DO UPDATE
		SET status = EXCLUDED.status,
		    quantity_base = EXCLUDED.quantity_base,
		    updated_at = EXCLUDED.updated_at,
		    decided_ts = EXCLUDED.decided_ts,
		    size_tier = EXCLUDED.size_tier,
		    notes = EXCLUDED.notes,
		    client_order_id = EXCLUDED.client_order_id
		WHERE orders.status NOT IN ` + acceptStatusList + `;
	`
	_, err := s.pool.Exec(ctx, sql,
		rec.ClientOrderID, rec.Market, rec.Status, rec.SizeSol,
		now, rec.Mint, string(rec.Origin), rec.DecidedTs, string(rec.Tier), rec.Notes)
	if err != nil {
		return fmt.Errorf("failed to upsert unitary entry: %v", err)
	}
	return nil
}

// UpgradeUnitaryEntry promotes an accepted SMALL row to APEX in place. The
// tier guard makes the reverse transition impossible at the storage layer too.
func (s *PostgresStore) UpgradeUnitaryEntry(ctx context.Context, market string, tier models.Tier, score int, ts int64) error {
	sql := `
		UPDATE orders
		SET size_tier = $2, decided_ts = $3, updated_at = $4,
		    notes = 'upgraded score=' || $5::text
		WHERE market = $1 AND type = 'unitary-entry'
		  AND status IN ` + acceptStatusList + `
		  AND size_tier = 'SMALL' AND $2 = 'APEX';
	`
	_, err := s.pool.Exec(ctx, sql, market, string(tier), ts, time.Now().UnixMilli(), score)
	if err != nil {
		return fmt.Errorf("failed to upgrade unitary entry: %v", err)
	}
	return nil
}

// UpsertToken records an observed token, bumping seen_count on replays.
func (s *PostgresStore) UpsertToken(ctx context.Context, mint string, origin models.Origin, creator string, ts int64) error {
	sql := `
		INSERT INTO tokens (mint, first_seen_ts, last_seen_ts, origin, creator, seen_count)
		VALUES ($1, $2, $2, $3, NULLIF($4, ''), 1)
		ON CONFLICT (mint) DO UPDATE
		SET last_seen_ts = EXCLUDED.last_seen_ts,
		    seen_count = tokens.seen_count + 1,
		    creator = COALESCE(tokens.creator, EXCLUDED.creator);
	`
	_, err := s.pool.Exec(ctx, sql, mint, ts, string(origin), creator)
	return err
}

// InsertEvent persists one emitted microstructure snapshot.
func (s *PostgresStore) InsertEvent(ctx context.Context, mint string, origin models.Origin, signature, creator string, snap models.Snapshot) error {
	snapshotJSON, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	sql := `
		INSERT INTO events
			(ts, signature, mint, origin, buyers, unique_funders,
			 same_funder_ratio, price_jumps, depth_est, creator, snapshot_json)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11);
	`
	_, err = s.pool.Exec(ctx, sql,
		snap.LastTs, signature, mint, string(origin),
		snap.Buyers, snap.UniqueFunders, snap.SameFunderRatio,
		snap.PriceJumps, snap.DepthEst, creator, snapshotJSON)
	return err
}

// InsertQuotes batch-writes quote estimates in one round trip.
func (s *PostgresStore) InsertQuotes(ctx context.Context, quotes []models.QuoteEstimate) error {
	if len(quotes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	sql := `
		INSERT INTO quotes
			(ts, mint, origin, route, size_sol, est_fill_price_sol, est_slippage_bps, reserves_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::jsonb)
		ON CONFLICT (mint, ts, size_sol) DO NOTHING;
	`
	for _, q := range quotes {
		batch.Queue(sql, q.Ts, q.Mint, string(q.Origin), q.Route, q.SizeSol,
			q.EstFillPriceSol, q.EstSlippageBps, q.ReservesJSON)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range quotes {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert quote batch: %v", err)
		}
	}
	return nil
}

// SchemaVersion reads the schema version from meta.
func (s *PostgresStore) SchemaVersion(ctx context.Context) (string, error) {
	var version string
	err := s.pool.QueryRow(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	return version, err
}

// CountOpenPositions returns the number of open positions.
func (s *PostgresStore) CountOpenPositions(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM positions WHERE status = 'open'`).Scan(&count)
	return count, err
}

// RealizedPnlTodaySol sums realized PnL across trades since local midnight.
func (s *PostgresStore) RealizedPnlTodaySol(ctx context.Context) (float64, error) {
	year, month, day := time.Now().Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, time.Local).UnixMilli()
	var pnl float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl_sol), 0) FROM trades WHERE created_at >= $1`,
		dayStart).Scan(&pnl)
	return pnl, err
}

// HaltInfo is a row of the halts table for the status endpoint.
type HaltInfo struct {
	ID        int64  `json:"id"`
	Market    string `json:"market"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// ActiveHalts lists all currently active halts.
func (s *PostgresStore) ActiveHalts(ctx context.Context) ([]HaltInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market, COALESCE(reason, ''), created_at FROM halts WHERE active ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	halts := []HaltInfo{}
	for rows.Next() {
		var h HaltInfo
		if err := rows.Scan(&h.ID, &h.Market, &h.Reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		halts = append(halts, h)
	}
	return halts, rows.Err()
}

// RecordTip adds a tip spend to today's ledger row.
func (s *PostgresStore) RecordTip(ctx context.Context, spentSol, budgetSol float64) error {
	sql := `
		INSERT INTO tips_ledger (day, spent_sol, budget_sol, updated_at)
		VALUES (CURRENT_DATE, $1, $2, $3)
		ON CONFLICT (day) DO UPDATE
		SET spent_sol = tips_ledger.spent_sol + EXCLUDED.spent_sol,
		    updated_at = EXCLUDED.updated_at;
	`
	_, err := s.pool.Exec(ctx, sql, spentSol, budgetSol, time.Now().UnixMilli())
	return err
}

// TipsSpentToday reads today's tip spend.
func (s *PostgresStore) TipsSpentToday(ctx context.Context) (float64, error) {
	var spent float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(spent_sol, 0) FROM tips_ledger WHERE day = CURRENT_DATE`).Scan(&spent)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return spent, err
}

// GetPool exposes the connection pool for other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
