package logstore

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres is the durable store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// ConnectPostgres opens a pool against dsn and runs the embedded migration.
func ConnectPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	p := &Postgres{pool: pool, logger: logger}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	sql, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := p.pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	p.logger.Info("log store migrated")
	return nil
}

// Close shuts down the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Append inserts one log entry.
func (p *Postgres) Append(ctx context.Context, e Entry) error {
	threats, err := json.Marshal(e.Threats)
	if err != nil {
		return fmt.Errorf("marshal threats: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO request_logs
		   (request_id, ts, ip, method, path, user_agent, score, anomaly_score, action, threats)
		 VALUES ($1, $2, $3::inet, $4, $5, $6, $7, $8, $9, $10)`,
		e.RequestID, e.Timestamp, e.IP, e.Method, e.Path, e.UserAgent,
		e.Score, e.AnomalyScore, e.Action, threats)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT request_id, ts, ip::text, method, path, user_agent, score, anomaly_score, action, threats
		 FROM request_logs ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var threats []byte
		if err := rows.Scan(&e.RequestID, &e.Timestamp, &e.IP, &e.Method, &e.Path,
			&e.UserAgent, &e.Score, &e.AnomalyScore, &e.Action, &threats); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if len(threats) > 0 {
			var ts []analysis.Threat
			if err := json.Unmarshal(threats, &ts); err == nil {
				e.Threats = ts
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of retained entries.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM request_logs`).Scan(&n)
	return n, err
}
