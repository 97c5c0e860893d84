package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/internal/ports"
)

// Store persists telemetry points to a Postgres/Timescale hypertable and
// serves the trailing-window queries the relay needs. Append only buffers;
// the INSERT happens on Flush, mirroring the write/flush split of the
// upstream time-series client. Points handed to a failed Flush are dropped,
// not retried.
type Store struct {
	db    *sql.DB
	table string

	mu      sync.Mutex
	pending []*domain.TelemetryPoint
}

func New(db *sql.DB, table string) *Store {
	return &Store{db: db, table: table}
}

func (s *Store) Append(p *domain.TelemetryPoint) {
	s.mu.Lock()
	s.pending = append(s.pending, p)
	s.mu.Unlock()
}

func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table)
	b.WriteString(" (ts, water_used, electrovalve, nonce) VALUES ")

	args := make([]any, 0, len(batch)*4)
	for i, p := range batch {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4))
		args = append(args, p.Timestamp, p.WaterUsed, p.Electrovalve, p.Nonce)
	}

	b.WriteString(" ON CONFLICT (ts, nonce) DO NOTHING")

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("flush %d points: %w", len(batch), err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, window time.Duration) (*domain.TelemetryPoint, error) {
	q := "SELECT ts, water_used, electrovalve, nonce FROM " + s.table +
		" WHERE ts > $1 ORDER BY ts DESC, nonce DESC LIMIT 1"

	var p domain.TelemetryPoint
	err := s.db.QueryRowContext(ctx, q, time.Now().UTC().Add(-window)).
		Scan(&p.Timestamp, &p.WaterUsed, &p.Electrovalve, &p.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoData
	}
	if err != nil {
		return nil, fmt.Errorf("latest point: %w", err)
	}
	return &p, nil
}

func (s *Store) UsageSeries(ctx context.Context, window time.Duration) ([]domain.UsagePoint, error) {
	q := "SELECT ts, water_used FROM " + s.table +
		" WHERE ts > $1 ORDER BY ts ASC, nonce ASC"

	rows, err := s.db.QueryContext(ctx, q, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("usage series: %w", err)
	}
	defer rows.Close()

	var series []domain.UsagePoint
	for rows.Next() {
		var up domain.UsagePoint
		if err := rows.Scan(&up.Timestamp, &up.WaterUsed); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		series = append(series, up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage series: %w", err)
	}
	return series, nil
}

var _ ports.TelemetryStore = (*Store)(nil)
