package timescale

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Apsharan/Compteur/internal/domain"
)

func TestStoreFlushWritesBufferedPoints(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db, "water_usage")
	ts := time.Now().UTC()

	store.Append(&domain.TelemetryPoint{
		WaterUsed:    128.5,
		Electrovalve: true,
		Nonce:        ts.UnixMilli(),
		Timestamp:    ts,
	})

	expectedQuery := regexp.QuoteMeta(
		"INSERT INTO water_usage (ts, water_used, electrovalve, nonce) VALUES ($1,$2,$3,$4) ON CONFLICT (ts, nonce) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs(ts, 128.5, true, ts.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreFlushEmptyBufferIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db, "water_usage")
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("expected nil error for empty flush, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreFlushDropsBatchOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db, "water_usage")
	store.Append(&domain.TelemetryPoint{WaterUsed: 1})

	mock.ExpectExec("INSERT INTO water_usage").
		WillReturnError(errors.New("connection reset"))

	if err := store.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error")
	}

	// The failed batch must not be replayed by the next flush.
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("second flush should be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreLatestMapsNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db, "water_usage")

	expectedQuery := regexp.QuoteMeta(
		"SELECT ts, water_used, electrovalve, nonce FROM water_usage WHERE ts > $1 ORDER BY ts DESC, nonce DESC LIMIT 1")
	mock.ExpectQuery(expectedQuery).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"ts", "water_used", "electrovalve", "nonce"}))

	if _, err := store.Latest(context.Background(), time.Hour); !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestStoreLatestReturnsNewestPoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db, "water_usage")
	ts := time.Now().UTC()

	mock.ExpectQuery("SELECT ts, water_used, electrovalve, nonce FROM water_usage").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"ts", "water_used", "electrovalve", "nonce"}).
			AddRow(ts, 42.0, false, int64(1700000000000)))

	p, err := store.Latest(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if p.WaterUsed != 42.0 || p.Electrovalve || p.Nonce != 1700000000000 {
		t.Fatalf("unexpected point: %+v", p)
	}
}

func TestStoreUsageSeriesOrdering(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db, "water_usage")
	base := time.Now().UTC()

	expectedQuery := regexp.QuoteMeta(
		"SELECT ts, water_used FROM water_usage WHERE ts > $1 ORDER BY ts ASC, nonce ASC")
	mock.ExpectQuery(expectedQuery).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"ts", "water_used"}).
			AddRow(base.Add(-2*time.Second), 10.0).
			AddRow(base.Add(-time.Second), 12.0))

	series, err := store.UsageSeries(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("usage series: %v", err)
	}
	if len(series) != 2 || series[0].WaterUsed != 10.0 || series[1].WaterUsed != 12.0 {
		t.Fatalf("unexpected series: %+v", series)
	}
}
