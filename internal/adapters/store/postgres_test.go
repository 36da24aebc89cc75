package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/caltek/urbanova-gcp-client/internal/domain"
	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

func newGateway(t *testing.T) (*Gateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	g, err := New(db, TableConfig{Table: "meta"})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g, mock
}

func testRecord(at time.Time) *domain.MetaRecord {
	rec := &domain.MetaRecord{StationID: "1001", Fingerprint: "0123456789abcdef0123456789abcdef", UpdatedAt: at}
	for i := range rec.Sensors {
		rec.Sensors[i] = domain.Sensor{Name: "n", SerialNumber: "s", Calibration: "c"}
	}
	return rec
}

func TestLatestFingerprintFound(t *testing.T) {
	g, mock := newGateway(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "sig" FROM "meta" WHERE "stationid" = $1 ORDER BY "mid" DESC LIMIT 1`)).
		WithArgs("1001").
		WillReturnRows(sqlmock.NewRows([]string{"sig"}).AddRow("feedface"))
	mock.ExpectCommit()

	sig, found, err := g.LatestFingerprint(context.Background(), "1001")
	if err != nil {
		t.Fatalf("latest fingerprint: %v", err)
	}
	if !found || sig != "feedface" {
		t.Fatalf("expected feedface, got %q found=%v", sig, found)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLatestFingerprintNotFound(t *testing.T) {
	g, mock := newGateway(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "sig" FROM "meta"`).
		WithArgs("1001").
		WillReturnRows(sqlmock.NewRows([]string{"sig"}))
	mock.ExpectCommit()

	_, found, err := g.LatestFingerprint(context.Background(), "1001")
	if err != nil {
		t.Fatalf("expected no error on empty history, got %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLatestFingerprintQueryFailureRollsBack(t *testing.T) {
	g, mock := newGateway(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "sig" FROM "meta"`).
		WithArgs("1001").
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, _, err := g.LatestFingerprint(context.Background(), "1001")
	if !errors.Is(err, ports.ErrStoreQuery) {
		t.Fatalf("expected ErrStoreQuery, got %v", err)
	}
	var opErr *ports.OpError
	if !errors.As(err, &opErr) || opErr.Op != "find_latest_fingerprint" {
		t.Fatalf("expected op name in error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLatestRecordID(t *testing.T) {
	g, mock := newGateway(t)

	query := regexp.QuoteMeta(`SELECT "mid", "stationid" FROM "meta" WHERE "stationid" = $1 ORDER BY "mid" DESC LIMIT 1`)
	mock.ExpectBegin()
	mock.ExpectQuery(query).WithArgs("1001").
		WillReturnRows(sqlmock.NewRows([]string{"mid", "stationid"}).AddRow(int64(7), int64(1001)))
	mock.ExpectCommit()

	id, found, err := g.LatestRecordID(context.Background(), "1001")
	if err != nil || !found || id != 7 {
		t.Fatalf("expected id 7, got id=%d found=%v err=%v", id, found, err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(query).WithArgs("1001").
		WillReturnRows(sqlmock.NewRows([]string{"mid", "stationid"}).AddRow(int64(8), "2002"))
	mock.ExpectCommit()

	if _, found, err := g.LatestRecordID(context.Background(), "1001"); err != nil || found {
		t.Fatalf("expected station mismatch to be not found, got found=%v err=%v", found, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertRecord(t *testing.T) {
	g, mock := newGateway(t)
	at := time.Date(2017, 8, 2, 15, 30, 0, 0, time.UTC)
	rec := testRecord(at)

	args := []driver.Value{string(rec.Fingerprint), "1001"}
	for range domain.SensorCount {
		args = append(args, "n", "s", "c")
	}
	args = append(args, at)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "meta" ("sig", "stationid", "sensor1_name", "sensor1_sn", "sensor1_calibration"`)).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := g.InsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("insert record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertFailureRollsBack(t *testing.T) {
	g, mock := newGateway(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "meta" ("sig", "stationid") VALUES ($1,$2)`)).
		WithArgs("abc", "1001").
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := g.Insert(context.Background(), "meta", []string{"sig", "stationid"}, []any{"abc", "1001"})
	if !errors.Is(err, ports.ErrStoreQuery) {
		t.Fatalf("expected ErrStoreQuery, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertRejectsBadIdentifiers(t *testing.T) {
	g, mock := newGateway(t)

	err := g.Insert(context.Background(), "meta; DROP TABLE meta", []string{"sig"}, []any{"x"})
	if !errors.Is(err, ports.ErrStoreQuery) {
		t.Fatalf("expected ErrStoreQuery for bad table, got %v", err)
	}
	if err := g.Insert(context.Background(), "meta", []string{"sig"}, nil); err == nil {
		t.Fatalf("expected mismatched fields/values to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statements expected: %v", err)
	}
}

func TestTouchRecord(t *testing.T) {
	g, mock := newGateway(t)
	at := time.Now()

	touch := regexp.QuoteMeta(`UPDATE "meta" SET "dtime" = $1 WHERE "mid" = $2`)
	mock.ExpectBegin()
	mock.ExpectExec(touch).WithArgs(at, int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := g.TouchRecord(context.Background(), 7, at); err != nil {
		t.Fatalf("touch: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(touch).WithArgs(at, int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := g.TouchRecord(context.Background(), 9, at); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected missing record to surface ErrNoRows, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNewValidatesTableConfig(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := New(db, TableConfig{Table: "meta", Fields: []string{"sig"}}); err == nil {
		t.Fatalf("expected short field list to fail")
	}
	if _, err := New(db, TableConfig{Table: "bad name"}); err == nil {
		t.Fatalf("expected invalid table name to fail")
	}
	g, err := New(db, TableConfig{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if g.table != "meta" || len(g.fields) != InsertFieldCount {
		t.Fatalf("unexpected defaults table=%s fields=%d", g.table, len(g.fields))
	}
}

func TestClassifyConnect(t *testing.T) {
	cases := []struct {
		err   error
		kind  error
		fatal bool
	}{
		{&pq.Error{Code: "28P01"}, ports.ErrStoreAuth, true},
		{&pq.Error{Code: "3D000"}, ports.ErrStoreNotFound, true},
		{errors.New("dial tcp: connection refused"), ports.ErrStoreConnection, false},
	}
	for _, tc := range cases {
		got := classifyConnect(tc.err)
		if !errors.Is(got, tc.kind) {
			t.Fatalf("%v: expected %v, got %v", tc.err, tc.kind, got)
		}
		if ports.IsFatal(got) != tc.fatal {
			t.Fatalf("%v: expected fatal=%v", tc.err, tc.fatal)
		}
	}
}

func TestClassifyQuery(t *testing.T) {
	if got := classifyQuery(driver.ErrBadConn); got != ports.ErrStoreConnection {
		t.Fatalf("expected bad conn to be a connection failure, got %v", got)
	}
	if got := classifyQuery(&pq.Error{Code: "08006"}); got != ports.ErrStoreConnection {
		t.Fatalf("expected class 08 to be a connection failure, got %v", got)
	}
	if got := classifyQuery(&pq.Error{Code: "42P01"}); got != ports.ErrStoreQuery {
		t.Fatalf("expected undefined table to be a query failure, got %v", got)
	}
}
