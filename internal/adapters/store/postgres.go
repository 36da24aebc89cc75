package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/caltek/urbanova-gcp-client/internal/domain"
	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// Fixed columns of the meta table.
const (
	ColumnID      = "mid"
	ColumnStation = "stationid"
	ColumnSig     = "sig"
	ColumnTime    = "dtime"
)

// InsertFieldCount is the number of columns an insert writes: signature,
// station id, the eighteen sensor fields and the timestamp.
const InsertFieldCount = 3 + domain.SensorCount*3

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultFields lists the columns written by InsertRecord, in value order.
func DefaultFields() []string {
	fields := make([]string, 0, InsertFieldCount)
	fields = append(fields, ColumnSig, ColumnStation)
	for i := 1; i <= domain.SensorCount; i++ {
		fields = append(fields,
			fmt.Sprintf("sensor%d_name", i),
			fmt.Sprintf("sensor%d_sn", i),
			fmt.Sprintf("sensor%d_calibration", i),
		)
	}
	return append(fields, ColumnTime)
}

// TableConfig names the table and the insert column list. Fields must hold
// InsertFieldCount columns in the order signature, station id, sensor
// fields, timestamp.
type TableConfig struct {
	Table  string
	Fields []string
}

// Gateway is the record store for station metadata history.
type Gateway struct {
	db     *sql.DB
	table  string
	fields []string

	qLatestSig string
	qLatestID  string
	qTouch     string
}

// Connect opens a Postgres session and verifies it with a ping. Bad
// credentials and a missing database come back marked ports.Fatal.
func Connect(ctx context.Context, connString string, tc TableConfig) (*Gateway, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, ports.NewOpError("store_connect", ports.ErrStoreConnection, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classifyConnect(err)
	}
	g, err := New(db, tc)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

// New wraps an open *sql.DB.
func New(db *sql.DB, tc TableConfig) (*Gateway, error) {
	if tc.Table == "" {
		tc.Table = "meta"
	}
	if len(tc.Fields) == 0 {
		tc.Fields = DefaultFields()
	}
	if len(tc.Fields) != InsertFieldCount {
		return nil, fmt.Errorf("store: expected %d insert fields, got %d", InsertFieldCount, len(tc.Fields))
	}
	if err := checkIdents(append([]string{tc.Table}, tc.Fields...)); err != nil {
		return nil, err
	}

	table := pq.QuoteIdentifier(tc.Table)
	return &Gateway{
		db:     db,
		table:  tc.Table,
		fields: append([]string(nil), tc.Fields...),
		qLatestSig: fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s DESC LIMIT 1",
			pq.QuoteIdentifier(ColumnSig), table, pq.QuoteIdentifier(ColumnStation), pq.QuoteIdentifier(ColumnID)),
		qLatestID: fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = $1 ORDER BY %s DESC LIMIT 1",
			pq.QuoteIdentifier(ColumnID), pq.QuoteIdentifier(ColumnStation), table,
			pq.QuoteIdentifier(ColumnStation), pq.QuoteIdentifier(ColumnID)),
		qTouch: fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = $2",
			table, pq.QuoteIdentifier(ColumnTime), pq.QuoteIdentifier(ColumnID)),
	}, nil
}

func (g *Gateway) LatestFingerprint(ctx context.Context, stationID string) (domain.Fingerprint, bool, error) {
	var (
		sig   string
		found bool
	)
	err := g.withTx(ctx, "find_latest_fingerprint", true, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, g.qLatestSig, stationID).Scan(&sig)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return domain.Fingerprint(sig), found, nil
}

// LatestRecordID reports not found when the newest row carries a different
// station id than the one asked for.
func (g *Gateway) LatestRecordID(ctx context.Context, stationID string) (int64, bool, error) {
	var (
		id     int64
		stored string
		found  bool
	)
	err := g.withTx(ctx, "find_latest_record_id", true, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, g.qLatestID, stationID).Scan(&id, &stored)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = strings.TrimSpace(stored) == strings.TrimSpace(stationID)
		return nil
	})
	if err != nil || !found {
		return 0, false, err
	}
	return id, true, nil
}

// InsertRecord appends rec as a new row of the configured table.
func (g *Gateway) InsertRecord(ctx context.Context, rec *domain.MetaRecord) error {
	values := make([]any, 0, InsertFieldCount)
	values = append(values, rec.Fingerprint.String(), rec.StationID)
	for _, f := range rec.Fields() {
		values = append(values, f)
	}
	values = append(values, rec.UpdatedAt)
	return g.Insert(ctx, g.table, g.fields, values)
}

// Insert writes one row in its own transaction.
func (g *Gateway) Insert(ctx context.Context, table string, fields []string, values []any) error {
	const op = "insert_record"
	if len(fields) == 0 || len(fields) != len(values) {
		return ports.NewOpError(op, ports.ErrStoreQuery,
			fmt.Errorf("%d fields for %d values", len(fields), len(values)))
	}
	if err := checkIdents(append([]string{table}, fields...)); err != nil {
		return ports.NewOpError(op, ports.ErrStoreQuery, err)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pq.QuoteIdentifier(table))
	b.WriteString(" (")
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pq.QuoteIdentifier(f))
	}
	b.WriteString(") VALUES (")
	for i := range values {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(")")

	return g.withTx(ctx, op, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, b.String(), values...)
		return err
	})
}

// TouchRecord sets the timestamp of record id to at.
func (g *Gateway) TouchRecord(ctx context.Context, id int64, at time.Time) error {
	return g.withTx(ctx, "touch_record", false, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, g.qTouch, at, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("record %d: %w", id, sql.ErrNoRows)
		}
		return nil
	})
}

func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.db.PingContext(ctx); err != nil {
		return ports.NewOpError("store_ping", ports.ErrStoreConnection, err)
	}
	return nil
}

func (g *Gateway) Close() error { return g.db.Close() }

// withTx runs fn in a transaction scoped to one operation: commit on
// success, rollback on any error.
func (g *Gateway) withTx(ctx context.Context, op string, readOnly bool, fn func(*sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return ports.NewOpError(op, classifyQuery(err), err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return ports.NewOpError(op, classifyQuery(err), err)
	}
	if err := tx.Commit(); err != nil {
		return ports.NewOpError(op, classifyQuery(err), err)
	}
	return nil
}

func classifyConnect(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "28":
			return ports.Fatal(ports.NewOpError("store_connect", ports.ErrStoreAuth, err))
		case pqErr.Code == "3D000":
			return ports.Fatal(ports.NewOpError("store_connect", ports.ErrStoreNotFound, err))
		}
	}
	return ports.NewOpError("store_connect", ports.ErrStoreConnection, err)
}

func classifyQuery(err error) error {
	var (
		pqErr  *pq.Error
		netErr net.Error
	)
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		return ports.ErrStoreConnection
	case errors.As(err, &pqErr) && pqErr.Code.Class() == "08":
		return ports.ErrStoreConnection
	default:
		return ports.ErrStoreQuery
	}
}

func checkIdents(names []string) error {
	for _, n := range names {
		if !identRe.MatchString(n) {
			return fmt.Errorf("store: invalid identifier %q", n)
		}
	}
	return nil
}

var _ ports.MetaStore = (*Gateway)(nil)
