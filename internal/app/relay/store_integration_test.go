package relay

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/caltek/urbanova-gcp-client/internal/adapters/sampler"
	"github.com/caltek/urbanova-gcp-client/internal/adapters/store"
	"github.com/caltek/urbanova-gcp-client/internal/domain"
	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// The first cycle against the real gateway must run each step in its own
// transaction and insert a single row.
func TestFirstCycleAgainstGateway(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	gw, err := store.New(db, store.TableConfig{Table: "meta"})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	sig, _ := domain.ComputeFingerprint("abc", stationMeta())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "sig" FROM "meta" WHERE "stationid" = $1`)).
		WithArgs("1001").
		WillReturnRows(sqlmock.NewRows([]string{"sig"}))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "mid", "stationid" FROM "meta" WHERE "stationid" = $1`)).
		WithArgs("1001").
		WillReturnRows(sqlmock.NewRows([]string{"mid", "stationid"}))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "meta" ("sig", "stationid", "sensor1_name"`)).
		WithArgs(append([]driver.Value{sig.String(), "1001"}, anyArgs(19)...)...).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	bus := &fakeBus{}
	loop, err := New(Config{Salt: "abc", Destination: "telemetryQueue"}, Deps{
		Source:       &staticSource{meta: stationMeta()},
		Sampler:      sampler.Func(func(context.Context) (string, error) { return "100041,20170802,153000", nil }),
		ConnectStore: func(context.Context) (ports.MetaStore, error) { return gw, nil },
		DialBus:      func(context.Context) (ports.Caller, error) { return bus, nil },
	})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	loop.now = func() time.Time { return time.Date(2017, 8, 2, 15, 30, 0, 0, time.UTC) }

	rep, err := loop.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if !rep.Changed || rep.PriorID != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if got := bus.sent()[0]; got[len(got)-len("2017-08-02 15:30:00"):] != "2017-08-02 15:30:00" {
		t.Fatalf("expected meta payload to end with the record timestamp, got %q", got)
	}
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}
