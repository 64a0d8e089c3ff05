package cdr

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"cdr-analytics/internal/models"
)

func TestInsertCDR(t *testing.T) {
	t.Parallel()

	istanbul := time.FixedZone("TRT", 3*60*60)

	tests := []struct {
		name      string
		raw       []byte
		setupMock func(pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "happy path with directory lookup",
			raw: []byte(`{
                "call_uuid": "uuid-1",
                "direction": "inbound",
                "caller_number": "05321234567",
                "called_number": "2002",
                "origination": "2024-05-01 10:00:00",
                "connect": "2024-05-01 10:00:05",
                "duration": 55
            }`),
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT location FROM cdr\.user_directory WHERE phone_number = \$1`).
					WithArgs("2002").
					WillReturnRows(pgxmock.NewRows([]string{"location"}).AddRow("Ankara"))
				mock.ExpectExec(`INSERT INTO cdr\.call_records`).
					WithArgs(
						"uuid-1",
						"INCOMING",
						"05321234567",
						"2002",
						time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC),
						pgxmock.AnyArg(),
						55,
						"Ankara",
						"",
						pgxmock.AnyArg(),
					).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
			wantErr: nil,
		},
		{
			name: "explicit location skips lookup and unanswered call zeroes duration",
			raw: []byte(`{
                "call_uuid": "uuid-4",
                "direction": "OUTGOING",
                "caller_number": "2002",
                "called_number": "05321234567",
                "origination": "2024-05-01T10:00:00Z",
                "duration": "12",
                "location": "Esenyurt",
                "user": "2002"
            }`),
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO cdr\.call_records`).
					WithArgs(
						"uuid-4",
						"OUTGOING",
						"2002",
						"05321234567",
						time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
						pgxmock.AnyArg(),
						0,
						"Esenyurt",
						"2002",
						pgxmock.AnyArg(),
					).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
			wantErr: nil,
		},
		{
			name: "invalid timestamp",
			raw: []byte(`{
                "call_uuid": "uuid-2",
                "direction": "outgoing",
                "origination": "bad-time"
            }`),
			setupMock: nil,
			wantErr:   ErrInvalidCDRData,
		},
		{
			name: "unknown direction",
			raw: []byte(`{
                "call_uuid": "uuid-5",
                "direction": "sideways",
                "origination": "2024-05-01 10:00:00"
            }`),
			setupMock: nil,
			wantErr:   ErrInvalidCDRData,
		},
		{
			name: "duplicate uuid",
			raw: []byte(`{
                "call_uuid": "uuid-3",
                "direction": "internal",
                "origination": "2024-05-01 10:00:00",
                "connect": "2024-05-01 10:00:02",
                "duration": 30,
                "location": "Ankara"
            }`),
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO cdr\.call_records`).
					WithArgs(
						"uuid-3",
						"INTERNAL",
						"",
						"",
						pgxmock.AnyArg(),
						pgxmock.AnyArg(),
						30,
						"Ankara",
						"",
						pgxmock.AnyArg(),
					).
					WillReturnResult(pgxmock.NewResult("INSERT", 0))
				mock.ExpectRollback()
			},
			wantErr: ErrDuplicateCDR,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create pgx mock: %v", err)
			}
			defer mock.Close()

			if tc.setupMock != nil {
				tc.setupMock(mock)
			}

			err = InsertCDR(context.Background(), mock, tc.raw, istanbul)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestNormalizeKeepsUTC(t *testing.T) {
	t.Parallel()

	rec, err := normalize(Payload{
		CallUUID:    "x",
		Direction:   "incoming",
		Origination: "2024-01-01T00:30:00+03:00",
		Connect:     "2024-01-01 00:30:10",
		Duration:    "42",
	}, time.FixedZone("TRT", 3*60*60))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	want := time.Date(2023, 12, 31, 21, 30, 0, 0, time.UTC)
	if !rec.Origination.Equal(want) || rec.Origination.Location() != time.UTC {
		t.Fatalf("origination = %v, want %v in UTC", rec.Origination, want)
	}
	if rec.Connect == nil || !rec.Connect.Equal(want.Add(10*time.Second)) {
		t.Fatalf("connect = %v", rec.Connect)
	}
	if rec.Direction != models.DirectionIncoming || rec.DurationSec != 42 || !rec.Answered() {
		t.Fatalf("unexpected record %+v", rec)
	}
}
