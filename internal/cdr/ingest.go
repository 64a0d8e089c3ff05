package cdr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"cdr-analytics/internal/models"
)

// Payload is the JSON document posted by the switch CDR exporter.
type Payload struct {
	CallUUID     string      `json:"call_uuid"`
	Direction    string      `json:"direction"`
	CallerNumber string      `json:"caller_number"`
	CalledNumber string      `json:"called_number"`
	Origination  string      `json:"origination"`
	Connect      string      `json:"connect"`
	Duration     json.Number `json:"duration"`
	Location     string      `json:"location"`
	User         string      `json:"user"`
}

// txStarter is the minimal interface needed from a pgx pool for InsertCDR.
type txStarter interface {
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
}

var (
	// ErrInvalidCDRData is returned when the posted document cannot be
	// turned into a call record.
	ErrInvalidCDRData = errors.New("invalid cdr data")
	// ErrDuplicateCDR is returned when call_uuid is already stored.
	ErrDuplicateCDR = errors.New("duplicate cdr")
)

const localTimestampLayout = "2006-01-02 15:04:05"

// InsertCDR parses raw, normalises every timestamp to UTC and inserts the
// record into cdr.call_records. Timestamps without an offset are read in
// loc. When the payload carries no location, the user's location from
// cdr.user_directory is used.
func InsertCDR(ctx context.Context, pool txStarter, raw []byte, loc *time.Location) (err error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		slog.Error("failed to unmarshal cdr", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidCDRData, err)
	}

	rec, err := normalize(p, loc)
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				slog.Error("failed to rollback cdr transaction", "error", rbErr)
			}
			return
		}

		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("commit tx: %w", commitErr)
		}
	}()

	if rec.Location == "" {
		if lookup := directoryKey(rec); lookup != "" {
			var location string
			err = tx.QueryRow(ctx, `SELECT location FROM cdr.user_directory WHERE phone_number = $1`, lookup).Scan(&location)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					slog.Info("user not found in directory", "call_uuid", rec.CallUUID, "number", lookup)
					err = nil
				} else {
					return fmt.Errorf("lookup location: %w", err)
				}
			} else {
				rec.Location = location
				slog.Info("mapped cdr location", "call_uuid", rec.CallUUID, "number", lookup, "location", location)
			}
		}
	}

	cmdTag, execErr := tx.Exec(ctx, `
        INSERT INTO cdr.call_records (
            call_uuid, direction,
            caller_number, called_number,
            origination_time, connect_time,
            duration, location, assigned_user, raw_json
        ) VALUES (
            $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
        )
        ON CONFLICT (call_uuid) DO NOTHING
    `,
		rec.CallUUID,
		string(rec.Direction),
		rec.CallerNumber,
		rec.CalledNumber,
		rec.Origination,
		rec.Connect,
		rec.DurationSec,
		rec.Location,
		rec.User,
		raw,
	)
	if execErr != nil {
		return fmt.Errorf("insert cdr: %w", execErr)
	}

	if cmdTag.RowsAffected() == 0 {
		slog.Info("cdr already exists", "call_uuid", rec.CallUUID)
		return ErrDuplicateCDR
	}

	slog.Info("inserted cdr", "call_uuid", rec.CallUUID, "direction", rec.Direction)
	return nil
}

func normalize(p Payload, loc *time.Location) (models.CallRecord, error) {
	if loc == nil {
		loc = time.UTC
	}

	uuid := strings.TrimSpace(p.CallUUID)
	if uuid == "" {
		return models.CallRecord{}, fmt.Errorf("%w: missing call_uuid", ErrInvalidCDRData)
	}

	dir, err := models.ParseDirection(p.Direction)
	if err != nil {
		slog.Warn("invalid direction", "call_uuid", uuid, "value", p.Direction)
		return models.CallRecord{}, fmt.Errorf("%w: invalid direction", ErrInvalidCDRData)
	}

	origination, err := parseRequiredTimestamp(p.Origination, "origination", loc)
	if err != nil {
		return models.CallRecord{}, err
	}

	connect, err := parseOptionalTimestamp(p.Connect, "connect", loc)
	if err != nil {
		return models.CallRecord{}, err
	}

	duration, err := parseIntField(p.Duration.String(), "duration")
	if err != nil {
		return models.CallRecord{}, err
	}
	if duration < 0 {
		return models.CallRecord{}, fmt.Errorf("%w: negative duration", ErrInvalidCDRData)
	}
	if connect == nil {
		duration = 0
	}

	return models.CallRecord{
		CallUUID:     uuid,
		Direction:    dir,
		CallerNumber: strings.TrimSpace(p.CallerNumber),
		CalledNumber: strings.TrimSpace(p.CalledNumber),
		Origination:  origination,
		Connect:      connect,
		DurationSec:  duration,
		Location:     strings.TrimSpace(p.Location),
		User:         strings.TrimSpace(p.User),
	}, nil
}

// directoryKey picks the internal party of the call.
func directoryKey(rec models.CallRecord) string {
	if rec.User != "" {
		return rec.User
	}
	switch rec.Direction {
	case models.DirectionIncoming:
		return rec.CalledNumber
	case models.DirectionOutgoing:
		return rec.CallerNumber
	}
	return ""
}

func parseRequiredTimestamp(value, field string, loc *time.Location) (time.Time, error) {
	t, err := parseTimestamp(value, field, true, loc)
	if err != nil {
		return time.Time{}, err
	}
	return *t, nil
}

func parseOptionalTimestamp(value, field string, loc *time.Location) (*time.Time, error) {
	return parseTimestamp(value, field, false, loc)
}

func parseTimestamp(value, field string, required bool, loc *time.Location) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if required {
			slog.Warn("missing timestamp field", "field", field)
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidCDRData, field)
		}
		return nil, nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		parsed, err = time.ParseInLocation(localTimestampLayout, trimmed, loc)
	}
	if err != nil {
		slog.Warn("invalid timestamp", "field", field, "value", trimmed, "error", err)
		return nil, fmt.Errorf("%w: invalid %s", ErrInvalidCDRData, field)
	}

	utc := parsed.In(time.UTC)
	return &utc, nil
}

func parseIntField(value, field string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(trimmed)
	if err != nil {
		slog.Warn("invalid integer field", "field", field, "value", trimmed, "error", err)
		return 0, fmt.Errorf("%w: invalid %s", ErrInvalidCDRData, field)
	}

	return n, nil
}
