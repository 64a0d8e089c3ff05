package models

import (
	"fmt"
	"strings"
	"time"
)

type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
	DirectionInternal Direction = "INTERNAL"
)

// ParseDirection accepts the canonical names case-insensitively, plus the
// inbound/outbound spelling used by switch CDR exports.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INCOMING", "INBOUND":
		return DirectionIncoming, nil
	case "OUTGOING", "OUTBOUND":
		return DirectionOutgoing, nil
	case "INTERNAL", "LOCAL":
		return DirectionInternal, nil
	}
	return "", fmt.Errorf("%w: unknown call direction %q", ErrInvalidArgument, s)
}

func (d Direction) Valid() bool {
	switch d {
	case DirectionIncoming, DirectionOutgoing, DirectionInternal:
		return true
	}
	return false
}

// CallRecord is one stored call event. Records are never mutated after
// ingestion; all timestamps are UTC.
type CallRecord struct {
	ID           int64      `db:"id" json:"id"`
	CallUUID     string     `db:"call_uuid" json:"call_uuid"`
	CallerNumber string     `db:"caller_number" json:"caller_number"`
	CalledNumber string     `db:"called_number" json:"called_number"`
	Direction    Direction  `db:"direction" json:"direction"`
	Origination  time.Time  `db:"origination_time" json:"origination_time"`
	Connect      *time.Time `db:"connect_time" json:"connect_time,omitempty"`
	DurationSec  int        `db:"duration" json:"duration"`
	Location     string     `db:"location" json:"location"`
	User         string     `db:"assigned_user" json:"user,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Answered reports whether the call was connected and lasted longer than
// zero seconds.
func (r CallRecord) Answered() bool {
	return r.Connect != nil && r.DurationSec > 0
}
