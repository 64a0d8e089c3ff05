package models

import (
	"time"

	"github.com/google/uuid"
)

type ReportKind string

const (
	ReportWeekly   ReportKind = "Weekly"
	ReportMonthly  ReportKind = "Monthly"
	ReportOnDemand ReportKind = "OnDemand"
)

type ReportTrigger string

const (
	TriggerScheduled ReportTrigger = "scheduled"
	TriggerOnDemand  ReportTrigger = "on_demand"
	TriggerRetry     ReportTrigger = "retry"
)

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ReportExecution is the log row of one report run.
type ReportExecution struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	Kind             ReportKind      `db:"kind" json:"kind"`
	Trigger          ReportTrigger   `db:"trigger" json:"trigger"`
	PeriodStart      time.Time       `db:"period_start" json:"periodStart"`
	PeriodEnd        time.Time       `db:"period_end" json:"periodEnd"`
	Status           ExecutionStatus `db:"status" json:"status"`
	StartedAt        *time.Time      `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	GenerationMs     int64           `db:"generation_ms" json:"generationMs"`
	DeliveryMs       int64           `db:"delivery_ms" json:"deliveryMs"`
	RecordsProcessed int64           `db:"records_processed" json:"recordsProcessed"`
	Recipients       int             `db:"recipients" json:"recipients"`
	Successful       int             `db:"successful" json:"successful"`
	Failed           int             `db:"failed" json:"failed"`
	Pending          int             `db:"pending" json:"pending"`
	FileName         string          `db:"file_name" json:"fileName,omitempty"`
	Error            string          `db:"error" json:"error,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
}

// DeliveryAudit is one delivery attempt of one message.
type DeliveryAudit struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	ExecutionID *uuid.UUID     `db:"execution_id" json:"executionId,omitempty"`
	MessageID   uuid.UUID      `db:"message_id" json:"messageId"`
	Recipient   string         `db:"recipient" json:"recipient"`
	Subject     string         `db:"subject" json:"subject"`
	Status      DeliveryStatus `db:"status" json:"status"`
	Reason      FailureReason  `db:"reason" json:"reason,omitempty"`
	Token       string         `db:"token" json:"token,omitempty"`
	Detail      string         `db:"detail" json:"detail,omitempty"`
	Attempt     int            `db:"attempt" json:"attempt"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}
