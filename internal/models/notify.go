package models

import (
	"github.com/google/uuid"
)

// EmailMessage is handed to the delivery subsystem and not modified
// afterwards. Attachments are file paths.
type EmailMessage struct {
	ID          uuid.UUID `json:"id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	To          []string  `json:"to"`
	Cc          []string  `json:"cc,omitempty"`
	Bcc         []string  `json:"bcc,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

func (m EmailMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

type DeliveryStatus string

const (
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryPending   DeliveryStatus = "pending"
)

type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonInvalidRecipient   FailureReason = "InvalidRecipient"
	ReasonChannelUnavailable FailureReason = "ChannelUnavailable"
	ReasonTimeout            FailureReason = "Timeout"
	ReasonRejected           FailureReason = "Rejected"
	ReasonCancelled          FailureReason = "Cancelled"
	ReasonUnknown            FailureReason = "Unknown"
)

// Retryable reports whether a caller may resubmit a message that failed
// with this reason.
func (r FailureReason) Retryable() bool {
	return r == ReasonChannelUnavailable || r == ReasonTimeout
}

// Outcome is the result of one delivery attempt. Token is set for pending
// outcomes and identifies the message at the channel for reconciliation.
type Outcome struct {
	Status DeliveryStatus `json:"status"`
	Reason FailureReason  `json:"reason,omitempty"`
	Token  string         `json:"token,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

func Succeeded() Outcome { return Outcome{Status: DeliverySucceeded} }

func Failed(reason FailureReason, detail string) Outcome {
	if reason == ReasonNone {
		reason = ReasonUnknown
	}
	return Outcome{Status: DeliveryFailed, Reason: reason, Detail: detail}
}

func Pending(token string) Outcome { return Outcome{Status: DeliveryPending, Token: token} }

// DeliveryStatistics counts outcomes of one batch (or one audit window).
type DeliveryStatistics struct {
	TotalSent       int                   `json:"totalSent"`
	TotalSuccessful int                   `json:"totalSuccessful"`
	TotalFailed     int                   `json:"totalFailed"`
	TotalPending    int                   `json:"totalPending"`
	FailureReasons  map[FailureReason]int `json:"failureReasons"`
}

func NewDeliveryStatistics() DeliveryStatistics {
	return DeliveryStatistics{FailureReasons: map[FailureReason]int{}}
}

// Record counts one attempted message.
func (s *DeliveryStatistics) Record(o Outcome) {
	if s.FailureReasons == nil {
		s.FailureReasons = map[FailureReason]int{}
	}
	s.TotalSent++
	s.apply(o)
}

// Resolve moves a message previously counted as pending to its new
// outcome without counting a new send.
func (s *DeliveryStatistics) Resolve(o Outcome) {
	if o.Status == DeliveryPending {
		return
	}
	if s.FailureReasons == nil {
		s.FailureReasons = map[FailureReason]int{}
	}
	if s.TotalPending > 0 {
		s.TotalPending--
	}
	s.apply(o)
}

func (s *DeliveryStatistics) apply(o Outcome) {
	switch o.Status {
	case DeliverySucceeded:
		s.TotalSuccessful++
	case DeliveryPending:
		s.TotalPending++
	default:
		s.TotalFailed++
		reason := o.Reason
		if reason == ReasonNone {
			reason = ReasonUnknown
		}
		s.FailureReasons[reason]++
	}
}

// Merge adds the counters of other to s.
func (s *DeliveryStatistics) Merge(other DeliveryStatistics) {
	if s.FailureReasons == nil {
		s.FailureReasons = map[FailureReason]int{}
	}
	s.TotalSent += other.TotalSent
	s.TotalSuccessful += other.TotalSuccessful
	s.TotalFailed += other.TotalFailed
	s.TotalPending += other.TotalPending
	for k, v := range other.FailureReasons {
		s.FailureReasons[k] += v
	}
}

func (s DeliveryStatistics) SuccessRate() float64 {
	return Percentage(int64(s.TotalSuccessful), int64(s.TotalSent))
}
