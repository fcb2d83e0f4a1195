// Package ack implements C8: aggregates per-row outcomes from the shard
// stream into a per-file ACK CSV, and finalises the audit entry once every
// row has been accounted for (spec.md §4.6).
package ack

import "github.com/ehr/ehr/internal/platform/shardstream"

// row is one line of the pipe-delimited ACK file, matching the original
// system's ack-row shape field-for-field.
type row struct {
	MessageHeaderID    string
	HeaderResponseCode string
	IssueSeverity      string
	IssueCode          string
	IssueDetailsCode   string
	ResponseType       string
	ResponseCode       string
	ResponseDisplay    string
	ReceivedTime       string
	MailboxFrom        string
	LocalID            string
	MessageDelivery    string
}

var rowHeaders = []string{
	"MESSAGE_HEADER_ID", "HEADER_RESPONSE_CODE", "ISSUE_SEVERITY", "ISSUE_CODE",
	"ISSUE_DETAILS_CODE", "RESPONSE_TYPE", "RESPONSE_CODE", "RESPONSE_DISPLAY",
	"RECEIVED_TIME", "MAILBOX_FROM", "LOCAL_ID", "MESSAGE_DELIVERY",
}

func (r row) values() []string {
	return []string{
		r.MessageHeaderID, r.HeaderResponseCode, r.IssueSeverity, r.IssueCode,
		r.IssueDetailsCode, r.ResponseType, r.ResponseCode, r.ResponseDisplay,
		r.ReceivedTime, r.MailboxFrom, r.LocalID, r.MessageDelivery,
	}
}

// rowFromOutcome implements the success/failure ack mapping (spec.md §4.6):
// validation_passed && message_delivered is the only path to Success.
func rowFromOutcome(env shardstream.Envelope, delivered bool, receivedTime string) row {
	validationPassed := len(env.Diagnostics) == 0
	success := validationPassed && delivered

	r := row{
		MessageHeaderID: env.MessageID,
		ResponseType:    "Technical",
		ReceivedTime:    receivedTime,
		MailboxFrom:     "",
		LocalID:         "",
		MessageDelivery: boolString(delivered),
	}
	if success {
		r.HeaderResponseCode = "Success"
		r.IssueSeverity = "Information"
		r.IssueCode = "OK"
		r.IssueDetailsCode = "20013"
		r.ResponseCode = "20013"
		r.ResponseDisplay = "Success"
	} else {
		r.HeaderResponseCode = "Failure"
		r.IssueSeverity = "Fatal"
		r.IssueCode = "Fatal Error"
		r.IssueDetailsCode = "10001"
		r.ResponseCode = "10002"
		r.ResponseDisplay = "Infrastructure Level Response Value - Processing Error"
	}
	return r
}

func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// isUnhandled reports whether any diagnostic on the envelope is an
// infrastructure-class failure, per §4.6's Failed-vs-Processed distinction.
func isUnhandled(env shardstream.Envelope) bool {
	for _, d := range env.Diagnostics {
		if d.Code == shardstream.DiagnosticCodeUnhandled {
			return true
		}
	}
	return false
}
