package audit

import (
	"context"
	"time"

	id "examboard/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: payments,
	// approvals, index numbers and credentials. Written fail-closed in the same
	// transaction as the change they describe.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers abuse signals on the public surface.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// ActorID is the staff member who performed the action; nil for public and
	// system actions.
	ActorID   id.UserID
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	// Client is a coarse client descriptor ("Chrome/Windows"), never the raw
	// User-Agent.
	Client string
	IP     string
}

type AuditEvent string

const (
	// Invoice events
	EventInvoiceGenerated   AuditEvent = "invoice_generated"
	EventInvoiceRecomputed  AuditEvent = "invoice_recomputed"
	EventSlipAttached       AuditEvent = "invoice_slip_attached"
	EventSlipRejected       AuditEvent = "invoice_slip_rejected"
	EventPaymentConfirmed   AuditEvent = "invoice_payment_confirmed"
	EventCohortBulkApproved AuditEvent = "cohort_bulk_approved"

	// Student events
	EventStudentApproved      AuditEvent = "student_approved"
	EventStudentRejected      AuditEvent = "student_rejected"
	EventIndexNumberAllocated AuditEvent = "index_number_allocated"

	// Credential events
	EventCredentialIssued   AuditEvent = "credential_issued"
	EventCredentialReissued AuditEvent = "credential_reissued"
	EventCredentialRevoked  AuditEvent = "credential_revoked"
	EventCredentialPrinted  AuditEvent = "credential_printed"

	// Verification events
	EventCredentialVerified AuditEvent = "credential_verified"
	EventVerificationMissed AuditEvent = "verification_missed"
	EventRateLimitExceeded  AuditEvent = "rate_limit_exceeded"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventInvoiceGenerated:     CategoryCompliance,
	EventInvoiceRecomputed:    CategoryCompliance,
	EventSlipAttached:         CategoryCompliance,
	EventSlipRejected:         CategoryCompliance,
	EventPaymentConfirmed:     CategoryCompliance,
	EventStudentApproved:      CategoryCompliance,
	EventStudentRejected:      CategoryCompliance,
	EventIndexNumberAllocated: CategoryCompliance,
	EventCredentialIssued:     CategoryCompliance,
	EventCredentialReissued:   CategoryCompliance,
	EventCredentialRevoked:    CategoryCompliance,
	EventCredentialPrinted:    CategoryCompliance,

	EventVerificationMissed: CategorySecurity,
	EventRateLimitExceeded:  CategorySecurity,

	EventCohortBulkApproved: CategoryOperations,
	EventCredentialVerified: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}

// -----------------------------------------------------------------------------
// Right-sized event types for the three publishers
// -----------------------------------------------------------------------------

// ComplianceEvent captures actions requiring guaranteed persistence.
// Use with the compliance publisher for fail-closed semantics.
type ComplianceEvent struct {
	Timestamp time.Time
	ActorID   id.UserID
	Subject   string
	Action    AuditEvent
	Decision  string
	Reason    string
	RequestID string
}

// Category returns CategoryCompliance (always).
func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		ActorID:   e.ActorID,
		Subject:   e.Subject,
		Action:    string(e.Action),
		Decision:  e.Decision,
		Reason:    e.Reason,
		RequestID: e.RequestID,
	}
}

// SecurityEvent captures abuse signals for alerting.
// Events are processed asynchronously with buffering.
type SecurityEvent struct {
	Timestamp time.Time
	Subject   string
	Action    AuditEvent
	Reason    string
	IP        string
	Client    string
	RequestID string
	Severity  Severity
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category returns CategorySecurity (always).
func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		Subject:   e.Subject,
		Action:    string(e.Action),
		Reason:    e.Reason,
		Decision:  string(e.Severity),
		IP:        e.IP,
		Client:    e.Client,
		RequestID: e.RequestID,
	}
}

// OpsEvent captures operational events with minimal overhead.
// Events are fire-and-forget with optional sampling.
type OpsEvent struct {
	Timestamp time.Time
	Subject   string
	Action    AuditEvent
	Decision  string
	Client    string
	RequestID string
}

// Category returns CategoryOperations (always).
func (e OpsEvent) Category() EventCategory { return CategoryOperations }

func (e OpsEvent) ToEvent() Event {
	return Event{
		Category:  CategoryOperations,
		Timestamp: e.Timestamp,
		Subject:   e.Subject,
		Action:    string(e.Action),
		Decision:  e.Decision,
		Client:    e.Client,
		RequestID: e.RequestID,
	}
}
