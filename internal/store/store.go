package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDocControl Role = "DOC_CONTROL"
	RoleBO         Role = "BO"
	RoleSME        Role = "SME"
	RoleHeadNOC    Role = "HEAD_NOC"
	RoleFOPRTS     Role = "FOP_RTS"
	RoleRegionTeam Role = "REGION_TEAM"
	RoleRTH        Role = "RTH"
	RoleROH        Role = "ROH"
	RolePMO        Role = "PMO"
	RoleQAEngineer Role = "QA_ENGINEER"
	RoleVendor     Role = "VENDOR"
	RoleAdmin      Role = "ADMIN"
)

// Roles lists every role the service recognises.
var Roles = []Role{
	RoleDocControl, RoleBO, RoleSME, RoleHeadNOC, RoleFOPRTS, RoleRegionTeam,
	RoleRTH, RoleROH, RolePMO, RoleQAEngineer, RoleVendor, RoleAdmin,
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type Category string

const (
	CategorySoftware Category = "SOFTWARE"
	CategoryHardware Category = "HARDWARE"
	CategoryBoth     Category = "BOTH"
)

// ParseCategory accepts the canonical names and the short forms used on
// submission forms. BOTH is the ambiguous category and routes to the
// combined review path.
func ParseCategory(s string) (Category, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SOFTWARE", "SW":
		return CategorySoftware, nil
	case "HARDWARE", "HW":
		return CategoryHardware, nil
	case "BOTH", "MIXED":
		return CategoryBoth, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

type DocumentStatus string

const (
	DocumentSubmitted DocumentStatus = "submitted"
	DocumentInReview  DocumentStatus = "in_review"
	DocumentApproved  DocumentStatus = "approved"
	DocumentRejected  DocumentStatus = "rejected"
)

func (s DocumentStatus) Terminal() bool {
	return s == DocumentApproved || s == DocumentRejected
}

type StageStatus string

const (
	StageWaiting   StageStatus = "waiting"
	StagePending   StageStatus = "pending"
	StageCompleted StageStatus = "completed"
)

type Decision string

const (
	DecisionApprove              Decision = "approve"
	DecisionApproveWithPunchlist Decision = "approve_with_punchlist"
	DecisionReject               Decision = "reject"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionApprove, DecisionApproveWithPunchlist, DecisionReject:
		return d, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return v, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Rank orders severities for sorting, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

type ChecklistResult string

const (
	ResultPass ChecklistResult = "pass"
	ResultFail ChecklistResult = "fail"
	ResultNA   ChecklistResult = "na"
)

func ParseChecklistResult(s string) (ChecklistResult, error) {
	switch v := ChecklistResult(strings.ToLower(strings.TrimSpace(s))); v {
	case ResultPass, ResultFail, ResultNA:
		return v, nil
	}
	return "", fmt.Errorf("unknown checklist result %q", s)
}

type PunchlistStatus string

const (
	PunchlistIdentified PunchlistStatus = "identified"
	PunchlistInProgress PunchlistStatus = "in_progress"
	PunchlistRectified  PunchlistStatus = "rectified"
	PunchlistVerified   PunchlistStatus = "verified"
)

// Active reports whether the item still needs field work.
func (s PunchlistStatus) Active() bool {
	return s == PunchlistIdentified || s == PunchlistInProgress
}

type Document struct {
	ID           uuid.UUID `json:"id"`
	Code         string    `json:"code"`
	SiteID       string    `json:"site_id"`
	DocumentType string    `json:"document_type,omitempty"`

	// Routing
	DetectedCategory Category `json:"detected_category,omitempty"`
	FinalCategory    Category `json:"final_category,omitempty"`
	ManualOverride   bool     `json:"manual_override"`
	OverrideReason   string   `json:"override_reason,omitempty"`
	WorkflowPath     Category `json:"workflow_path,omitempty"`

	// State
	Status               DocumentStatus `json:"status"`
	CurrentStageNumber   int            `json:"current_stage_number"`
	CurrentStageLabel    string         `json:"current_stage_label"`
	CompletionPercentage int            `json:"completion_percentage"`

	// Submission
	FileRef         string `json:"file_ref,omitempty"`
	FileName        string `json:"file_name,omitempty"`
	VendorID        string `json:"vendor_id,omitempty"`
	SubmittedBy     string `json:"submitted_by"`
	SubmissionNotes string `json:"submission_notes,omitempty"`

	// Timestamps
	SubmittedAt time.Time  `json:"submitted_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type DocumentFilter struct {
	SiteID       string
	Status       *DocumentStatus
	WorkflowPath *Category
	Limit        int
	Offset       int
}

type Stage struct {
	ID           uuid.UUID   `json:"id"`
	DocumentID   uuid.UUID   `json:"document_id"`
	StageNumber  int         `json:"stage_number"`
	StageCode    string      `json:"stage_code"`
	StageName    string      `json:"stage_name"`
	RoleRequired Role        `json:"role_required"`
	SLAHours     int         `json:"sla_hours"`
	SLADeadline  *time.Time  `json:"sla_deadline,omitempty"`
	Status       StageStatus `json:"status"`
	Decision     *Decision   `json:"decision,omitempty"`
	Comments     string      `json:"comments,omitempty"`
	ReviewerID   string      `json:"reviewer_id,omitempty"`
	ActivatedAt  *time.Time  `json:"activated_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// PendingStage is a pending stage joined with the document it belongs to.
type PendingStage struct {
	Stage
	DocumentCode string   `json:"document_code"`
	SiteID       string   `json:"site_id"`
	WorkflowPath Category `json:"workflow_path"`
}

type ChecklistItem struct {
	ID          uuid.UUID       `json:"id"`
	DocumentID  uuid.UUID       `json:"document_id"`
	StageID     uuid.UUID       `json:"stage_id"`
	ItemNumber  int             `json:"item_number"`
	SectionName string          `json:"section_name,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      ChecklistResult `json:"result"`
	Severity    *Severity       `json:"severity,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type PunchlistItem struct {
	ID           uuid.UUID       `json:"id"`
	Number       string          `json:"number"`
	DocumentID   uuid.UUID       `json:"document_id"`
	StageID      uuid.UUID       `json:"stage_id"`
	Description  string          `json:"description"`
	Category     string          `json:"category,omitempty"`
	Severity     Severity        `json:"severity"`
	AssignedTeam string          `json:"assigned_team,omitempty"`
	Status       PunchlistStatus `json:"status"`

	TargetCompletionDate *time.Time `json:"target_completion_date,omitempty"`
	RectificationNotes   string     `json:"rectification_notes,omitempty"`
	EvidenceBeforeRef    string     `json:"evidence_before_ref,omitempty"`
	EvidenceAfterRef     string     `json:"evidence_after_ref,omitempty"`

	IdentifiedBy    string     `json:"identified_by"`
	IdentifiedAt    time.Time  `json:"identified_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedBy     string     `json:"completed_by,omitempty"`
	CompletedByRole Role       `json:"completed_by_role,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	VerifiedBy      string     `json:"verified_by,omitempty"`
	VerifiedByRole  Role       `json:"verified_by_role,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
}

type PunchlistFilter struct {
	DocumentID   *uuid.UUID
	Status       *PunchlistStatus
	Severity     *Severity
	AssignedTeam string
	ActiveOnly   bool
	Limit        int
	Offset       int
}

type DocumentEvent struct {
	ID         uuid.UUID              `json:"id"`
	DocumentID uuid.UUID              `json:"document_id"`
	Event      string                 `json:"event"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

type DashboardStats struct {
	TotalDocuments       int            `json:"total_documents"`
	ByStatus             map[string]int `json:"by_status"`
	WorkflowDistribution map[string]int `json:"workflow_distribution"`
	PendingReviews       int            `json:"pending_reviews"`
	OverdueReviews       int            `json:"overdue_reviews"`
	ActivePunchlist      int            `json:"active_punchlist"`
	CriticalPunchlist    int            `json:"critical_punchlist"`
}

// Store is the read side plus the transaction entry point. Every mutation of
// a document and its stages happens inside WithTx.
type Store interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	GetDocumentByCode(ctx context.Context, code string) (*Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error)
	GetStages(ctx context.Context, documentID uuid.UUID) ([]*Stage, error)
	GetChecklist(ctx context.Context, documentID uuid.UUID) ([]*ChecklistItem, error)
	GetPunchlistItem(ctx context.Context, id uuid.UUID) (*PunchlistItem, error)
	ListPunchlist(ctx context.Context, filter PunchlistFilter) ([]*PunchlistItem, error)
	ListPendingStages(ctx context.Context, role *Role) ([]*PendingStage, error)
	GetDocumentEvents(ctx context.Context, documentID uuid.UUID) ([]*DocumentEvent, error)
	GetDashboardStats(ctx context.Context, role *Role, now time.Time) (*DashboardStats, error)

	// WithTx runs fn in one transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write side. LockDocument and LockPunchlistItem take row locks
// that are held until the transaction ends.
type Tx interface {
	NextSiteSequence(ctx context.Context, siteID string) (int, error)
	CreateDocument(ctx context.Context, doc *Document) error
	LockDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	UpdateDocument(ctx context.Context, doc *Document) error

	GetStages(ctx context.Context, documentID uuid.UUID) ([]*Stage, error)
	CreateStages(ctx context.Context, stages []*Stage) error
	UpdateStage(ctx context.Context, stage *Stage) error

	CreateChecklistItems(ctx context.Context, items []*ChecklistItem) error

	CountPunchlist(ctx context.Context, documentID uuid.UUID) (int, error)
	CountUnresolvedPunchlist(ctx context.Context, documentID uuid.UUID, severities []Severity) (int, error)
	CreatePunchlistItems(ctx context.Context, items []*PunchlistItem) error
	LockPunchlistItem(ctx context.Context, id uuid.UUID) (*PunchlistItem, error)
	UpdatePunchlistItem(ctx context.Context, item *PunchlistItem) error

	CreateEvent(ctx context.Context, event *DocumentEvent) error
}
