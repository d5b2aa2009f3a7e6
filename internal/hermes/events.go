package hermes

import "time"

// StageActivatedEvent is the task-notifier contract: one is emitted every
// time a review stage becomes pending.
type StageActivatedEvent struct {
	DocumentID   string    `json:"document_id"`
	DocumentCode string    `json:"document_code"`
	StageID      string    `json:"stage_id"`
	StageNumber  int       `json:"stage_number"`
	StageName    string    `json:"stage_name"`
	Role         string    `json:"role"`
	SLADeadline  time.Time `json:"sla_deadline"`
}

type StageDecidedEvent struct {
	DocumentID         string `json:"document_id"`
	StageID            string `json:"stage_id"`
	StageNumber        int    `json:"stage_number"`
	Decision           string `json:"decision"`
	ReviewerID         string `json:"reviewer_id"`
	ProgressPercentage int    `json:"progress_percentage"`
}

type DocumentStatusEvent struct {
	DocumentID         string `json:"document_id"`
	DocumentCode       string `json:"document_code"`
	Status             string `json:"status"`
	WorkflowPath       string `json:"workflow_path,omitempty"`
	ProgressPercentage int    `json:"progress_percentage"`
	ActorID            string `json:"actor_id,omitempty"`
}

type PunchlistEvent struct {
	ItemID     string `json:"item_id"`
	Number     string `json:"number"`
	DocumentID string `json:"document_id"`
	StageID    string `json:"stage_id"`
	Severity   string `json:"severity"`
	Status     string `json:"status"`
	ActorID    string `json:"actor_id,omitempty"`
}
