package workflow

import (
	"math"
	"time"

	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

type SLAStatus string

const (
	SLAOnTime  SLAStatus = "on_time"
	SLAOverdue SLAStatus = "overdue"
)

// urgentWindow flags pending reviews that are close to their deadline.
const urgentWindow = 6 * time.Hour

// Progress is derived from a document's stages on every read. It is never
// stored.
type Progress struct {
	Percentage      int          `json:"progress_percentage"`
	CompletedStages int          `json:"completed_stages"`
	TotalStages     int          `json:"total_stages"`
	CurrentStage    *store.Stage `json:"current_stage,omitempty"`
	SLAStatus       SLAStatus    `json:"sla_status,omitempty"`
	HoursRemaining  *int         `json:"hours_remaining,omitempty"`
	Urgent          bool         `json:"urgent"`
}

// ComputeProgress evaluates stages at now. A deadline equal to now is still
// on time.
func ComputeProgress(stages []*store.Stage, now time.Time) Progress {
	p := Progress{TotalStages: len(stages)}
	for _, st := range stages {
		switch st.Status {
		case store.StageCompleted:
			p.CompletedStages++
		case store.StagePending:
			if p.CurrentStage == nil {
				p.CurrentStage = st
			}
		}
	}
	p.Percentage = percentage(p.CompletedStages, p.TotalStages)

	if p.CurrentStage != nil && p.CurrentStage.SLADeadline != nil {
		p.SLAStatus, p.HoursRemaining, p.Urgent = slaFor(*p.CurrentStage.SLADeadline, now)
	}
	return p
}

// documentProgress is ComputeProgress with the percentage taken from the
// document: the stored value once terminal, capped below 100 while in review.
func documentProgress(doc *store.Document, stages []*store.Stage, now time.Time) Progress {
	p := ComputeProgress(stages, now)
	if doc.Status.Terminal() {
		p.Percentage = doc.CompletionPercentage
	} else {
		p.Percentage = inReviewPercentage(doc.CompletionPercentage, stages)
	}
	return p
}

func slaFor(deadline, now time.Time) (SLAStatus, *int, bool) {
	status := SLAOnTime
	if deadline.Before(now) {
		status = SLAOverdue
	}
	remaining := deadline.Sub(now)
	hours := int(math.Floor(remaining.Hours()))
	if hours < 0 {
		hours = 0
	}
	urgent := status == SLAOnTime && remaining < urgentWindow
	return status, &hours, urgent
}

func percentage(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
