package models

import (
	"strings"
	"time"
)

// SelectionCriteria is the status filter used to list candidates.
type SelectionCriteria struct {
	PipelineID string `firestore:"pipelineId" bson:"pipelineId" json:"pipelineId"`
	StatusID   string `firestore:"statusId" bson:"statusId" json:"statusId"`
}

// Pipeline is the explicit configuration of one document-kind pipeline.
// It is passed into every batch run instead of living in global state.
type Pipeline struct {
	Name         string
	Kind         DocumentKind
	Selection    SelectionCriteria
	Marker       string
	BatchLimit   int
	Collection   string
	NumberPrefix string
	NumberWidth  int
}

// PipelineSet indexes pipeline definitions by name.
type PipelineSet map[string]Pipeline

// Lookup finds a pipeline by name, ignoring case and surrounding space.
func (s PipelineSet) Lookup(name string) (Pipeline, bool) {
	p, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// CandidateRecord is a source-system entity that may be eligible for processing.
type CandidateRecord struct {
	ID         string
	Name       string
	StatusID   string
	Tags       []string
	Fields     map[string]string
	ContactIDs []string
	Products   []ProductRef
}

// HasMarker reports whether the processed marker is present. Tags compare
// case-insensitively.
func (c CandidateRecord) HasMarker(marker string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(marker)) {
			return true
		}
	}
	return false
}

// ProductRef links a candidate to a catalog element.
type ProductRef struct {
	CatalogID string
	ElementID string
	Quantity  float64
}

// RelatedEntities holds what FetchRelated resolved for one candidate.
type RelatedEntities struct {
	Contact  *Contact
	Products []Product
}

type Contact struct {
	ID    string
	Name  string
	Email string
	TRN   string
}

type Product struct {
	ID       string
	Name     string
	SKU      string
	Details  string
	Price    string
	Unit     string
	Quantity float64
}

// OutcomeStatus is the terminal state of one candidate within a batch.
type OutcomeStatus string

const (
	OutcomeSucceeded            OutcomeStatus = "succeeded"
	OutcomeSucceededWithWarning OutcomeStatus = "succeeded_with_warning"
	OutcomeSkipped              OutcomeStatus = "skipped"
	OutcomeFailed               OutcomeStatus = "failed"
)

// ProcessingOutcome is the ephemeral result for one candidate. Reason is set
// for skipped, failed and warning outcomes; DocumentKey once a record exists.
type ProcessingOutcome struct {
	CandidateID string        `firestore:"candidateId" bson:"candidateId" json:"candidateId"`
	Status      OutcomeStatus `firestore:"status" bson:"status" json:"status"`
	Step        string        `firestore:"step,omitempty" bson:"step,omitempty" json:"step,omitempty"`
	Reason      string        `firestore:"reason,omitempty" bson:"reason,omitempty" json:"reason,omitempty"`
	DocumentKey string        `firestore:"documentKey,omitempty" bson:"documentKey,omitempty" json:"documentKey,omitempty"`
}

// BatchSummary aggregates one batch run.
type BatchSummary struct {
	Pipeline   string              `firestore:"pipeline" bson:"pipeline" json:"pipeline"`
	Found      int                 `firestore:"found" bson:"found" json:"found"`
	Eligible   int                 `firestore:"eligible" bson:"eligible" json:"eligible"`
	Attempted  int                 `firestore:"attempted" bson:"attempted" json:"attempted"`
	Succeeded  int                 `firestore:"succeeded" bson:"succeeded" json:"succeeded"`
	Warnings   int                 `firestore:"warnings" bson:"warnings" json:"warnings"`
	Skipped    int                 `firestore:"skipped" bson:"skipped" json:"skipped"`
	Failed     int                 `firestore:"failed" bson:"failed" json:"failed"`
	Outcomes   []ProcessingOutcome `firestore:"outcomes" bson:"outcomes" json:"outcomes"`
	StartedAt  time.Time           `firestore:"startedAt" bson:"startedAt" json:"startedAt"`
	FinishedAt time.Time           `firestore:"finishedAt" bson:"finishedAt" json:"finishedAt"`
}

// Add appends an outcome and updates the counters.
func (s *BatchSummary) Add(o ProcessingOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeSucceededWithWarning:
		s.Warnings++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

// Batch run statuses.
const (
	RunScheduled = "SCHEDULED"
	RunRunning   = "RUNNING"
	RunCompleted = "COMPLETED"
	RunFailed    = "FAILED"
)

// BatchRun tracks one scheduled batch so its outcome can be queried after
// the trigger has been acknowledged.
type BatchRun struct {
	ID                  string        `firestore:"-" bson:"_id" json:"id"`
	Pipeline            string        `firestore:"pipeline" bson:"pipeline" json:"pipeline"`
	Status              string        `firestore:"status" bson:"status" json:"status"`
	ErrorDetails        string        `firestore:"errorDetails,omitempty" bson:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	Summary             *BatchSummary `firestore:"summary,omitempty" bson:"summary,omitempty" json:"summary,omitempty"`
	WorkflowExecutionID string        `firestore:"workflowExecutionId,omitempty" bson:"workflowExecutionId,omitempty" json:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time     `firestore:"createdAt" bson:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time     `firestore:"updatedAt" bson:"updatedAt" json:"updatedAt"`
}
