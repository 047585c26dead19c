package models

// AnnotationRow is one externally produced explanation for a flagged record.
// Rows arrive from the annotation provider and are not guaranteed unique or
// complete relative to the flagged dataset.
type AnnotationRow struct {
	Key         Key              `json:"key"`
	Explanation string           `json:"explanation"`
	Trend       string           `json:"trend"`
	Status      AnnotationStatus `json:"status,omitempty"`
}

// IsEmpty reports whether the row carries no annotation content.
func (a AnnotationRow) IsEmpty() bool {
	return a.Explanation == "" && a.Trend == ""
}

// EnrichedRecord is a flagged record joined with its optional annotation.
// The annotation fields are nil until a merge fills them; Conflicted marks
// rows whose annotation was withheld because the batch carried two different
// non-null values for the same key.
type EnrichedRecord struct {
	Record
	Flags             []Flag    `json:"flags"`
	EffectiveSeverity *Severity `json:"effective_severity,omitempty"`
	Explanation       *string   `json:"explanation,omitempty"`
	Trend             *string   `json:"trend,omitempty"`
	Conflicted        bool      `json:"conflicted,omitempty"`
}

// Annotated reports whether this row already carries an annotation.
// Merges only recompute rows where this is false.
func (e *EnrichedRecord) Annotated() bool {
	return e.Explanation != nil || e.Trend != nil
}

// AnnotationStatus tracks the provider outcome for one record key across runs.
type AnnotationStatus string

const (
	// AnnotationPending marks rows not yet attempted.
	AnnotationPending AnnotationStatus = "pending"
	// AnnotationDone marks rows successfully annotated.
	AnnotationDone AnnotationStatus = "done"
	// AnnotationFailed marks rows whose retries were exhausted; they are not
	// re-attempted automatically on subsequent runs.
	AnnotationFailed AnnotationStatus = "failed"
)
