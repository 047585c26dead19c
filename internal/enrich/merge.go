package enrich

import (
	"log/slog"
	"sort"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

// MergeResult summarizes one merge pass. The base row count never changes;
// a merge only fills annotation fields on existing rows.
type MergeResult struct {
	Applied   int // rows whose null annotation was filled
	Unchanged int // rows where the incoming annotation matched the existing one
	Unmatched []models.Key
	Conflicts []*models.AnnotationConflictError
}

// Merge applies annotation rows to enriched records in place, keyed by
// (symbol, date). The operation is idempotent: re-applying the same
// annotations is a no-op. A key that maps to two different incoming
// annotations, or whose incoming annotation differs from an existing
// non-null one, is a conflict; the affected rows are marked conflicted and
// their stored values are never silently overwritten. Annotations whose key
// matches no row are reported as unmatched and otherwise ignored.
func Merge(rows []models.EnrichedRecord, incoming []models.AnnotationRow, logger *slog.Logger) *MergeResult {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "merge")

	result := &MergeResult{}

	byKey := make(map[models.Key][]int, len(rows))
	for i := range rows {
		key := rows[i].Key()
		byKey[key] = append(byKey[key], i)
	}

	// Collapse incoming rows per key first so an internal contradiction is
	// detected before anything touches the base rows.
	deduped := make(map[models.Key]models.AnnotationRow, len(incoming))
	conflicted := make(map[models.Key]struct{})
	for _, ann := range incoming {
		if ann.IsEmpty() {
			continue
		}
		prev, seen := deduped[ann.Key]
		if !seen {
			deduped[ann.Key] = ann
			continue
		}
		if prev.Explanation == ann.Explanation && prev.Trend == ann.Trend {
			continue
		}
		if _, already := conflicted[ann.Key]; !already {
			result.Conflicts = append(result.Conflicts, &models.AnnotationConflictError{
				Key:    ann.Key,
				First:  prev.Explanation,
				Second: ann.Explanation,
			})
			conflicted[ann.Key] = struct{}{}
		}
	}

	keys := make([]models.Key, 0, len(deduped))
	for key := range deduped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	for _, key := range keys {
		indices, ok := byKey[key]
		if !ok {
			result.Unmatched = append(result.Unmatched, key)
			continue
		}
		if _, bad := conflicted[key]; bad {
			for _, i := range indices {
				rows[i].Conflicted = true
			}
			continue
		}

		ann := deduped[key]
		for _, i := range indices {
			row := &rows[i]
			if row.Annotated() {
				if sameAnnotation(row, ann) {
					result.Unchanged++
					continue
				}
				existing := ""
				if row.Explanation != nil {
					existing = *row.Explanation
				}
				result.Conflicts = append(result.Conflicts, &models.AnnotationConflictError{
					Key:    key,
					First:  existing,
					Second: ann.Explanation,
				})
				row.Conflicted = true
				continue
			}
			explanation := ann.Explanation
			trend := ann.Trend
			row.Explanation = &explanation
			row.Trend = &trend
			result.Applied++
		}
	}

	sort.Slice(result.Unmatched, func(i, j int) bool {
		return result.Unmatched[i].Less(result.Unmatched[j])
	})

	logger.Info("merge complete",
		"applied", result.Applied,
		"unchanged", result.Unchanged,
		"unmatched", len(result.Unmatched),
		"conflicts", len(result.Conflicts),
	)
	return result
}

func sameAnnotation(row *models.EnrichedRecord, ann models.AnnotationRow) bool {
	explanation := ""
	if row.Explanation != nil {
		explanation = *row.Explanation
	}
	trend := ""
	if row.Trend != nil {
		trend = *row.Trend
	}
	return explanation == ann.Explanation && trend == ann.Trend
}
