package citation

// OverlapKind classifies how two citations' spans relate.
type OverlapKind string

const (
	OverlapIdentical  OverlapKind = "identical"
	OverlapContains   OverlapKind = "contains"
	OverlapPartial    OverlapKind = "partial_overlap"
)

// IndexIssue reports a citation whose indices are inconsistent with the
// answer text.
type IndexIssue struct {
	Index      int
	StartIndex int
	EndIndex   int
	Reason     string
}

// OverlapIssue reports a pair of citations whose spans overlap.
type OverlapIssue struct {
	IndexA, IndexB int
	Kind           OverlapKind
}

// ValidationReport is the diagnostic output of Validate: for tests and
// integrity checks only, per spec.md §4.3 "Validation utilities". Nothing
// in this report causes a runtime failure.
type ValidationReport struct {
	IndexIssues   []IndexIssue
	OverlapIssues []OverlapIssue
}

// Validate checks citations against the text they annotate, reporting
// out-of-bounds/inverted indices and overlapping pairs.
func Validate(text string, citations []Citation) ValidationReport {
	var report ValidationReport
	n := len(text)

	for i, c := range citations {
		switch {
		case c.StartIndex < 0 || c.EndIndex > n:
			report.IndexIssues = append(report.IndexIssues, IndexIssue{
				Index: i, StartIndex: c.StartIndex, EndIndex: c.EndIndex,
				Reason: "index outside text bounds",
			})
		case c.StartIndex > c.EndIndex:
			report.IndexIssues = append(report.IndexIssues, IndexIssue{
				Index: i, StartIndex: c.StartIndex, EndIndex: c.EndIndex,
				Reason: "start index after end index",
			})
		}
	}

	for i := 0; i < len(citations); i++ {
		for j := i + 1; j < len(citations); j++ {
			if kind, overlaps := classifyOverlap(citations[i], citations[j]); overlaps {
				report.OverlapIssues = append(report.OverlapIssues, OverlapIssue{
					IndexA: i, IndexB: j, Kind: kind,
				})
			}
		}
	}

	return report
}

func classifyOverlap(a, b Citation) (OverlapKind, bool) {
	if a.StartIndex == b.StartIndex && a.EndIndex == b.EndIndex {
		return OverlapIdentical, true
	}
	if a.StartIndex <= b.StartIndex && a.EndIndex >= b.EndIndex {
		return OverlapContains, true
	}
	if b.StartIndex <= a.StartIndex && b.EndIndex >= a.EndIndex {
		return OverlapContains, true
	}
	if a.StartIndex < b.EndIndex && b.StartIndex < a.EndIndex {
		return OverlapPartial, true
	}
	return "", false
}
