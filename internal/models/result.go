package models

// Decision is the file-level outcome of aggregating part results.
type Decision string

const (
	AllPartsSucceeded Decision = "all_parts_succeeded"
	AnyPartFailed     Decision = "any_part_failed"
)

// PartResult is the terminal record of one part.
type PartResult struct {
	Part    Part
	Handle  JobHandle
	Payload *ResultPayload
	Err     *PipelineError
	// JSONPath is where the part's JSON was staged in the file's result dir.
	JSONPath string
	PDFPath  string
}

// AggregatedResult belongs to one SourceFile.
type AggregatedResult struct {
	SourcePath          string
	Parts               []PartResult
	Decision            Decision
	Split               bool
	OutputJSON          []string
	OutputPDF           string
	JSONStatus          string
	SearchablePDFStatus string
}

// Handles returns the part job handles in sequence order.
func (r *AggregatedResult) Handles() []JobHandle {
	out := make([]JobHandle, 0, len(r.Parts))
	for _, p := range r.Parts {
		if p.Handle != "" {
			out = append(out, p.Handle)
		}
	}
	return out
}
