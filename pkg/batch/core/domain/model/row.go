package model

// RowRecord is one input row reduced to what the pipeline needs.
type RowRecord struct {
	// Index is 0-based within the data region (header excluded). Windowing does not
	// renumber rows, so the index is stable across resumes.
	Index int `json:"index"`
	// Content is the selected field values joined by a single space.
	Content string `json:"content"`
	// OriginalData holds every field value in header order.
	OriginalData []string `json:"originalData"`
	// ProcessedFields are the field indices Content was built from.
	ProcessedFields []int `json:"processedFields"`
}

// ResultRow is a successful row as handed to the progress tracker.
type ResultRow struct {
	// Position is the 1-based row position written to the results file.
	Position int
	Data     Record
	// Raw is the normalized provider response, written to the raw response log.
	Raw interface{}
}

// RowOutcome is the resolved result of dispatching one row.
type RowOutcome struct {
	Index   int
	Success bool
	// Skipped rows are counted but neither written nor treated as errors.
	Skipped         bool
	Result          ResultRow
	OriginalContent string
	Error           string
	// Reason is a short machine readable classification of Error.
	Reason     string
	RetryCount int
}

// APIResult is a normalized provider response. Value is a Record when the
// response was a JSON object, otherwise any decoded JSON value or plain text.
type APIResult struct {
	Value interface{}
}

// Fields returns the object fields of the result, or nil when it is not an object.
func (r *APIResult) Fields() Record {
	if r == nil {
		return nil
	}
	if rec, ok := r.Value.(Record); ok {
		return rec
	}
	return nil
}
