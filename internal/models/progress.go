package models

// ProgressState is the durable record of an audit run, written whole on
// every update so that a separate process invocation can always load it.
// Field names match the on-disk JSON layout consumed by resumed runs;
// renaming one is a breaking change to existing progress files.
type ProgressState struct {
	Timestamp           string   `json:"Timestamp"` // run identifier, stable across resumes
	AccountID           string   `json:"AccountId"`
	ResourceGroup       string   `json:"ResourceGroup"`
	RetentionDays       int      `json:"RetentionDays"`
	StartTime           string   `json:"StartTime"`  // ISO-8601
	LastUpdate          string   `json:"LastUpdate"` // ISO-8601, set on every write
	CompletedContainers []string `json:"CompletedContainers"`
}

// IsCompleted reports whether the named container is in the completed set.
func (p *ProgressState) IsCompleted(container string) bool {
	for _, name := range p.CompletedContainers {
		if name == container {
			return true
		}
	}
	return false
}
