// Package registration holds the result types of a bulk webhook
// registration run.
package registration

// Summary is the aggregate result of one bulk run.
// Registered + Failed == TotalRepositories holds once a run returns.
type Summary struct {
	OrganizationID    string `json:"organizationId"`
	TotalRepositories int    `json:"totalRepositories"`
	Registered        int    `json:"registered"`
	Failed            int    `json:"failed"`
	// Incomplete is set when the run stopped early on its deadline or an
	// open circuit.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Outcome is the result of registering a single repository.
type Outcome struct {
	RepositoryID string
	Name         string
	WebhookID    string
	Err          error
}

// OK reports whether the registration succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Record folds one outcome into the summary.
func (s *Summary) Record(o Outcome) {
	s.TotalRepositories++
	if o.OK() {
		s.Registered++
		return
	}
	s.Failed++
}

// Consistent reports whether the counters add up.
func (s Summary) Consistent() bool {
	return s.Registered+s.Failed == s.TotalRepositories
}
