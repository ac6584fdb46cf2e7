package messagequeue

import "time"

// EventPayload is the schema for "<prefix>.events.*" and
// "<prefix>.webhooks.*" messages.
type EventPayload struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Source       string    `json:"source"`
	RepositoryID string    `json:"repository_id,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

func (p *EventPayload) check() error {
	switch {
	case p.ID == "":
		return errMissing("id")
	case p.Kind == "":
		return errMissing("kind")
	case p.Source == "":
		return errMissing("source")
	}
	return nil
}

// RegistrationCompletedPayload is the schema for
// "<prefix>.registration.completed" messages.
type RegistrationCompletedPayload struct {
	OrganizationID    string `json:"organizationId"`
	TotalRepositories int    `json:"totalRepositories"`
	Registered        int    `json:"registered"`
	Failed            int    `json:"failed"`
	Incomplete        bool   `json:"incomplete,omitempty"`
}

func (p *RegistrationCompletedPayload) check() error {
	if p.OrganizationID == "" {
		return errMissing("organizationId")
	}
	if p.Registered+p.Failed > p.TotalRepositories {
		return errInvalid("registered+failed exceeds totalRepositories")
	}
	return nil
}
