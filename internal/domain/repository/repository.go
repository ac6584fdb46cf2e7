// Package repository defines the upstream repository listing types.
package repository

import "time"

// Repository is a source repository as reported by the upstream platform.
type Repository struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName,omitempty"`
	URL           string    `json:"url,omitempty"`
	DefaultBranch string    `json:"defaultBranch,omitempty"`
	Private       bool      `json:"private,omitempty"`
	Archived      bool      `json:"archived,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitzero"`
}

// DisplayName returns the full name when known, otherwise the short name.
func (r Repository) DisplayName() string {
	if r.FullName != "" {
		return r.FullName
	}
	return r.Name
}

// Page is one page of a repository listing. An empty NextCursor means
// there are no further pages. The cursor is opaque to callers and is
// passed back verbatim to fetch the following page.
type Page struct {
	Items      []Repository `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// HasNext reports whether another page can be fetched.
func (p *Page) HasNext() bool {
	return p != nil && p.NextCursor != ""
}

// Branch is a repository branch.
type Branch struct {
	Name      string `json:"name"`
	CommitSHA string `json:"commitSha,omitempty"`
	Protected bool   `json:"protected,omitempty"`
}

// EventQuery filters the activity listing of a repository.
type EventQuery struct {
	Types     []string
	StartDate string
	EndDate   string
}

// Event is an activity record for a repository.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"createdAt,omitzero"`
	Actor     string         `json:"actor,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
