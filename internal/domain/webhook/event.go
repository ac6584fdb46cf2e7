package webhook

import "time"

// SCMEventType is the value of the X-GitHub-Event header.
type SCMEventType string

const (
	SCMEventPush        SCMEventType = "push"
	SCMEventPullRequest SCMEventType = "pull_request"
	SCMEventPing        SCMEventType = "ping"
)

// SCMEvent is the normalized header of an inbound SCM webhook.
type SCMEvent struct {
	Type       SCMEventType `json:"type"`
	DeliveryID string       `json:"delivery_id,omitempty"`
	Repository string       `json:"repository"`
	Branch     string       `json:"branch,omitempty"`
	Sender     string       `json:"sender,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
}

// PushEvent contains details specific to push events.
type PushEvent struct {
	SCMEvent
	Before  string   `json:"before"`
	After   string   `json:"after"`
	Forced  bool     `json:"forced"`
	Commits []Commit `json:"commits"`
}

// Commit is a single commit in a push event.
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Author  string `json:"author"`
}

// PullRequestEvent contains details specific to pull request events.
type PullRequestEvent struct {
	SCMEvent
	Action     string `json:"action"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	BaseBranch string `json:"base_branch"`
	HeadBranch string `json:"head_branch"`
	Merged     bool   `json:"merged"`
}
