// internal/webhook/payload.go
package webhook

import (
	"encoding/json"
	"errors"
	"time"

	"commit-streak-service/internal/model"
)

// ErrMalformedPayload is returned when the body is not valid JSON or lacks
// the repository field. The handler maps it to a 400 response.
var ErrMalformedPayload = errors.New("malformed push payload")

// pushPayload mirrors the provider's wire format. It stays private to this
// package; nothing downstream sees the wire shape.
type pushPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
	Commits []struct {
		SHA       string `json:"sha"`
		Timestamp string `json:"timestamp"`
		URL       string `json:"url"`
		Message   string `json:"message"`
	} `json:"commits"`
}

// ParsePush decodes a raw push event body into the internal PushEvent shape.
// Commit timestamps that do not parse as RFC 3339 are kept with HasTime=false
// so the aggregator can discard them; a missing repository full name is a
// malformed payload.
func ParsePush(rawBody []byte) (model.PushEvent, error) {
	var p pushPayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return model.PushEvent{}, ErrMalformedPayload
	}
	if p.Repository.FullName == "" {
		return model.PushEvent{}, ErrMalformedPayload
	}

	event := model.PushEvent{
		RepoFullName: p.Repository.FullName,
		RepoHTMLURL:  p.Repository.HTMLURL,
		Commits:      make([]model.PushCommit, 0, len(p.Commits)),
	}
	for _, c := range p.Commits {
		commit := model.PushCommit{
			SHA:     c.SHA,
			Message: c.Message,
			URL:     c.URL,
		}
		if ts, err := time.Parse(time.RFC3339, c.Timestamp); err == nil {
			commit.Timestamp = ts
			commit.HasTime = true
		}
		event.Commits = append(event.Commits, commit)
	}
	return event, nil
}
