package elastic

import (
	"encoding/json"
	"time"
)

type Finding struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources"`
	CreatedAt  time.Time `json:"created_at"`
}

type Session struct {
	ID         string     `json:"id"`
	Topic      string     `json:"topic"`
	Project    string     `json:"project"`
	Status     string     `json:"status"`
	URLCount   int        `json:"url_count"`
	StartedAt  time.Time  `json:"started_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

type FindingDoc struct {
	SessionID  string    `json:"session_id"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources"`
	CreatedAt  time.Time `json:"created_at"`
}

func BuildFindingDoc(f Finding) ([]byte, error) {
	sources := f.Sources
	if sources == nil {
		sources = []string{}
	}
	return json.Marshal(FindingDoc{
		SessionID: f.SessionID, Type: f.Type, Content: f.Content,
		Confidence: f.Confidence, Sources: sources, CreatedAt: f.CreatedAt,
	})
}

type SessionDoc struct {
	Topic      string     `json:"topic"`
	Project    string     `json:"project"`
	Status     string     `json:"status"`
	URLCount   int        `json:"url_count"`
	StartedAt  time.Time  `json:"started_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

func BuildSessionDoc(s Session) ([]byte, error) {
	return json.Marshal(SessionDoc{s.Topic, s.Project, s.Status, s.URLCount, s.StartedAt, s.ArchivedAt})
}
