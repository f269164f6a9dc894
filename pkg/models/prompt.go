package models

import "time"

// Response kinds for prompt questions.
const (
	ResponseMessage = "message"
	ResponseList    = "list"
)

// PromptQuestion is one entry of a prompt response schema.
type PromptQuestion struct {
	Prompt  string   `json:"prompt,omitempty" yaml:"prompt"`
	Type    string   `json:"type" yaml:"type"`
	Choices []string `json:"choices,omitempty" yaml:"choices"`
}

// PromptRequest is what an analyst is asked.
type PromptRequest struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	ContainerID string           `json:"container_id"`
	Node        string           `json:"node"`
	User        string           `json:"user"`
	Message     string           `json:"message"`
	Questions   []PromptQuestion `json:"questions"`
	Deadline    time.Time        `json:"deadline"`
}

// PromptResponse carries one answer per question.
type PromptResponse struct {
	RequestID string    `json:"request_id"`
	Responder string    `json:"responder,omitempty"`
	Answers   []string  `json:"answers"`
	Timestamp time.Time `json:"ts"`
}
