package models

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ChatRequest is the input of one conversational turn. SessionID is optional; when
// empty a new session is started.
type ChatRequest struct {
	Question  string `json:"question" validate:"required,max=8000"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
	Model     string `json:"model,omitempty" validate:"omitempty,max=128"`
}

// Validate trims the question and checks field constraints.
func (r *ChatRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.Model = strings.TrimSpace(r.Model)
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("chat request: %w", err)
	}
	return nil
}

// ChatResponse is the result of one conversational turn.
type ChatResponse struct {
	Answer    string           `json:"answer"`
	SessionID string           `json:"session_id"`
	Model     string           `json:"model"`
	Query     string           `json:"query,omitempty"`
	Sources   []*ScoredPassage `json:"sources,omitempty"`
}

// DeleteRequest identifies a document to delete.
type DeleteRequest struct {
	FileID string `json:"file_id" validate:"required"`
}

// Validate checks that a document id is present.
func (r *DeleteRequest) Validate() error {
	r.FileID = strings.TrimSpace(r.FileID)
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return nil
}
