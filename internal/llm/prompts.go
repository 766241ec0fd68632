package llm

import (
	"strings"

	"github.com/hyperjump/docchat/internal/models"
)

const answerSystemPrompt = "You are a helpful AI assistant. Use the following context to answer the user's question in detail."

// ReformulationRequest asks for a standalone version of question given history.
func ReformulationRequest(contextualizePrompt, question string, history []models.HistoryMessage) *Request {
	return &Request{
		System:   contextualizePrompt,
		Messages: withQuestion(history, question),
	}
}

// AnswerRequest asks for an answer to question grounded in passages.
func AnswerRequest(question string, passages []*models.ScoredPassage, history []models.HistoryMessage) *Request {
	return &Request{
		System:   answerSystemPrompt + "\n\nContext: " + FormatContext(passages),
		Messages: withQuestion(history, question),
	}
}

// FormatContext joins passage texts in retrieval order, separated by blank lines.
func FormatContext(passages []*models.ScoredPassage) string {
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		if p == nil || p.Passage == nil {
			continue
		}
		texts = append(texts, p.Passage.Text)
	}
	return strings.Join(texts, "\n\n")
}

func withQuestion(history []models.HistoryMessage, question string) []models.HistoryMessage {
	msgs := make([]models.HistoryMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	return append(msgs, models.HistoryMessage{Role: models.RoleUser, Content: question})
}
