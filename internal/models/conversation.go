package models

import "time"

// ConversationTurn is one persisted question/answer exchange.
type ConversationTurn struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Question  string    `json:"question" db:"question"`
	Answer    string    `json:"answer" db:"answer"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Role identifies the speaker of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryMessage is one side of a turn, as handed to the language model.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Messages flattens turns into alternating user/assistant messages, keeping each
// question immediately followed by its own answer.
func Messages(turns []*ConversationTurn) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(turns)*2)
	for _, t := range turns {
		out = append(out,
			HistoryMessage{Role: RoleUser, Content: t.Question},
			HistoryMessage{Role: RoleAssistant, Content: t.Answer},
		)
	}
	return out
}
