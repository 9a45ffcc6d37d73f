package convo

import "github.com/google/uuid"

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn-scoped entry in the running conversation. It is
// mutated in place while open and frozen once finalized.
type Message struct {
	ID         string
	Role       Role
	Text       string
	Audio      []byte
	VoiceLabel string
	Final      bool
}

func newMessage(role Role, voiceLabel string) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Role:       role,
		VoiceLabel: voiceLabel,
	}
}
