package interview

import "github.com/ashureev/interview-room/internal/domain"

// BuildHistory projects a session's messages into the role-tagged window a
// language model accepts. User messages keep the "user" role; assistant
// messages take assistantRole. A scripted opening (an assistant message at
// position 0) is left out because models require the first supplied turn to
// come from the user. Later assistant messages are always kept.
func BuildHistory(messages []Message, assistantRole string) []domain.Turn {
	turns := make([]domain.Turn, 0, len(messages))
	for i, m := range messages {
		if i == 0 && m.Role == domain.RoleAssistant {
			continue
		}
		role := string(domain.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = assistantRole
		}
		turns = append(turns, domain.Turn{Role: role, Content: m.Content})
	}
	return turns
}
