package workflow

// Key correlates every interaction of one submission back to the member
// and the chat message that started it. Structured on purpose: joining the
// ids with a delimiter invites collisions and parse bugs.
type Key struct {
	MemberID  string
	MessageID string
}

func (k Key) Valid() bool {
	return k.MemberID != "" && k.MessageID != ""
}
