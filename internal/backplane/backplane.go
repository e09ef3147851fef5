package backplane

import "context"

// Message is one room-scoped frame relayed between server processes.
// TargetUserID narrows delivery to one user's connections; ExcludeUserID
// skips the originating user so sender-exclusion semantics hold across
// processes. Frame is the already-encoded event envelope.
type Message struct {
	Origin        string `json:"origin"`
	SessionID     string `json:"sessionId"`
	TargetUserID  string `json:"targetUserId,omitempty"`
	ExcludeUserID string `json:"excludeUserId,omitempty"`
	Frame         []byte `json:"frame"`
}

// Backplane fans room broadcasts out to sibling server processes. A nil
// Backplane means single-process mode: the hub checks before publishing.
type Backplane interface {
	// Publish sends a message to every other process. Implementations
	// filter the publisher's own messages out of its subscription.
	Publish(ctx context.Context, msg *Message) error
	// Subscribe starts delivering remote messages to fn until ctx ends.
	Subscribe(ctx context.Context, fn func(*Message)) error
	Close() error
}
