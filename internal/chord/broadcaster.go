package chord

// Finger event types
const (
	EventFingerImproved = "finger_improved"
	EventConverged      = "converged"
)

// Broadcaster is an interface for broadcasting convergence progress.
// This lets the protocol notify external systems (like WebSocket clients)
// about table changes without creating circular dependencies.
type Broadcaster interface {
	// BroadcastFingerEvent sends a convergence notification.
	// Implementations must be safe for concurrent use.
	BroadcastFingerEvent(event FingerEvent) error
}

// FingerEvent describes a routing table change.
type FingerEvent struct {
	Type     string `json:"type"`              // "finger_improved", "converged"
	NodeID   string `json:"node_id,omitempty"` // key of the node whose table changed
	FinalID  string `json:"final_id,omitempty"`
	Length   int    `json:"length,omitempty"`
	Evicted  int    `json:"evicted,omitempty"` // number of slots that switched to the chain
	Mode     string `json:"mode,omitempty"`
	Messages int64  `json:"messages,omitempty"`
}
