package types

// Event represents a typed event emitted during state transitions. Attributes
// carry the actor, amounts and resulting state so external indexers can follow
// pool activity without replaying it.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
