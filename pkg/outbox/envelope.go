package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who produced the event. For settlement traffic this is
// usually a service identity ("system") or an operator principal.
type ActorRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
