package models

// TriggerKind is the event kind that starts an execution.
type TriggerKind string

const (
	TriggerKindFormSubmission TriggerKind = "form_submission"
	TriggerKindManual         TriggerKind = "manual"
	TriggerKindSchedule       TriggerKind = "schedule"
	TriggerKindWebhook        TriggerKind = "webhook"
	TriggerKindAPI            TriggerKind = "api"
)

// TriggerKinds returns every supported trigger kind.
func TriggerKinds() []TriggerKind {
	return []TriggerKind{
		TriggerKindFormSubmission,
		TriggerKindManual,
		TriggerKindSchedule,
		TriggerKindWebhook,
		TriggerKindAPI,
	}
}

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	for _, known := range TriggerKinds() {
		if k == known {
			return true
		}
	}

	return false
}

// IsPublic reports whether the kind arrives from an unauthenticated caller.
func (k TriggerKind) IsPublic() bool {
	return k == TriggerKindAPI || k == TriggerKindWebhook
}

// TriggerSource is audit metadata about who fired a trigger.
type TriggerSource struct {
	IP        string `json:"ip,omitempty" bson:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	ActorID   string `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
}

// Trigger describes the event that started an execution.
type Trigger struct {
	Type    TriggerKind    `json:"type" bson:"type"`
	Payload map[string]any `json:"payload,omitempty" bson:"payload,omitempty"`
	Source  TriggerSource  `json:"source" bson:"source"`
}
