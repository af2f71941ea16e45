package expression

// ScopeInput carries everything a node expression may reference.
type ScopeInput struct {
	Payload     map[string]any
	Variables   map[string]any
	Outputs     map[string]any
	ExecutionID string
	WorkflowID  string
}

// NewScope builds the evaluation scope. Payload fields sit at the top level
// so conditions can say urgency == "critical"; node outputs keyed by node id
// shadow payload fields of the same name.
func NewScope(in ScopeInput) Scope {
	scope := make(Scope, len(in.Payload)+len(in.Outputs)+3)

	for k, v := range in.Payload {
		scope[k] = v
	}

	for k, v := range in.Outputs {
		scope[k] = v
	}

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	variables := in.Variables
	if variables == nil {
		variables = map[string]any{}
	}

	scope["trigger"] = payload
	scope["variables"] = variables
	scope["execution"] = map[string]any{
		"id":         in.ExecutionID,
		"workflowId": in.WorkflowID,
	}

	return scope
}

// With returns a copy of s with key bound to value.
func (s Scope) With(key string, value any) Scope {
	out := make(Scope, len(s)+1)
	for k, v := range s {
		out[k] = v
	}

	out[key] = value

	return out
}
