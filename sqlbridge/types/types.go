package types

import "encoding/json"

// --- JSON structures exchanged between a caller and the bridge ---

// Action names understood by the bridge.
const (
	ActionOpen        = "open"
	ActionQueryScalar = "query-scalar"
	ActionQueryArray  = "query-array"
	ActionBatchExec   = "batch-exec"
	ActionClose       = "close"
)

// aliases maps the action names used by older callers onto the current ones.
var aliases = map[string]string{
	"openDatabase":          ActionOpen,
	"execQuerySingleResult": ActionQueryScalar,
	"execQueryArrayResult":  ActionQueryArray,
	"execQueryNoResult":     ActionBatchExec,
	"closeDB":               ActionClose,
}

// CanonicalAction resolves legacy action names. Unknown names are returned
// unchanged.
func CanonicalAction(action string) string {
	if canonical, ok := aliases[action]; ok {
		return canonical
	}
	return action
}

// Request is a single call into the bridge.
type Request struct {
	ID     string            `json:"id,omitempty"` // Caller-chosen correlation ID, echoed in the response
	Action string            `json:"action"`
	Args   []json.RawMessage `json:"args,omitempty"` // Positional arguments, decoded per action
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the answer to exactly one Request.
type Response struct {
	ID        string          `json:"id,omitempty"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`   // Absent for actions without a payload, "null" for a null scalar
	Truncated bool            `json:"truncated,omitempty"` // Set when an array payload is a prefix of the full result
	Kind      string          `json:"kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// OK reports whether the response carries a success status.
func (r Response) OK() bool {
	return r.Status == StatusOK
}
