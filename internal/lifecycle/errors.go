package lifecycle

import "fmt"

// AgentPermissionError reports a refused agent operation: the id is not
// allow-listed, the requested scrutiny exceeds the agent's bound, or
// finalize was attempted without allow_finalize. The failed operation
// mutates nothing.
type AgentPermissionError struct {
	AgentID string
	Reason  string
}

func (e *AgentPermissionError) Error() string {
	return fmt.Sprintf("lifecycle: agent %q: %s", e.AgentID, e.Reason)
}
