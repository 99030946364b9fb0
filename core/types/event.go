// Package types holds the value types shared between the lottery engine and
// its event consumers.
package types

// Event is a typed notification produced by a committed state change.
// Attributes are flat strings so archives and streams can index them.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the attribute value for key, or "" when absent.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
