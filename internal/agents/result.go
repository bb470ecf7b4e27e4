package agents

import (
	"github.com/codalotl/agentconform/internal/types"
)

// HasError reports whether any event has type "error" or carries an "error" field.
func HasError(res *types.ExecutionResult) bool {
	if res == nil {
		return false
	}
	for _, event := range res.Events {
		if t, ok := event.Get("type"); ok {
			if s, _ := t.Str(); s == "error" {
				return true
			}
		}
		if e, ok := event.Get("error"); ok && e.Truthy() {
			return true
		}
	}
	return false
}

// ErrorMessages returns the text of error events, in order.
func ErrorMessages(res *types.ExecutionResult) []string {
	if res == nil {
		return nil
	}
	var msgs []string
	for _, event := range res.Events {
		if t, ok := event.Get("type"); ok {
			if s, _ := t.Str(); s == "error" {
				if m, ok := event.Get("message"); ok && m.Truthy() {
					msgs = append(msgs, m.Text())
					continue
				}
			}
		}
		if e, ok := event.Get("error"); ok && e.Truthy() {
			if m, ok := e.Get("message"); ok && m.Truthy() {
				msgs = append(msgs, m.Text())
			} else {
				msgs = append(msgs, e.Text())
			}
		}
	}
	return msgs
}
