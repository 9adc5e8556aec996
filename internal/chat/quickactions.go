package chat

import "strings"

// QuickAction is a canned message offered on an empty chat.
type QuickAction struct {
	Label   string
	Message string
}

// QuickActions are the canned messages, in display order.
var QuickActions = []QuickAction{
	{Label: "Check Connection", Message: "Check my internet connection status"},
	{Label: "Account Balance", Message: "What is my account balance?"},
	{Label: "Technical Support", Message: "I need technical support for my internet connection"},
	{Label: "Open Ticket", Message: "I want to create a support ticket"},
}

// FindQuickAction resolves a 1-based index ("2") or a case-insensitive label.
func FindQuickAction(ref string) (QuickAction, bool) {
	ref = strings.TrimSpace(ref)
	if len(ref) == 1 && ref[0] >= '1' && int(ref[0]-'0') <= len(QuickActions) {
		return QuickActions[ref[0]-'1'], true
	}
	for _, qa := range QuickActions {
		if strings.EqualFold(qa.Label, ref) {
			return qa, true
		}
	}
	return QuickAction{}, false
}
