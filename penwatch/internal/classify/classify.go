// CLAUDE:SUMMARY Decides whether a focused element is an editable text target and which kind.
// Package classify decides which focused elements penwatch treats as text
// targets. It is pure: the caller supplies an attribute snapshot.
package classify

import (
	"strings"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

// nonTextInputs are input types that never hold free text.
var nonTextInputs = map[string]bool{
	"button":   true,
	"submit":   true,
	"reset":    true,
	"checkbox": true,
	"radio":    true,
	"file":     true,
	"image":    true,
}

// IsEligible reports whether info describes an element that should receive
// suggestions. A nil snapshot is never eligible.
func IsEligible(info *dom.Info) bool {
	if info == nil {
		return false
	}
	tag := strings.ToUpper(info.Tag)

	switch {
	case tag == "INPUT":
		return !nonTextInputs[strings.ToLower(info.Type)]
	case tag == "TEXTAREA":
		return true
	case info.ContentEditable:
		// Page-level editing roots and chat search boxes.
		if info.ID == "main" || info.Attr("data-tab") == "search" {
			return false
		}
		return true
	case tag == "DIV" && info.Role == "textbox" && info.Attr("data-tab") == "10":
		return true
	}
	return false
}

// KindOf maps an eligible element to its write strategy.
func KindOf(info *dom.Info) dom.Kind {
	if info == nil {
		return dom.KindPlain
	}
	switch strings.ToUpper(info.Tag) {
	case "INPUT", "TEXTAREA":
		return dom.KindPlain
	}
	return dom.KindRich
}

// IsSearchBox reports elements labelled as search fields.
func IsSearchBox(info *dom.Info) bool {
	if info == nil {
		return false
	}
	return strings.Contains(strings.ToLower(info.Attr("aria-label")), "search")
}
