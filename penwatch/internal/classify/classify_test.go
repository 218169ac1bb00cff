package classify

import (
	"testing"

	"github.com/hazyhaar/penwatch/penwatch/dom"
)

func TestIsEligible_Inputs(t *testing.T) {
	for _, typ := range []string{"text", "email", "search", "url", ""} {
		if !IsEligible(&dom.Info{Tag: "INPUT", Type: typ}) {
			t.Fatalf("input type %q: got ineligible", typ)
		}
	}
	for _, typ := range []string{"button", "submit", "reset", "checkbox", "radio", "file", "image", "CHECKBOX"} {
		if IsEligible(&dom.Info{Tag: "INPUT", Type: typ}) {
			t.Fatalf("input type %q: got eligible", typ)
		}
	}
}

func TestIsEligible_Textarea(t *testing.T) {
	if !IsEligible(&dom.Info{Tag: "TEXTAREA"}) {
		t.Fatal("textarea should be eligible")
	}
}

func TestIsEligible_ContentEditable(t *testing.T) {
	if !IsEligible(&dom.Info{Tag: "DIV", ContentEditable: true}) {
		t.Fatal("contenteditable div should be eligible")
	}
	if IsEligible(&dom.Info{Tag: "DIV", ID: "main", ContentEditable: true}) {
		t.Fatal("id=main should be excluded")
	}
	if IsEligible(&dom.Info{Tag: "DIV", ContentEditable: true, Attrs: map[string]string{"data-tab": "search"}}) {
		t.Fatal("data-tab=search should be excluded")
	}
}

func TestIsEligible_RoleTextbox(t *testing.T) {
	info := &dom.Info{Tag: "DIV", Role: "textbox", Attrs: map[string]string{"data-tab": "10"}}
	if !IsEligible(info) {
		t.Fatal("role=textbox data-tab=10 should be eligible")
	}
	info.Attrs["data-tab"] = "3"
	if IsEligible(info) {
		t.Fatal("role=textbox with another data-tab should not be eligible")
	}
}

func TestIsEligible_Other(t *testing.T) {
	if IsEligible(nil) {
		t.Fatal("nil should not be eligible")
	}
	for _, tag := range []string{"SPAN", "BUTTON", "SELECT", "BODY"} {
		if IsEligible(&dom.Info{Tag: tag}) {
			t.Fatalf("%s should not be eligible", tag)
		}
	}
}

func TestIsEligible_Deterministic(t *testing.T) {
	info := &dom.Info{Tag: "DIV", ContentEditable: true, Attrs: map[string]string{"data-tab": "10"}}
	first := IsEligible(info)
	for i := 0; i < 10; i++ {
		if IsEligible(info) != first {
			t.Fatal("classification changed between calls")
		}
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(&dom.Info{Tag: "TEXTAREA"}) != dom.KindPlain {
		t.Fatal("textarea should be plain")
	}
	if KindOf(&dom.Info{Tag: "DIV", ContentEditable: true}) != dom.KindRich {
		t.Fatal("contenteditable should be rich")
	}
	if got := dom.KindRich.String(); got != "rich-editor" {
		t.Fatalf("got %q, want rich-editor", got)
	}
}

func TestIsSearchBox(t *testing.T) {
	if !IsSearchBox(&dom.Info{Attrs: map[string]string{"aria-label": "Search or start new chat"}}) {
		t.Fatal("aria-label with search should match")
	}
	if IsSearchBox(&dom.Info{Attrs: map[string]string{"aria-label": "Type a message"}}) {
		t.Fatal("message box should not match")
	}
}
