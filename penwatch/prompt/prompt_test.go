package prompt

import (
	"strings"
	"testing"
)

func TestBuild_Placeholder(t *testing.T) {
	got := Outbound("{text} but in French", "Good morning")
	want := "Good morning but in French" + Suffix
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if strings.Count(got, "Good morning") != 1 {
		t.Fatalf("source text inserted more than once: %q", got)
	}
}

func TestBuild_PlaceholderRepeated(t *testing.T) {
	got := Build("{text} / {text}", "x")
	if got != "x / x" {
		t.Fatalf("got %q, want %q", got, "x / x")
	}
}

func TestBuild_Concatenation(t *testing.T) {
	got := Build("Translate to Hindi", "hello")
	want := "Translate to Hindi\n\nSource text:\nhello"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuild_InstructionOnly(t *testing.T) {
	if got := Build("  Write a haiku  ", ""); got != "Write a haiku" {
		t.Fatalf("got %q", got)
	}
}

func TestBuild_Default(t *testing.T) {
	got := Build("", "hi i is shivam")
	if got != Default+"hi i is shivam" {
		t.Fatalf("got %q", got)
	}
	if !strings.HasPrefix(Outbound("  ", "x"), "Fix any grammatical errors") {
		t.Fatal("blank stored prompt should fall back to default")
	}
}

func TestParse_OptionOne(t *testing.T) {
	got := Parse("Here you go.\nOption 1:   Hi, I am Shivam.\nOption 2: Hello, I'm Shivam.")
	if got != "Hi, I am Shivam." {
		t.Fatalf("got %q", got)
	}
	if got := Parse("option 1: lower case works"); got != "lower case works" {
		t.Fatalf("got %q", got)
	}
}

func TestParse_Whole(t *testing.T) {
	if got := Parse("  Hi, I am Shivam.\n"); got != "Hi, I am Shivam." {
		t.Fatalf("got %q", got)
	}
}

func TestParse_StripsMarkup(t *testing.T) {
	if got := Parse("<b>Hi</b>, I'm <i>here</i> & ready"); got != "Hi, I'm here & ready" {
		t.Fatalf("got %q", got)
	}
	if got := Parse("a < b"); got != "a < b" {
		t.Fatalf("got %q", got)
	}
}
