package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Debounce.Window != 2*time.Second || cfg.Debounce.Settle != 100*time.Millisecond {
		t.Fatalf("debounce defaults: %+v", cfg.Debounce)
	}
	if cfg.Debounce.Verify != 200*time.Millisecond || cfg.Debounce.ErrorDismiss != 3*time.Second {
		t.Fatalf("debounce defaults: %+v", cfg.Debounce)
	}
	if cfg.Overlay.Width != 200 || cfg.Overlay.Height != 50 {
		t.Fatalf("overlay defaults: %+v", cfg.Overlay)
	}
	if cfg.BlurPolicy != "suppress" || cfg.Browser.Mode != "headless" {
		t.Fatalf("got blur=%q mode=%q", cfg.BlurPolicy, cfg.Browser.Mode)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "penwatch.yaml")
	writeFile(t, path, `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/abc
pages:
  - https://example.com/chat
debounce:
  window: 1500ms
enhance:
  provider: openai
  model: gpt-4o-mini
blur_policy: cancel
prompt: "{text} but in French"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Debounce.Window != 1500*time.Millisecond {
		t.Fatalf("window = %v", cfg.Debounce.Window)
	}
	if cfg.Enhance.Provider != "openai" || cfg.BlurPolicy != "cancel" {
		t.Fatalf("got %+v", cfg)
	}
	if len(cfg.Pages) != 1 || cfg.Prompt != "{text} but in French" {
		t.Fatalf("pages=%v prompt=%q", cfg.Pages, cfg.Prompt)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "penwatch.toml")
	writeFile(t, path, `
blur_policy = "suppress"

[debounce]
window = "3s"

[overlay]
width = 240.0

[channel]
listen = "127.0.0.1:7777"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Debounce.Window != 3*time.Second || cfg.Overlay.Width != 240 {
		t.Fatalf("got %+v %+v", cfg.Debounce, cfg.Overlay)
	}
	if cfg.Channel.Listen != "127.0.0.1:7777" {
		t.Fatalf("listen = %q", cfg.Channel.Listen)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("PENWATCH_API_KEY", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Enhance.APIKey != "g-key" {
		t.Fatalf("api key = %q", cfg.Enhance.APIKey)
	}

	t.Setenv("PENWATCH_API_KEY", "p-key")
	cfg, _ = Load("")
	if cfg.Enhance.APIKey != "p-key" {
		t.Fatalf("PENWATCH_API_KEY should win, got %q", cfg.Enhance.APIKey)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.BlurPolicy = "ignore"
	cfg.Enhance.Provider = "llama"
	cfg.Channel.TokenHash = "not-a-hash"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, field := range []string{"blur_policy", "enhance.provider", "channel.token_hash"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	ok := Default()
	ok.Channel.TokenHash = string(hash)
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "blur_policy: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLoader_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "penwatch.yaml")
	writeFile(t, path, "prompt: first\n")

	l := NewLoader(path, nil)
	l.debounce = 20 * time.Millisecond
	cfg, err := l.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Prompt != "first" {
		t.Fatalf("prompt = %q", cfg.Prompt)
	}

	var mu sync.Mutex
	var got []string
	l.OnChange(func(c *Config) {
		mu.Lock()
		got = append(got, c.Prompt)
		mu.Unlock()
	})
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer l.Close()

	writeFile(t, path, "prompt: second\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 || got[len(got)-1] != "second" {
		t.Fatalf("reloads = %v, want last \"second\"", got)
	}
	if l.Config().Prompt != "second" {
		t.Fatalf("current prompt = %q", l.Config().Prompt)
	}
}

func TestLoader_RejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "penwatch.yaml")
	writeFile(t, path, "prompt: keep\n")
	l := NewLoader(path, nil)
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "blur_policy: sometimes\n")
	l.reload()
	if l.Config().Prompt != "keep" {
		t.Fatalf("invalid reload replaced config: %+v", l.Config())
	}
}
