package horosafe

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://generativelanguage.googleapis.com/v1beta", nil},
		{"http://example.com/hook", nil},
		{"ftp://evil.com/data", ErrUnsafeScheme},
		{"javascript:alert(1)", ErrUnsafeScheme},
		{"http://127.0.0.1/admin", ErrSSRF},
		{"http://10.0.0.1/internal", ErrSSRF},
		{"http://192.168.1.1/api", ErrSSRF},
		{"http://[::1]/api", ErrSSRF},
		{"http://[::ffff:127.0.0.1]/api", ErrSSRF},
		{"http://169.254.169.254/latest/meta-data", ErrSSRF},
		{"http://0.0.0.0:8080/", ErrSSRF},
	}
	old := lookupHost
	lookupHost = func(string) ([]string, error) { return []string{"93.184.215.14"}, nil }
	defer func() { lookupHost = old }()

	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.wantErr == nil && err != nil || tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateURL_ResolvesToPrivate(t *testing.T) {
	old := lookupHost
	lookupHost = func(string) ([]string, error) { return []string{"8.8.8.8", "10.1.2.3"}, nil }
	defer func() { lookupHost = old }()

	if err := ValidateURL("https://rebind.example/"); !errors.Is(err, ErrSSRF) {
		t.Fatalf("got %v, want ErrSSRF", err)
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := LimitedReadAll(strings.NewReader(data), 100)
	if err != nil || len(got) != 100 {
		t.Fatalf("got %d bytes, err %v", len(got), err)
	}
	if _, err := LimitedReadAll(strings.NewReader(data), 50); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"172.16.0.1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"2606:4700:4700::1111", false},
	}
	for _, tt := range tests {
		if got := isPrivate(netip.MustParseAddr(tt.ip)); got != tt.private {
			t.Errorf("isPrivate(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}
