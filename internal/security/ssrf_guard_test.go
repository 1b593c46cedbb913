package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestURLGuardInterface(t *testing.T) {
	var _ URLGuard = NewURLGuard()
}

// TestNewSafeClient はタイムアウトとカスタムTransportが設定されることをテストする。
func TestNewSafeClient(t *testing.T) {
	client := NewURLGuard().NewSafeClient(5 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewURLGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Post(ts.URL, "application/json", nil); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewURLGuard()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.example.com/sailbook", false},
		{"http://notify.example.org/events", false},
		{"https://hooks.example.com:443/x", false},
		{"", true},
		{"not-a-url", true},
		{"ftp://example.com/hook", true},
		{"file:///etc/passwd", true},
		{"https://hooks.example.com:8443/x", true},
		{"http://10.0.0.1/hook", true},
		{"http://172.16.0.1/hook", true},
		{"http://192.168.1.100/hook", true},
		{"http://127.0.0.1/hook", true},
		{"http://localhost/hook", true},
		{"http://mail.localhost/hook", true},
		{"http://169.254.169.254/latest/meta-data/", true},
		{"http://[::1]/hook", true},
		{"http://0.0.0.0/hook", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL_CustomPorts(t *testing.T) {
	guard := NewURLGuard(443, 8443)
	if err := guard.ValidateURL("https://hooks.example.com:8443/x"); err != nil {
		t.Errorf("port 8443 should be allowed: %v", err)
	}
	if err := guard.ValidateURL("http://hooks.example.com/x"); err == nil {
		t.Error("port 80 should be rejected when not configured")
	}
}
