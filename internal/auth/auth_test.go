package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"movimenti/internal/core"
)

func TestNewStaticVerifier(t *testing.T) {
	if _, err := NewStaticVerifier(nil); !errors.Is(err, ErrNoTokens) {
		t.Errorf("NewStaticVerifier(nil) error = %v, want ErrNoTokens", err)
	}
	if _, err := NewStaticVerifier([]string{" ", ""}); !errors.Is(err, ErrNoTokens) {
		t.Errorf("blank tokens should be ignored, got %v", err)
	}
}

func TestStaticVerifier_Verify(t *testing.T) {
	v, err := NewStaticVerifier([]string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		token   string
		wantErr bool
	}{
		{"alpha", false},
		{"beta", false},
		{"gamma", true},
		{"", true},
		{"alph", true},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			s, err := v.Verify(context.Background(), tt.token)
			if tt.wantErr {
				if !errors.Is(err, core.ErrUnauthorized) {
					t.Errorf("Verify(%q) error = %v, want ErrUnauthorized", tt.token, err)
				}
				return
			}
			if err != nil || s.Subject == "" {
				t.Errorf("Verify(%q) = %+v, %v", tt.token, s, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := BearerToken(r); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	v, _ := NewStaticVerifier([]string{"secret"})
	var authorized bool
	h := Middleware(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorized = Authorized(r.Context())
	}))

	for _, tt := range []struct {
		header string
		want   bool
	}{
		{"Bearer secret", true},
		{"Bearer wrong", false},
		{"", false},
	} {
		r := httptest.NewRequest(http.MethodPost, "/api/imports", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), r)
		if authorized != tt.want {
			t.Errorf("header %q: authorized = %v, want %v", tt.header, authorized, tt.want)
		}
	}
}

func TestAllowAll(t *testing.T) {
	s, err := AllowAll{}.Verify(context.Background(), "")
	if err != nil || s.Subject != "local" {
		t.Errorf("AllowAll.Verify() = %+v, %v", s, err)
	}
}
