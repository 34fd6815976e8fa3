package httpclient

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		status int
		code   ErrorCode
		nilErr bool
	}{
		{200, 0, true},
		{201, 0, true},
		{204, 0, true},
		{400, ErrCodeValidation, false},
		{401, ErrCodeAuth, false},
		{403, ErrCodeAuth, false},
		{404, ErrCodeNotFound, false},
		{422, ErrCodeValidation, false},
		{500, ErrCodeServer, false},
		{503, ErrCodeServer, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := ClassifyStatusCode(tt.status, nil)
			if tt.nilErr {
				if err != nil {
					t.Errorf("expected nil error for %d, got %v", tt.status, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error for %d", tt.status)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, err.StatusCode)
			}
		})
	}
}

func TestError_Detail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail key", `{"detail":"Email not verified"}`, "Email not verified"},
		{"error key", `{"error":"Invalid refresh token"}`, "Invalid refresh token"},
		{"message key", `{"message":"Too many attempts"}`, "Too many attempts"},
		{"detail wins over error", `{"detail":"d","error":"e"}`, "d"},
		{"error wins over message", `{"error":"e","message":"m"}`, "e"},
		{"empty body", ``, ""},
		{"not json", `<html>502</html>`, ""},
		{"no known keys", `{"status":"bad"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Error{StatusCode: 400, Code: ErrCodeValidation, Body: []byte(tt.body)}
			if got := e.Detail(); got != tt.want {
				t.Errorf("Detail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_HasCode(t *testing.T) {
	e := &Error{StatusCode: 401, Code: ErrCodeAuth, Body: []byte(`{"code":"token_not_valid","detail":"expired"}`)}
	if !e.HasCode("token_not_valid") {
		t.Error("expected HasCode(token_not_valid)=true")
	}
	if e.HasCode("user_not_found") {
		t.Error("expected HasCode(user_not_found)=false")
	}

	empty := &Error{StatusCode: 401, Code: ErrCodeAuth}
	if empty.HasCode("token_not_valid") {
		t.Error("expected HasCode on empty body to be false")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := NewConnectionError(cause)
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestIsHelpers(t *testing.T) {
	if !IsAuth(NewAuthError(401, nil)) {
		t.Error("IsAuth should match auth errors")
	}
	if IsAuth(NewServerError(500, nil)) {
		t.Error("IsAuth should not match server errors")
	}
	if !IsRetryable(NewServerError(500, nil)) {
		t.Error("5xx should be retryable")
	}
	if IsRetryable(NewAuthError(401, nil)) {
		t.Error("401 should not be retryable")
	}
	if !IsTimeout(NewTimeoutError(errors.New("deadline"))) {
		t.Error("IsTimeout should match timeout errors")
	}
	if !IsNotFound(ClassifyStatusCode(404, nil)) {
		t.Error("IsNotFound should match 404")
	}
}
