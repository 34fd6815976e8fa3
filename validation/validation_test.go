package validation

import (
	"strings"
	"testing"
)

type signupForm struct {
	Email     string `json:"email" validate:"required,email"`
	Username  string `json:"username" validate:"required,min=3,max=30"`
	Password  string `json:"password" validate:"required,min=8"`
	Password2 string `json:"password2" validate:"required,eqfield=Password"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		form    signupForm
		wantErr string
	}{
		{
			name: "valid",
			form: signupForm{
				Email:     "user@example.com",
				Username:  "user1",
				Password:  "password123",
				Password2: "password123",
			},
		},
		{
			name: "missing email",
			form: signupForm{
				Username:  "user1",
				Password:  "password123",
				Password2: "password123",
			},
			wantErr: "email: is required",
		},
		{
			name: "bad email",
			form: signupForm{
				Email:     "not-an-email",
				Username:  "user1",
				Password:  "password123",
				Password2: "password123",
			},
			wantErr: "email: must be a valid email address",
		},
		{
			name: "short password",
			form: signupForm{
				Email:     "user@example.com",
				Username:  "user1",
				Password:  "short",
				Password2: "short",
			},
			wantErr: "password: must be at least 8 characters",
		},
		{
			name: "password mismatch",
			form: signupForm{
				Email:     "user@example.com",
				Username:  "user1",
				Password:  "password123",
				Password2: "different123",
			},
			wantErr: "password2: must match password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.form)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateStruct() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateStruct() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateStruct() error = %q, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	err := ValidateStruct(signupForm{})
	if err == nil {
		t.Fatal("ValidateStruct() = nil, want error")
	}
	var verr *Error
	if !strings.Contains(err.Error(), "email") || !strings.Contains(err.Error(), "username") {
		t.Errorf("error should name every failing field, got %q", err)
	}
	var ok bool
	if verr, ok = err.(*Error); !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if len(verr.Fields) != 4 {
		t.Errorf("len(Fields) = %d, want 4", len(verr.Fields))
	}
}

func TestValidator_Collects(t *testing.T) {
	v := New()
	v.Required("email", "").
		MinLength("password", "pw", 8).
		Custom(false, "terms", "must be accepted")

	if !v.HasErrors() {
		t.Fatal("HasErrors() = false, want true")
	}
	if got := len(v.Errors()); got != 3 {
		t.Errorf("len(Errors()) = %d, want 3", got)
	}
	err := v.Err()
	if err == nil {
		t.Fatal("Err() = nil, want error")
	}
	if !strings.Contains(err.Error(), "terms: must be accepted") {
		t.Errorf("Err() = %q, missing custom message", err)
	}
}

func TestValidator_NoErrors(t *testing.T) {
	v := New()
	v.Required("email", "user@example.com").MaxLength("username", "user1", 30)
	if v.HasErrors() {
		t.Errorf("HasErrors() = true, errors = %v", v.Errors())
	}
	if err := v.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestRequired(t *testing.T) {
	if err := Required("code", ""); err == nil {
		t.Error("Required() should fail for empty value")
	}
	if err := Required("code", "123456"); err != nil {
		t.Errorf("Required() error = %v", err)
	}
}
