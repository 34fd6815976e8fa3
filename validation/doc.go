// Package validation provides input validation for forms and commands.
//
// It supports both struct tag validation (using the validator library) and
// programmatic validation with error collection. Struct tag validation is
// recommended for form payloads.
//
// # Struct Tag Validation
//
//	type RegistrationForm struct {
//	    Email    string `validate:"required,email"`
//	    Password string `validate:"required,min=8"`
//	}
//	err := validation.ValidateStruct(form)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Required("email", email)
//	err := v.Err()
package validation
