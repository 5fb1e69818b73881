package principal

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds resolver options
type Config interface {
	GetBypassMode() bool
	GetForceEmbedMode() bool
	GetGuestOnLogout() bool
	GetReferrerAllowList() string
	GetInactivityTimeout() time.Duration
	GetVerifyTimeout() time.Duration
	GetBaseURL() string
	GetLoginRoute() string
	GetAdminEmails() []string
}

// API is the backend collaborator the resolver authenticates against.
// Implementations are transport details; the resolver only depends on the
// request/response shapes.
type API interface {
	Login(ctx context.Context, creds Credentials) (*LoginResponse, error)
	VerifyMFA(ctx context.Context, req MFARequest) (*Tokens, error)
	Me(ctx context.Context, accessToken string) (*Principal, error)
	Logout(ctx context.Context, accessToken string) error
}

// TokenStore persists the access/refresh pair under fixed keys. The pair is
// written and cleared together, never independently.
type TokenStore interface {
	Get(ctx context.Context) (Tokens, bool, error)
	Set(ctx context.Context, tokens Tokens) error
	Clear(ctx context.Context) error
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the payload before it reaches the login collaborator.
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.Email),
		validation.Field(&c.Password, validation.Required),
	)
}

// MFARequest is the second-factor verification payload.
type MFARequest struct {
	Code   string `json:"token"`
	UserID string `json:"userId"`
}

// Validate checks the payload before it reaches the verify collaborator.
func (r MFARequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.UserID, validation.Required),
	)
}

// LoginResponse is the login collaborator's response shape. Either a second
// factor is required (UserID set) or tokens are issued, optionally with the
// user object embedded to avoid a render race before the canonical fetch.
type LoginResponse struct {
	RequiresMFA bool       `json:"requiresMfa,omitempty"`
	UserID      string     `json:"userId,omitempty"`
	Tokens      *Tokens    `json:"tokens,omitempty"`
	User        *Principal `json:"user,omitempty"`
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] PRINCIPAL "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] PRINCIPAL "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] PRINCIPAL "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] PRINCIPAL "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
