package accountctx

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind is the closed set of account variants that can own billing state.
type Kind string

const (
	KindClinic    Kind = "clinic"
	KindTherapist Kind = "therapist"
)

// Ref identifies one billing account: a clinic or a therapist, never both.
// It is resolved once at the boundary by the auth middleware and passed down
// instead of stringly-typed role branching.
type Ref struct {
	Kind Kind `json:"kind"`
	ID   uint `json:"id"`
}

// Valid reports whether the ref carries a known kind and a non-zero id.
func (r Ref) Valid() bool {
	return (r.Kind == KindClinic || r.Kind == KindTherapist) && r.ID != 0
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// AccountContext is the complete caller context for a request.
type AccountContext struct {
	Account         Ref    `json:"account"`
	Name            string `json:"name"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// GetAccountContext retrieves the account context from fiber context.
// Returns an anonymous context if none is set.
func GetAccountContext(c *fiber.Ctx) AccountContext {
	if ctx := c.Locals(ContextKey); ctx != nil {
		return ctx.(AccountContext)
	}
	return AccountContext{IsAuthenticated: false}
}

// SetAccountContext stores the account context on the request.
func SetAccountContext(c *fiber.Ctx, ctx AccountContext) {
	c.Locals(ContextKey, ctx)
}

// IsAuthenticated checks if the current request carries a resolved account.
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetAccountContext(c).IsAuthenticated
}

// GetAccountRef returns the caller's account ref, zero-valued when anonymous.
func GetAccountRef(c *fiber.Ctx) Ref {
	return GetAccountContext(c).Account
}
