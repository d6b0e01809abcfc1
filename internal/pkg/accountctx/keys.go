package accountctx

// Shared Locals keys used across controllers and middlewares
const (
	ContextKey     = "ACCOUNT_CONTEXT"
	KeyAccountKind = "account_kind"
	KeyAccountID   = "account_id"
)
