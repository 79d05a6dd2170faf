package linking

import "context"

// SignupPolicy decides whether an unknown external identity may create a new
// account. Denials are policy outcomes, recorded as denial events rather
// than errors.
type SignupPolicy interface {
	AllowSignup(ctx context.Context, attempt Attempt) (bool, error)
}

// SignupPolicyFunc adapts a function into a SignupPolicy.
type SignupPolicyFunc func(ctx context.Context, attempt Attempt) (bool, error)

// AllowSignup satisfies the SignupPolicy interface.
func (f SignupPolicyFunc) AllowSignup(ctx context.Context, attempt Attempt) (bool, error) {
	if f == nil {
		return false, nil
	}
	return f(ctx, attempt)
}

// PolicyOpen always allows new accounts.
func PolicyOpen() SignupPolicy {
	return SignupPolicyFunc(func(ctx context.Context, attempt Attempt) (bool, error) {
		return true, nil
	})
}

// PolicyClosed rejects every unknown identity.
func PolicyClosed() SignupPolicy {
	return SignupPolicyFunc(func(ctx context.Context, attempt Attempt) (bool, error) {
		return false, nil
	})
}
