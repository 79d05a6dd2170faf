package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EmailVerificationMessage requests an out-of-band confirmation for an email
// address a user claims to control.
type EmailVerificationMessage struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Link   string    `json:"link"`
}

func (e EmailVerificationMessage) Type() string { return "identity.email_verification.request" }

// EmailVerificationHandler records the pending address and asks the outbound
// mail transport to deliver the confirmation link.
type EmailVerificationHandler struct {
	repo   RepositoryManager
	mailer Mailer
	logger Logger
}

// NewEmailVerificationHandler builds the handler.
func NewEmailVerificationHandler(repo RepositoryManager, mailer Mailer, logger Logger) *EmailVerificationHandler {
	if logger == nil {
		logger = defLogger{}
	}
	return &EmailVerificationHandler{repo: repo, mailer: mailer, logger: logger}
}

func (h *EmailVerificationHandler) Execute(ctx context.Context, event EmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email verification request")
	default:
		return h.execute(ctx, event)
	}
}

func (h *EmailVerificationHandler) execute(ctx context.Context, event EmailVerificationMessage) error {
	if event.Email == "" {
		return goerrors.New("email is required", goerrors.CategoryValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := h.repo.UserEmails().FindByEmailTx(ctx, tx, event.Email)
		if err != nil && !goerrors.IsNotFound(err) && !isNoRows(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up pending email")
		}
		if existing != nil {
			// Already recorded; re-sending the link is fine, re-creating the
			// row is not.
			return nil
		}

		record := &UserEmail{
			ID:     uuid.New(),
			UserID: event.UserID,
			Email:  event.Email,
		}
		if _, err := h.repo.UserEmails().CreateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not record pending email")
		}

		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "email verification transaction failed")
	}

	if h.mailer == nil {
		h.logger.Warn("no mailer configured, verification email not sent", "email", event.Email)
		return nil
	}

	if err := h.mailer.SendVerificationEmail(ctx, event.Email, event.Link); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to send verification email")
	}

	return nil
}

// ConfirmEmailMessage marks an address as verified after the user followed
// the emailed link.
type ConfirmEmailMessage struct {
	Email string `json:"email"`
}

func (e ConfirmEmailMessage) Type() string { return "identity.email_verification.confirm" }

// ConfirmEmailHandler flips the verified flag, turning the address into a
// usable linking trust anchor.
type ConfirmEmailHandler struct {
	repo   RepositoryManager
	logger Logger
}

// NewConfirmEmailHandler builds the handler.
func NewConfirmEmailHandler(repo RepositoryManager, logger Logger) *ConfirmEmailHandler {
	if logger == nil {
		logger = defLogger{}
	}
	return &ConfirmEmailHandler{repo: repo, logger: logger}
}

func (h *ConfirmEmailHandler) Execute(ctx context.Context, event ConfirmEmailMessage) error {
	if event.Email == "" {
		return goerrors.New("email is required", goerrors.CategoryValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := h.repo.UserEmails().MarkVerifiedTx(ctx, tx, event.Email); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email verified")
		}
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "email confirmation transaction failed")
	}

	return nil
}
