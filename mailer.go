package auth

import "context"

// VerificationEmail carries the payload for a verification message.
type VerificationEmail struct {
	To               string
	FirstName        string
	OrganizationName string
	VerifyURL        string
	ExpiresInHours   int
}

// PasswordResetEmail carries the payload for a reset message.
type PasswordResetEmail struct {
	To             string
	FirstName      string
	ResetURL       string
	ExpiresInHours int
}

// PasswordChangedEmail notifies a user their credential changed.
type PasswordChangedEmail struct {
	To        string
	FirstName string
}

// InvitationEmail carries the payload for an invitation message.
type InvitationEmail struct {
	To               string
	OrganizationName string
	RoleName         string
	InviteURL        string
}

// Mailer is the consumed producer interface for outbound email. All
// methods queue; delivery happens elsewhere. Callers treat failures as
// non-fatal: a message that never leaves the queue must not fail the
// operation that requested it.
type Mailer interface {
	QueueVerificationEmail(ctx context.Context, msg VerificationEmail) error
	QueuePasswordResetEmail(ctx context.Context, msg PasswordResetEmail) error
	QueuePasswordChangedEmail(ctx context.Context, msg PasswordChangedEmail) error
	QueueInvitationEmail(ctx context.Context, msg InvitationEmail) error
}

type noopMailer struct{}

func (noopMailer) QueueVerificationEmail(context.Context, VerificationEmail) error     { return nil }
func (noopMailer) QueuePasswordResetEmail(context.Context, PasswordResetEmail) error   { return nil }
func (noopMailer) QueuePasswordChangedEmail(context.Context, PasswordChangedEmail) error { return nil }
func (noopMailer) QueueInvitationEmail(context.Context, InvitationEmail) error         { return nil }

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}

// LogMailer writes queued messages to the logger. Useful in dev and in
// tests that only assert a dispatch happened.
type LogMailer struct {
	Logger Logger
}

func (m LogMailer) logger() Logger {
	if m.Logger == nil {
		return defLogger{}
	}
	return m.Logger
}

func (m LogMailer) QueueVerificationEmail(_ context.Context, msg VerificationEmail) error {
	m.logger().Info("queue verification email to=%s url=%s", msg.To, msg.VerifyURL)
	return nil
}

func (m LogMailer) QueuePasswordResetEmail(_ context.Context, msg PasswordResetEmail) error {
	m.logger().Info("queue password reset email to=%s url=%s", msg.To, msg.ResetURL)
	return nil
}

func (m LogMailer) QueuePasswordChangedEmail(_ context.Context, msg PasswordChangedEmail) error {
	m.logger().Info("queue password changed email to=%s", msg.To)
	return nil
}

func (m LogMailer) QueueInvitationEmail(_ context.Context, msg InvitationEmail) error {
	m.logger().Info("queue invitation email to=%s url=%s", msg.To, msg.InviteURL)
	return nil
}

// dispatchEmail runs a queue call outside the caller's transaction and
// swallows the error after logging it.
func dispatchEmail(logger Logger, what string, send func() error) {
	go func() {
		if err := send(); err != nil {
			if logger == nil {
				logger = defLogger{}
			}
			logger.Error("failed to queue %s email: %v", what, err)
		}
	}()
}
