package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adityanair/sentinelbank/internal/retry"
)

var (
	notifySendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelbank",
		Subsystem: "notify",
		Name:      "send_total",
		Help:      "Total notification send attempts by kind.",
	}, []string{"kind"})

	notifySendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelbank",
		Subsystem: "notify",
		Name:      "send_errors_total",
		Help:      "Total notification send failures by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(notifySendTotal, notifySendErrors)
}

// Emitter sends typed account and security emails. All methods are
// fire-and-forget: delivery runs in the background with retries, and
// failures are logged but never returned to the caller.
type Emitter struct {
	sender Sender
	logger *slog.Logger

	// synchronous disables the background goroutine in tests.
	synchronous bool
}

// NewEmitter creates a notification emitter.
func NewEmitter(sender Sender, logger *slog.Logger) *Emitter {
	return &Emitter{sender: sender, logger: logger}
}

func (e *Emitter) emit(kind string, msg *Message) {
	if e == nil || e.sender == nil {
		return
	}
	notifySendTotal.WithLabelValues(kind).Inc()

	deliver := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
			return e.sender.Send(ctx, msg)
		})
		if err != nil {
			notifySendErrors.WithLabelValues(kind).Inc()
			e.logger.Warn("notification send failed", "kind", kind, "to", msg.To, "error", err)
		}
	}

	if e.synchronous {
		deliver()
		return
	}
	go deliver()
}

// EmitVerificationCode sends the signup email-verification code.
func (e *Emitter) EmitVerificationCode(email, name, code string, ttl time.Duration) {
	e.emit("verification_code", &Message{
		To:      email,
		Subject: "Verify your email",
		Body: fmt.Sprintf("Hi %s,\n\nYour verification code is %s. It expires in %s.\n\nIf you did not sign up, you can ignore this email.\n",
			name, code, formatTTL(ttl)),
	})
}

// EmitWelcome sends the post-verification welcome email with the
// user's new account details.
func (e *Emitter) EmitWelcome(email, name, accountNumber, ifsc string) {
	e.emit("welcome", &Message{
		To:      email,
		Subject: "Welcome to SentinelBank",
		Body: fmt.Sprintf("Hi %s,\n\nYour account is ready.\n\nAccount number: %s\nIFSC code: %s\n\nKeep these details safe.\n",
			name, accountNumber, ifsc),
	})
}

// EmitLoginCode sends a step-up verification code for a risky login.
func (e *Emitter) EmitLoginCode(email, name, code string, ttl time.Duration) {
	e.emit("login_code", &Message{
		To:      email,
		Subject: "Your login verification code",
		Body: fmt.Sprintf("Hi %s,\n\nWe noticed unusual activity on this sign-in. Your verification code is %s. It expires in %s.\n\nIf this wasn't you, reset your password immediately.\n",
			name, code, formatTTL(ttl)),
	})
}

// EmitTransferCode sends a step-up verification code for a risky transfer.
func (e *Emitter) EmitTransferCode(email, name, code string, amount int64, ttl time.Duration) {
	e.emit("transfer_code", &Message{
		To:      email,
		Subject: "Confirm your transaction",
		Body: fmt.Sprintf("Hi %s,\n\nA transfer of %d requires confirmation. Your verification code is %s. It expires in %s.\n\nIf you did not initiate this transfer, contact support immediately.\n",
			name, amount, code, formatTTL(ttl)),
	})
}

// EmitNewDeviceAlert warns that a sign-in came from an unrecognized
// device and includes a password-reset link.
func (e *Emitter) EmitNewDeviceAlert(email, name, device, ip, resetLink string) {
	e.emit("new_device_alert", &Message{
		To:      email,
		Subject: "New device sign-in detected",
		Body: fmt.Sprintf("Hi %s,\n\nA sign-in to your account was detected from a new device.\n\nDevice: %s\nIP address: %s\n\nIf this was you, no action is needed. Otherwise, reset your password now:\n%s\n",
			name, device, ip, resetLink),
	})
}

// EmitLoginBlocked notifies the user that a sign-in attempt was
// blocked for risk reasons.
func (e *Emitter) EmitLoginBlocked(email, name, ip string) {
	e.emit("login_blocked", &Message{
		To:      email,
		Subject: "Suspicious sign-in blocked",
		Body: fmt.Sprintf("Hi %s,\n\nWe blocked a sign-in attempt to your account from IP %s because it looked suspicious.\n\nIf this was you, try again from a trusted device, or reset your password.\n",
			name, ip),
	})
}

// EmitTransferBlocked notifies the user that a transfer was blocked.
func (e *Emitter) EmitTransferBlocked(email, name string, amount int64) {
	e.emit("transfer_blocked", &Message{
		To:      email,
		Subject: "Suspicious transaction blocked",
		Body: fmt.Sprintf("Hi %s,\n\nWe blocked a transfer of %d from your account because the session looked suspicious.\n\nIf this was you, sign in again from a trusted device and retry.\n",
			name, amount),
	})
}

// EmitAccountLocked notifies the user their account was locked after
// repeated failed sign-ins.
func (e *Emitter) EmitAccountLocked(email, name string, until time.Time) {
	e.emit("account_locked", &Message{
		To:      email,
		Subject: "Account temporarily locked",
		Body: fmt.Sprintf("Hi %s,\n\nYour account was locked after too many failed sign-in attempts. You can try again after %s.\n\nIf this wasn't you, reset your password once the lock expires.\n",
			name, until.Format(time.RFC1123)),
	})
}

// EmitPasswordReset sends a password-reset link.
func (e *Emitter) EmitPasswordReset(email, name, resetLink string, ttl time.Duration) {
	e.emit("password_reset", &Message{
		To:      email,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Hi %s,\n\nUse the link below to reset your password. It expires in %s.\n\n%s\n\nIf you did not request this, you can ignore this email.\n",
			name, formatTTL(ttl), resetLink),
	})
}

// EmitPasswordResetDone confirms a completed password reset.
func (e *Emitter) EmitPasswordResetDone(email, name string) {
	e.emit("password_reset_done", &Message{
		To:      email,
		Subject: "Your password was changed",
		Body: fmt.Sprintf("Hi %s,\n\nYour password was just changed. If this wasn't you, contact support immediately.\n",
			name),
	})
}

// EmitAccountDeleted confirms account deletion.
func (e *Emitter) EmitAccountDeleted(email, name string) {
	e.emit("account_deleted", &Message{
		To:      email,
		Subject: "Your account has been deleted",
		Body: fmt.Sprintf("Hi %s,\n\nYour account and its data have been deleted. We're sorry to see you go.\n",
			name),
	})
}

func formatTTL(ttl time.Duration) string {
	if ttl < time.Minute {
		return fmt.Sprintf("%d seconds", int(ttl.Seconds()))
	}
	m := int(ttl.Minutes())
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
