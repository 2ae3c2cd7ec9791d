package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/adityanair/sentinelbank/internal/account"
	"github.com/adityanair/sentinelbank/internal/captcha"
	"github.com/adityanair/sentinelbank/internal/geocode"
	"github.com/adityanair/sentinelbank/internal/idgen"
	"github.com/adityanair/sentinelbank/internal/metrics"
	"github.com/adityanair/sentinelbank/internal/notify"
	"github.com/adityanair/sentinelbank/internal/retry"
	"github.com/adityanair/sentinelbank/internal/risk"
	"github.com/adityanair/sentinelbank/internal/stepup"
	"github.com/adityanair/sentinelbank/internal/syncutil"
	"github.com/adityanair/sentinelbank/internal/traces"
	"github.com/adityanair/sentinelbank/internal/user"
	"github.com/adityanair/sentinelbank/internal/validation"
)

// ResetTokenTTL is how long a password-reset token stays valid.
const ResetTokenTTL = 30 * time.Minute

var (
	loginOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelbank",
		Subsystem: "auth",
		Name:      "login_outcomes_total",
		Help:      "Credential-valid login attempts by risk outcome.",
	}, []string{"outcome"})

	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinelbank",
		Subsystem: "auth",
		Name:      "lockouts_total",
		Help:      "Accounts locked after repeated failed sign-ins.",
	})
)

func init() {
	prometheus.MustRegister(loginOutcomesTotal, lockoutsTotal)
}

// Service implements signup, adaptive login, and credential recovery.
type Service struct {
	users    user.Store
	tokens   *TokenIssuer
	notifier *notify.Emitter
	captcha  captcha.Verifier
	geocoder geocode.Resolver
	locks    *syncutil.ContextShardedMutex
	logger   *slog.Logger

	// clientURL is the public base URL of the web client, used to
	// build password-reset links.
	clientURL string

	now        func() time.Time
	asyncAudit bool
}

// NewService creates the authentication service. locks must be the same
// instance every service mutating user records holds, so that concurrent
// profile and balance writes for one user serialize against each other.
func NewService(users user.Store, tokens *TokenIssuer, notifier *notify.Emitter,
	verifier captcha.Verifier, geocoder geocode.Resolver,
	locks *syncutil.ContextShardedMutex, clientURL string, logger *slog.Logger) *Service {
	if locks == nil {
		locks = syncutil.NewContextShardedMutex()
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		notifier:   notifier,
		captcha:    verifier,
		geocoder:   geocoder,
		locks:      locks,
		logger:     logger,
		clientURL:  clientURL,
		now:        time.Now,
		asyncAudit: true,
	}
}

// SignupRequest carries new-account details plus the session context
// that seeds the account's trust baseline.
type SignupRequest struct {
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Password     string       `json:"password"`
	CaptchaToken string       `json:"captchaToken"`
	Context      risk.Context `json:"context"`

	// RemoteIP is filled by the HTTP layer, not the client.
	RemoteIP string `json:"-"`
}

// LoginRequest carries credentials plus the session context used for
// risk scoring.
type LoginRequest struct {
	Email        string       `json:"email"`
	Password     string       `json:"password"`
	CaptchaToken string       `json:"captchaToken"`
	Context      risk.Context `json:"context"`
}

// LoginResult is the outcome of a credential-valid login attempt.
type LoginResult struct {
	Outcome   Outcome    `json:"outcome"`
	Token     string     `json:"token,omitempty"`
	User      *user.User `json:"user,omitempty"`
	RiskScore int        `json:"riskScore"`
}

// Signup registers a new account and emails a verification code.
// The account cannot sign in until the code is confirmed.
func (s *Service) Signup(ctx context.Context, req *SignupRequest) (*user.User, error) {
	req.Email = validation.SanitizeEmail(req.Email)
	req.Name = validation.SanitizeString(req.Name, 200)

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.Required("email", req.Email),
		validation.ValidEmail("email", req.Email),
		validation.Required("password", req.Password),
		validation.ValidPassword("password", req.Password),
	); len(errs) > 0 {
		return nil, errs
	}

	if err := s.captcha.Verify(ctx, req.CaptchaToken, req.RemoteIP); err != nil {
		return nil, err
	}

	now := s.now()

	// An unverified signup can be retried with a fresh code.
	if existing, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		if existing.IsVerified {
			return nil, user.ErrEmailTaken
		}
		existing.LoginCode = stepup.New(now, stepup.SignupTTL)
		existing.Profile = risk.Seed(&req.Context, geocode.Unknown, now)
		if err := s.users.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.notifier.EmitVerificationCode(existing.Email, existing.Name, existing.LoginCode.Code, stepup.SignupTTL)
		return existing, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &user.User{
		ID:            idgen.WithPrefix("usr_"),
		Email:         req.Email,
		Name:          req.Name,
		PasswordHash:  string(hash),
		AccountNumber: account.NewNumber(),
		IFSCCode:      account.NewIFSC(),
		Balance:       user.StartingBalance,
		LoginCode:     stepup.New(now, stepup.SignupTTL),
		// The signup context becomes the account's trust baseline.
		// Geocoding is deferred to the audit path, so the seed entry
		// carries the unresolved place name.
		Profile: risk.Seed(&req.Context, geocode.Unknown, now),
	}

	// Regenerate on the rare account-number collision.
	for attempt := 0; ; attempt++ {
		err = s.users.Create(ctx, u)
		if err == nil {
			break
		}
		if errors.Is(err, user.ErrAccountTaken) && attempt < 3 {
			u.AccountNumber = account.NewNumber()
			continue
		}
		return nil, err
	}

	s.notifier.EmitVerificationCode(u.Email, u.Name, u.LoginCode.Code, stepup.SignupTTL)
	return u, nil
}

// VerifyEmail confirms a signup verification code and activates the
// account.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	email = validation.SanitizeEmail(email)
	u, unlock, err := s.lockAndGet(ctx, email)
	if err != nil {
		return err
	}
	defer unlock()

	if u.IsVerified {
		return ErrAlreadyVerified
	}
	if u.LoginCode == nil {
		return ErrNoPendingChallenge
	}
	if !u.LoginCode.Matches(code, s.now()) {
		return ErrInvalidCode
	}

	u.IsVerified = true
	u.ClearLoginCode()
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.notifier.EmitWelcome(u.Email, u.Name, u.AccountNumber, u.IFSCCode)
	return nil
}

// ResendVerification issues a fresh signup code.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = validation.SanitizeEmail(email)
	u, unlock, err := s.lockAndGet(ctx, email)
	if err != nil {
		return err
	}
	defer unlock()

	if u.IsVerified {
		return ErrAlreadyVerified
	}
	u.LoginCode = stepup.New(s.now(), stepup.SignupTTL)
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.notifier.EmitVerificationCode(u.Email, u.Name, u.LoginCode.Code, stepup.SignupTTL)
	return nil
}

// Login authenticates credentials and scores the session context.
// Lockout is checked before the password so a locked account rejects
// even correct credentials.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	req.Email = validation.SanitizeEmail(req.Email)
	if errs := validation.Validate(
		validation.Required("email", req.Email),
		validation.Required("password", req.Password),
	); len(errs) > 0 {
		return nil, errs
	}

	ctx, span := traces.StartSpan(ctx, "auth.login")
	defer span.End()

	u, unlock, err := s.lockAndGet(ctx, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	defer unlock()
	span.SetAttributes(traces.UserID(u.ID))

	now := s.now()
	if u.Locked(now) {
		return nil, ErrAccountLocked
	}

	if err := s.captcha.Verify(ctx, req.CaptchaToken, req.Context.IP); err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		locked := u.RecordFailedLogin(now)
		if updateErr := s.users.Update(ctx, u); updateErr != nil {
			s.logger.Error("failed to record login failure", "user", u.ID, "error", updateErr)
		}
		if locked {
			lockoutsTotal.Inc()
			s.notifier.EmitAccountLocked(u.Email, u.Name, *u.LockedUntil)
		}
		return nil, ErrInvalidCredentials
	}

	if !u.IsVerified {
		return nil, ErrNotVerified
	}

	assessment := risk.Evaluate(&req.Context, &u.Profile)
	metrics.RiskScores.Observe(float64(assessment.Score))
	span.SetAttributes(traces.RiskScore(assessment.Score), traces.Decision(string(risk.Decide(assessment.Score))))

	// A sign-in from an unrecognized device always alerts the owner,
	// whatever the risk outcome.
	if req.Context.Device != "" && !u.Profile.HasDevice(req.Context.Device) {
		u.ResetToken = idgen.Hex(20)
		u.ResetExpiresAt = now.Add(ResetTokenTTL)
		s.notifier.EmitNewDeviceAlert(u.Email, u.Name, req.Context.Device, req.Context.IP,
			s.resetLink(u.ResetToken))
	}

	switch risk.Decide(assessment.Score) {
	case risk.DecisionBlock:
		loginOutcomesTotal.WithLabelValues(string(OutcomeBlocked)).Inc()
		if err := s.users.Update(ctx, u); err != nil {
			return nil, err
		}
		s.notifier.EmitLoginBlocked(u.Email, u.Name, req.Context.IP)
		s.logger.Warn("login refused", "user", u.ID, "risk_score", assessment.Score,
			"failed_rules", assessment.Failed)
		return &LoginResult{Outcome: OutcomeBlocked, RiskScore: assessment.Score}, nil

	case risk.DecisionStepUp:
		// A repeat attempt while a code is outstanding invalidates the
		// old code and issues a fresh one.
		loginOutcomesTotal.WithLabelValues(string(OutcomeVerificationRequired)).Inc()
		u.LoginCode = stepup.New(now, stepup.LoginTTL)
		if err := s.users.Update(ctx, u); err != nil {
			return nil, err
		}
		s.notifier.EmitLoginCode(u.Email, u.Name, u.LoginCode.Code, stepup.LoginTTL)
		s.logger.Info("login step-up issued", "user", u.ID, "risk_score", assessment.Score)
		return &LoginResult{Outcome: OutcomeVerificationRequired, RiskScore: assessment.Score}, nil

	default:
		u.Profile.Absorb(&req.Context, assessment)
		u.ResetLockout()
		u.LastLogin = now
		if err := s.users.Update(ctx, u); err != nil {
			return nil, err
		}
		s.appendAudit(u.ID, req.Context, assessment.Score)
		return s.issueSession(u, now, assessment.Score)
	}
}

// VerifyTwoFactor confirms a step-up login code and issues a session.
func (s *Service) VerifyTwoFactor(ctx context.Context, email, code string, rc risk.Context) (*LoginResult, error) {
	email = validation.SanitizeEmail(email)
	u, unlock, err := s.lockAndGet(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	defer unlock()

	now := s.now()
	if u.LoginCode == nil {
		return nil, ErrNoPendingChallenge
	}
	if !u.LoginCode.Matches(code, now) {
		return nil, ErrInvalidCode
	}

	u.ClearLoginCode()
	assessment := risk.Evaluate(&rc, &u.Profile)
	u.Profile.Absorb(&rc, assessment)
	// Re-score against the baseline the context just joined. Signals
	// that still fail (odd hour, typing drift) carry into the stored
	// score; the network and device checks no longer do.
	u.Profile.RiskScore = risk.Evaluate(&rc, &u.Profile).Increments
	u.ResetLockout()
	u.LastLogin = now
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	s.appendAudit(u.ID, rc, assessment.Score)
	return s.issueSession(u, now, assessment.Score)
}

// ForgotPassword emails a reset link. It reveals nothing about whether
// the address is registered.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = validation.SanitizeEmail(email)
	u, unlock, err := s.lockAndGet(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return err
	}
	defer unlock()

	u.ResetToken = idgen.Hex(20)
	u.ResetExpiresAt = s.now().Add(ResetTokenTTL)
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.notifier.EmitPasswordReset(u.Email, u.Name, s.resetLink(u.ResetToken), ResetTokenTTL)
	return nil
}

// ResetPassword sets a new password from a valid reset token. A
// successful reset also clears any lockout.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if errs := validation.Validate(
		validation.Required("password", newPassword),
		validation.ValidPassword("password", newPassword),
	); len(errs) > 0 {
		return errs
	}

	u, err := s.users.GetByResetToken(ctx, token)
	if err != nil {
		return ErrResetTokenInvalid
	}

	unlock, err := s.locks.LockContext(ctx, u.ID)
	if err != nil {
		return err
	}
	defer unlock()

	u, err = s.users.GetByID(ctx, u.ID)
	if err != nil {
		return ErrResetTokenInvalid
	}

	now := s.now()
	if u.ResetToken != token || now.After(u.ResetExpiresAt) {
		return ErrResetTokenInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	u.PasswordHash = string(hash)
	u.ResetToken = ""
	u.ResetExpiresAt = time.Time{}
	u.ResetLockout()
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.notifier.EmitPasswordResetDone(u.Email, u.Name)
	return nil
}

// Me returns the authenticated user's record.
func (s *Service) Me(ctx context.Context, userID string) (*user.User, error) {
	return s.users.GetByID(ctx, userID)
}

// Delete removes the account after confirming the password.
func (s *Service) Delete(ctx context.Context, userID, password string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.notifier.EmitAccountDeleted(u.Email, u.Name)
	return nil
}

// Verifier exposes token verification for middleware.
func (s *Service) Verifier() *TokenIssuer { return s.tokens }

func (s *Service) issueSession(u *user.User, now time.Time, score int) (*LoginResult, error) {
	token, err := s.tokens.Issue(u, now)
	if err != nil {
		return nil, err
	}
	loginOutcomesTotal.WithLabelValues(string(OutcomeSuccess)).Inc()
	return &LoginResult{
		Outcome:   OutcomeSuccess,
		Token:     token,
		User:      u,
		RiskScore: score,
	}, nil
}

// lockAndGet serializes per-user mutation and returns a fresh copy of
// the record.
func (s *Service) lockAndGet(ctx context.Context, email string) (*user.User, func(), error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := s.locks.LockContext(ctx, u.ID)
	if err != nil {
		return nil, nil, err
	}
	u, err = s.users.GetByEmail(ctx, email)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return u, unlock, nil
}

// appendAudit records the session context in the user's audit trail.
// Reverse geocoding happens off the login path so a slow provider can
// never delay a decision.
func (s *Service) appendAudit(userID string, rc risk.Context, score int) {
	if s.asyncAudit {
		go s.recordAudit(userID, rc, score, true)
		return
	}
	// Synchronous mode runs inside the caller's critical section, so
	// the per-user lock is already held.
	s.recordAudit(userID, rc, score, false)
}

func (s *Service) recordAudit(userID string, rc risk.Context, score int, lock bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	name := s.geocoder.Resolve(ctx, rc.Location)
	at := s.now()

	if lock {
		unlock, err := s.locks.LockContext(ctx, userID)
		if err != nil {
			return
		}
		defer unlock()
	}

	err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return retry.Permanent(err)
		}
		u.Profile.AppendLog(&rc, score, name, at)
		return s.users.Update(ctx, u)
	})
	if err != nil {
		s.logger.Warn("failed to append audit log", "user", userID, "error", err)
	}
}

func (s *Service) resetLink(token string) string {
	return strings.TrimRight(s.clientURL, "/") + "/reset-password/" + token
}
