package transaction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adityanair/sentinelbank/internal/fraud"
	"github.com/adityanair/sentinelbank/internal/geocode"
	"github.com/adityanair/sentinelbank/internal/idgen"
	"github.com/adityanair/sentinelbank/internal/ledger"
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

// StatsWindow is the activity window summarized by Stats.
const StatsWindow = 30 * 24 * time.Hour

var (
	transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelbank",
		Subsystem: "transaction",
		Name:      "transfers_total",
		Help:      "Transfer requests by risk outcome.",
	}, []string{"outcome"})

	ledgerMirrorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinelbank",
		Subsystem: "transaction",
		Name:      "ledger_mirror_total",
		Help:      "Completed transfers by settlement channel.",
	}, []string{"channel"})
)

func init() {
	prometheus.MustRegister(transfersTotal, ledgerMirrorTotal)
}

// Service implements risk-scored transfers.
type Service struct {
	users    user.Store
	txns     Store
	mirror   ledger.Client
	fraud    fraud.Checker
	notifier *notify.Emitter
	geocoder geocode.Resolver
	locks    *syncutil.ContextShardedMutex
	logger   *slog.Logger

	now        func() time.Time
	asyncAudit bool
}

// NewService creates the transaction service. locks must be shared with
// every other service mutating user records (the auth service), so one
// user's profile and balance writes serialize across services.
func NewService(users user.Store, txns Store, mirror ledger.Client,
	notifier *notify.Emitter, geocoder geocode.Resolver,
	locks *syncutil.ContextShardedMutex, logger *slog.Logger) *Service {
	if locks == nil {
		locks = syncutil.NewContextShardedMutex()
	}
	return &Service{
		users:      users,
		txns:       txns,
		mirror:     mirror,
		fraud:      fraud.Noop{},
		notifier:   notifier,
		geocoder:   geocoder,
		locks:      locks,
		logger:     logger,
		now:        time.Now,
		asyncAudit: true,
	}
}

// SetFraudChecker replaces the default no-op fraud probe.
func (s *Service) SetFraudChecker(c fraud.Checker) {
	if c != nil {
		s.fraud = c
	}
}

// CreateRequest is a transfer submission.
type CreateRequest struct {
	RecipientAccount string       `json:"recipientAccount"`
	IFSC             string       `json:"ifsc"`
	Amount           int64        `json:"amount"`
	Purpose          string       `json:"purpose"`
	Note             string       `json:"note"`
	UseLedger        bool         `json:"useLedger"`
	Context          risk.Context `json:"context"`
}

// Result is the outcome of a transfer request.
type Result struct {
	Outcome     Outcome      `json:"outcome"`
	Transaction *Transaction `json:"transaction,omitempty"`
	RiskScore   int          `json:"riskScore"`
}

// Create submits a transfer. Depending on the session's risk score the
// transfer completes, is parked awaiting a step-up code, or is refused.
func (s *Service) Create(ctx context.Context, senderID string, req *CreateRequest) (*Result, error) {
	req.Note = validation.SanitizeString(req.Note, 500)
	req.Purpose = validation.SanitizeString(req.Purpose, 200)
	if errs := validation.Validate(
		validation.Required("recipientAccount", req.RecipientAccount),
		validation.ValidAccountNumber("recipientAccount", req.RecipientAccount),
		validation.ValidIFSC("ifsc", req.IFSC),
		validation.PositiveAmount("amount", req.Amount),
	); len(errs) > 0 {
		return nil, errs
	}

	ctx, span := traces.StartSpan(ctx, "transaction.create",
		traces.UserID(senderID), traces.Amount(req.Amount), traces.AccountNumber(req.RecipientAccount))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, senderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender.AccountNumber == req.RecipientAccount {
		return nil, ErrOwnAccount
	}

	recipient, err := s.users.GetByAccountNumber(ctx, req.RecipientAccount)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}

	if sender.Balance < req.Amount {
		return nil, user.ErrInsufficientFunds
	}

	// External fraud probe, advisory and fail-open.
	if s.fraud.Flagged(ctx, &fraud.Probe{
		UserID:           sender.ID,
		RecipientAccount: recipient.AccountNumber,
		Amount:           req.Amount,
		IP:               req.Context.IP,
		Device:           req.Context.Device,
	}) {
		transfersTotal.WithLabelValues(string(OutcomeBlocked)).Inc()
		s.notifier.EmitTransferBlocked(sender.Email, sender.Name, req.Amount)
		s.logger.Warn("transfer refused by fraud probe", "user", sender.ID, "amount", req.Amount)
		return &Result{Outcome: OutcomeBlocked}, nil
	}

	now := s.now()
	assessment := risk.Evaluate(&req.Context, &sender.Profile)
	metrics.RiskScores.Observe(float64(assessment.Score))
	span.SetAttributes(traces.RiskScore(assessment.Score),
		traces.Decision(string(risk.DecideTransfer(assessment.Score, req.Amount))))

	switch risk.DecideTransfer(assessment.Score, req.Amount) {
	case risk.DecisionBlock:
		transfersTotal.WithLabelValues(string(OutcomeBlocked)).Inc()
		s.notifier.EmitTransferBlocked(sender.Email, sender.Name, req.Amount)
		s.logger.Warn("transfer refused", "user", sender.ID, "amount", req.Amount,
			"risk_score", assessment.Score, "failed_rules", assessment.Failed)
		return &Result{Outcome: OutcomeBlocked, RiskScore: assessment.Score}, nil

	case risk.DecisionStepUp:
		if sender.TransferCode.Active(now) {
			return nil, ErrVerificationPending
		}
		transfersTotal.WithLabelValues(string(OutcomeVerificationRequired)).Inc()
		sender.TransferCode = stepup.New(now, stepup.TransferTTL)
		sender.PendingTransfer = &user.PendingTransfer{
			Amount:           req.Amount,
			RecipientAccount: recipient.AccountNumber,
			RecipientName:    recipient.Name,
			IFSC:             req.IFSC,
			Purpose:          req.Purpose,
			Note:             req.Note,
			UseLedger:        req.UseLedger,
			Context:          req.Context,
		}
		if err := s.users.Update(ctx, sender); err != nil {
			return nil, err
		}
		s.notifier.EmitTransferCode(sender.Email, sender.Name, sender.TransferCode.Code,
			req.Amount, stepup.TransferTTL)
		s.logger.Info("transfer step-up issued", "user", sender.ID, "amount", req.Amount,
			"risk_score", assessment.Score)
		return &Result{Outcome: OutcomeVerificationRequired, RiskScore: assessment.Score}, nil

	default:
		txn, err := s.settle(ctx, sender, recipient, &user.PendingTransfer{
			Amount:           req.Amount,
			RecipientAccount: recipient.AccountNumber,
			RecipientName:    recipient.Name,
			IFSC:             req.IFSC,
			Purpose:          req.Purpose,
			Note:             req.Note,
			UseLedger:        req.UseLedger,
			Context:          req.Context,
		}, assessment, now)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeCompleted, Transaction: txn, RiskScore: assessment.Score}, nil
	}
}

// Verify confirms a parked transfer with its step-up code and settles
// it. A consumed or expired code cannot settle the same transfer twice.
func (s *Service) Verify(ctx context.Context, senderID, code string) (*Result, error) {
	unlock, err := s.locks.LockContext(ctx, senderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sender.TransferCode == nil || sender.PendingTransfer == nil {
		return nil, ErrNoPendingTransfer
	}
	if !sender.TransferCode.Matches(code, now) {
		return nil, ErrInvalidCode
	}

	pending := sender.PendingTransfer
	sender.ClearTransferCode()

	// Re-check funds: balance may have moved since the code was issued.
	if sender.Balance < pending.Amount {
		if err := s.users.Update(ctx, sender); err != nil {
			return nil, err
		}
		return nil, user.ErrInsufficientFunds
	}

	recipient, err := s.users.GetByAccountNumber(ctx, pending.RecipientAccount)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}

	assessment := risk.Evaluate(&pending.Context, &sender.Profile)
	txn, err := s.settle(ctx, sender, recipient, pending, assessment, now)
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeCompleted, Transaction: txn, RiskScore: assessment.Score}, nil
}

// List returns the user's transactions, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	return s.txns.ListByUser(ctx, userID, limit)
}

// Stats summarizes the user's last 30 days of activity.
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	return s.txns.Stats(ctx, userID, s.now().Add(-StatsWindow))
}

// Get returns one transaction, restricted to its participants.
func (s *Service) Get(ctx context.Context, userID, txnID string) (*Transaction, error) {
	t, err := s.txns.GetByID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if t.SenderID != userID && t.RecipientID != userID {
		return nil, ErrNotFound
	}
	return t, nil
}

// RecipientName resolves an account number to its holder's name so the
// client can confirm the payee before submitting.
func (s *Service) RecipientName(ctx context.Context, accountNumber string) (string, error) {
	u, err := s.users.GetByAccountNumber(ctx, accountNumber)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return "", ErrRecipientNotFound
		}
		return "", err
	}
	return u.Name, nil
}

// settle moves the funds, writes the transaction record, mirrors it
// best-effort, and absorbs the session context into the baseline.
// Caller holds the sender's lock.
func (s *Service) settle(ctx context.Context, sender, recipient *user.User,
	pending *user.PendingTransfer, assessment *risk.Assessment, now time.Time) (*Transaction, error) {

	ctx, span := traces.StartSpan(ctx, "transaction.settle", traces.Amount(pending.Amount))
	defer span.End()

	if err := s.users.Transfer(ctx, sender.ID, recipient.ID, pending.Amount); err != nil {
		return nil, err
	}
	// Transfer bumped both rows' versions; track the sender's so the
	// profile write below passes its version check.
	sender.Balance -= pending.Amount
	sender.Version++

	txn := &Transaction{
		ID:                 idgen.WithPrefix("txn_"),
		SenderID:           sender.ID,
		SenderAccount:      sender.AccountNumber,
		SenderName:         sender.Name,
		RecipientID:        recipient.ID,
		RecipientAccount:   recipient.AccountNumber,
		RecipientName:      recipient.Name,
		IFSC:               pending.IFSC,
		Amount:             pending.Amount,
		Purpose:            pending.Purpose,
		Note:               pending.Note,
		Channel:            ChannelInternal,
		RiskScore:          assessment.Score,
		SenderBalanceAfter: sender.Balance,
		CreatedAt:          now,
	}

	// Mirror to the external ledger when requested and reachable. A
	// mirror failure downgrades the channel, never the transfer.
	if pending.UseLedger && s.mirror.Available(ctx) {
		res, err := s.mirror.Record(ctx, &ledger.Record{
			TransactionID:    txn.ID,
			RecipientAccount: recipient.AccountNumber,
			Amount:           pending.Amount,
		})
		if err != nil {
			s.logger.Warn("ledger mirror failed, settling off-ledger",
				"transaction", txn.ID, "error", err)
		} else {
			txn.Channel = ChannelLedger
			txn.LedgerRef = res.Reference
		}
	}
	ledgerMirrorTotal.WithLabelValues(string(txn.Channel)).Inc()
	span.SetAttributes(traces.TransactionID(txn.ID))

	if err := s.txns.Create(ctx, txn); err != nil {
		return nil, err
	}

	sender.Profile.Absorb(&pending.Context, assessment)
	if err := s.users.Update(ctx, sender); err != nil {
		s.logger.Error("failed to update sender profile after transfer",
			"user", sender.ID, "error", err)
	}

	transfersTotal.WithLabelValues(string(OutcomeCompleted)).Inc()
	s.appendAudit(sender.ID, pending.Context, assessment.Score)
	return txn, nil
}

// appendAudit mirrors the auth package: reverse geocoding happens off
// the decision path.
func (s *Service) appendAudit(userID string, rc risk.Context, score int) {
	if s.asyncAudit {
		go s.recordAudit(userID, rc, score, true)
		return
	}
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
