package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sidrisov/payflow/internal/chain"
	"github.com/sidrisov/payflow/internal/farcaster"
	"github.com/sidrisov/payflow/internal/frame"
	"github.com/sidrisov/payflow/internal/models"
	"github.com/sidrisov/payflow/internal/registry"
	"github.com/sidrisov/payflow/pkg/config"
	"github.com/sidrisov/payflow/pkg/logging"
	"github.com/sidrisov/payflow/pkg/telemetry"
)

// claimStaleAfter is how long a claimed but unfinished job stays invisible
// to the sweep before it is retried.
const claimStaleAfter = 5 * time.Minute

// retryBackoff is how long an ERROR job rests before the sweep re-opens it.
const retryBackoff = 10 * time.Minute

// retryBatchSize bounds how many ERROR jobs one sweep re-opens.
const retryBatchSize = 10

// JobQueue is the job persistence dependency of the pipeline.
type JobQueue interface {
	ClaimNext(ctx context.Context, staleAfter time.Duration) (*models.BotJob, error)
	Finish(ctx context.Context, job *models.BotJob, status models.BotJobStatus) error
	RetryErrors(ctx context.Context, before time.Time, limit int) (int64, error)
}

// PaymentStore persists payments created by bot actions.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	ExpireStale(ctx context.Context, before time.Time) (int64, error)
}

// ProfileDirectory resolves and registers local profiles.
type ProfileDirectory interface {
	GetByFID(ctx context.Context, fid int64) (*models.Profile, error)
	Create(ctx context.Context, profile *models.Profile) error
}

// WalletDirectory resolves per-chain payment wallets.
type WalletDirectory interface {
	ForProfileAndNetwork(ctx context.Context, profileID, network int64) (*models.Wallet, error)
}

// SocialGraph is the identity/content resolver dependency.
type SocialGraph interface {
	UserByFID(ctx context.Context, fid int64) (*farcaster.User, error)
	UserByUsername(ctx context.Context, username string) (*farcaster.User, error)
	CastByHash(ctx context.Context, hash string) (*farcaster.Cast, error)
	CastAncestors(ctx context.Context, hash string, limit int) ([]farcaster.Cast, error)
	HighestScoredAddress(ctx context.Context, addresses []string) (string, error)
}

// NotificationSender posts replies and direct messages.
type NotificationSender interface {
	Reply(ctx context.Context, text, inReplyTo string, embeds []string) (string, error)
	DirectMessage(ctx context.Context, fid int64, text string) error
}

// AttemptBudget meters agent usage per caller.
type AttemptBudget interface {
	Consume(fid int64) (bool, error)
}

// ActionDispatcher is the agent dependency.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, conv *Conversation) ([]BotAction, error)
}

// BalanceSource reports session wallet balances.
type BalanceSource interface {
	Balance(ctx context.Context, wallet string, chainID int64, token string) (*chain.Balance, error)
}

// TokenPricer provides live USD token prices.
type TokenPricer interface {
	Price(ctx context.Context, token string) (decimal.Decimal, error)
}

// PipelineDeps bundles the pipeline's collaborators.
type PipelineDeps struct {
	Jobs       JobQueue
	Payments   PaymentStore
	Profiles   ProfileDirectory
	Wallets    WalletDirectory
	Social     SocialGraph
	Notifier   NotificationSender
	Budget     AttemptBudget
	Dispatcher ActionDispatcher
	Parser     *Parser
	Balances   BalanceSource
	Prices     TokenPricer
	Registry   *registry.Registry
}

// rejection is a deliberate policy rejection. It finishes the job as
// REJECTED, never ERROR, optionally with a user-visible reason.
type rejection struct {
	reason string
	notify bool
}

func (r *rejection) Error() string { return r.reason }

func reject(reason string) error       { return &rejection{reason: reason} }
func rejectNotify(reason string) error { return &rejection{reason: reason, notify: true} }

// Pipeline drains BotJobs on a fixed sweep interval plus an event-driven
// fast path, and executes the resolved actions.
type Pipeline struct {
	deps PipelineDeps

	botFID        int64
	botUsername   string
	appBaseURL    string
	sweepInterval time.Duration
	maxAncestors  int
	maxUSD        decimal.Decimal
	maxJarUSD     decimal.Decimal
	paymentExpiry time.Duration

	kick   chan struct{}
	logger *zap.Logger
}

// NewPipeline creates the job pipeline.
func NewPipeline(cfg *config.Config, appBaseURL string, deps PipelineDeps) *Pipeline {
	return &Pipeline{
		deps:          deps,
		botFID:        cfg.Farcaster.BotFID,
		botUsername:   strings.ToLower(cfg.Farcaster.BotUsername),
		appBaseURL:    strings.TrimRight(appBaseURL, "/"),
		sweepInterval: cfg.Bot.SweepInterval,
		maxAncestors:  cfg.Agent.MaxAncestors,
		maxUSD:        decimal.NewFromInt(int64(cfg.Bot.PaymentMaxUSD)),
		maxJarUSD:     decimal.NewFromInt(int64(cfg.Bot.JarMaxUSD)),
		paymentExpiry: cfg.Bot.PaymentExpiry,
		kick:          make(chan struct{}, 1),
		logger:        logging.WithComponent("bot-pipeline"),
	}
}

// Kick wakes the pipeline for a newly ingested job without waiting for
// the next sweep. Safe to call concurrently; extra kicks coalesce.
func (p *Pipeline) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run processes jobs until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	p.logger.Info("Bot pipeline started",
		zap.Duration("sweep_interval", p.sweepInterval))

	for {
		p.drain(ctx)
		p.sweepExpired(ctx)
		p.sweepRetries(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("Bot pipeline stopped")
			return
		case <-ticker.C:
		case <-p.kick:
		}
	}
}

// drain claims and processes jobs until the queue is empty. Claiming and
// processing are safe against a concurrent sweep: the claim is atomic and
// a claimed job is invisible to other workers.
func (p *Pipeline) drain(ctx context.Context) {
	for {
		job, err := p.deps.Jobs.ClaimNext(ctx, claimStaleAfter)
		if err != nil {
			p.logger.Error("Failed to claim job", zap.Error(err))
			return
		}
		if job == nil {
			return
		}
		p.Process(ctx, job)
	}
}

// Process runs one claimed job to a terminal status. A job never stays in
// CREATED: policy rejections finish as REJECTED, unexpected failures as
// ERROR with a generic apology.
func (p *Pipeline) Process(ctx context.Context, job *models.BotJob) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.process")
	defer span.End()

	logger := logging.WithJob(job.CastHash)

	err := p.handle(ctx, job)
	if err == nil {
		p.finish(ctx, job, models.BotJobStatusProcessed)
		return
	}

	var rej *rejection
	if errors.As(err, &rej) || errors.Is(err, ErrNoMatch) || errors.Is(err, ErrNoReply) {
		logger.Info("Job rejected", zap.String("reason", err.Error()))
		if errors.As(err, &rej) && rej.notify {
			if _, nerr := p.deps.Notifier.Reply(ctx, rej.reason, job.CastHash, nil); nerr != nil {
				logger.Warn("Failed to send rejection reply", zap.Error(nerr))
			}
		}
		p.finish(ctx, job, models.BotJobStatusRejected)
		return
	}

	logger.Error("Job failed", zap.Error(err))
	if _, nerr := p.deps.Notifier.Reply(ctx,
		"Something went wrong on our side, please try again later.", job.CastHash, nil); nerr != nil {
		logger.Warn("Failed to send failure reply", zap.Error(nerr))
	}
	p.finish(ctx, job, models.BotJobStatusError)
}

func (p *Pipeline) finish(ctx context.Context, job *models.BotJob, status models.BotJobStatus) {
	if err := p.deps.Jobs.Finish(ctx, job, status); err != nil {
		p.logger.Error("Failed to finish job",
			zap.String("cast_hash", job.CastHash),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func (p *Pipeline) handle(ctx context.Context, job *models.BotJob) error {
	var cast farcaster.Cast
	if err := json.Unmarshal([]byte(job.CastJSON), &cast); err != nil {
		return fmt.Errorf("unreadable cast snapshot: %w", err)
	}

	// Self-authored triggers loop the bot onto itself.
	if cast.Author.FID == p.botFID {
		return reject("self-authored trigger")
	}
	if strings.TrimSpace(cast.Text) == "" {
		return reject("empty trigger")
	}
	// Webhook snapshots can arrive without the mention list populated;
	// refresh once from the hub before judging directness.
	if len(cast.Mentions) == 0 {
		if full, err := p.deps.Social.CastByHash(ctx, cast.Hash); err != nil {
			p.logger.Warn("Cast refresh failed", zap.Error(err))
		} else if full != nil {
			cast = *full
		}
	}
	// A quote of the bot mention is not a direct request.
	if !cast.MentionsIdentity(p.botUsername) &&
		!strings.Contains(strings.ToLower(cast.Text), "@"+p.botUsername) {
		return reject("quoted trigger without direct mention")
	}

	caster, err := p.resolveCaster(ctx, &cast)
	if err != nil {
		return err
	}

	actions, err := p.resolveActions(ctx, &cast)
	if err != nil {
		return err
	}

	for _, action := range actions {
		if err := p.execute(ctx, &cast, caster, action); err != nil {
			return err
		}
	}
	return nil
}

// resolveCaster finds or registers the calling user's profile. Callers
// with no resolvable verified address are rejected with a sign-up prompt.
func (p *Pipeline) resolveCaster(ctx context.Context, cast *farcaster.Cast) (*models.Profile, error) {
	profile, err := p.deps.Profiles.GetByFID(ctx, cast.Author.FID)
	if err != nil {
		return nil, fmt.Errorf("profile lookup failed: %w", err)
	}
	if profile != nil {
		return profile, nil
	}

	user, err := p.deps.Social.UserByFID(ctx, cast.Author.FID)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil || len(user.Verifications) == 0 {
		return nil, rejectNotify(fmt.Sprintf(
			"@%s sign up first at %s to use payments", cast.Author.Username, p.appBaseURL))
	}

	identity, err := p.deps.Social.HighestScoredAddress(ctx, user.Verifications)
	if err != nil {
		return nil, fmt.Errorf("address scoring failed: %w", err)
	}

	profile = &models.Profile{
		FID:         user.FID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Identity:    identity,
		CreatedDate: time.Now().UTC(),
	}
	if err := p.deps.Profiles.Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("profile creation failed: %w", err)
	}

	p.logger.Info("Profile created on demand",
		zap.Int64("fid", profile.FID),
		zap.String("username", profile.Username))
	return profile, nil
}

// resolveActions routes the trigger to the agent dispatcher while the
// caller has attempt budget left, otherwise to the grammar parser.
// Budget exhaustion is graceful degradation, not an error.
func (p *Pipeline) resolveActions(ctx context.Context, cast *farcaster.Cast) ([]BotAction, error) {
	allowed, err := p.deps.Budget.Consume(cast.Author.FID)
	if err != nil {
		p.logger.Warn("Attempt budget unavailable", zap.Error(err))
	}

	if allowed && p.deps.Dispatcher != nil {
		conv := &Conversation{Trigger: cast}
		if cast.IsReply() {
			ancestors, err := p.deps.Social.CastAncestors(ctx, cast.ParentHash, p.maxAncestors)
			if err != nil {
				p.logger.Warn("Ancestor fetch failed", zap.Error(err))
			} else {
				conv.Ancestors = ancestors
			}
		}
		return p.deps.Dispatcher.Dispatch(ctx, conv)
	}

	actions, err := p.deps.Parser.Parse(cast)
	if err != nil {
		if errors.Is(err, ErrAgentRequested) {
			return nil, reject("agent attempts exhausted")
		}
		return nil, err
	}
	return []BotAction{actions}, nil
}

func (p *Pipeline) execute(ctx context.Context, cast *farcaster.Cast, caster *models.Profile, action BotAction) error {
	switch a := action.(type) {
	case PayAction:
		return p.executePayment(ctx, cast, caster, a.Recipient, a.Amount, a.USD, a.Token, a.ChainID, "")

	case BatchAction:
		for _, recipient := range a.Recipients {
			if err := p.executePayment(ctx, cast, caster, recipient, a.Amount, a.USD, a.Token, a.ChainID, ""); err != nil {
				return err
			}
		}
		return nil

	case CollectAction:
		return p.executePayment(ctx, cast, caster, a.Recipient, a.Amount, a.USD, a.Token, a.ChainID, "")

	case JarAction:
		return p.executeJar(ctx, cast, caster, a)

	case PayMeAction:
		return p.executePayMe(ctx, cast, caster, a)

	case BalanceQueryAction:
		return p.executeBalanceQuery(ctx, cast, caster, a)

	case StorageAction:
		return p.executeStorage(ctx, cast, caster, a)

	case TopUpAction:
		text := fmt.Sprintf("@%s top up your wallet here: %s/wallet/topup", cast.Author.Username, p.appBaseURL)
		_, err := p.deps.Notifier.Reply(ctx, text, cast.Hash, nil)
		return err

	case ClaimAction:
		text := fmt.Sprintf("@%s claim your %s here: %s/claim/%s",
			cast.Author.Username, a.Asset, p.appBaseURL, a.Asset)
		_, err := p.deps.Notifier.Reply(ctx, text, cast.Hash, nil)
		return err

	case MintAction:
		return p.executeMint(ctx, cast, caster, a)
	}

	return fmt.Errorf("unhandled action %T", action)
}

// executePayment creates the payment for one recipient and, when the
// caller holds a funded session wallet on the default chain, upgrades it
// to a session intent with a ready-to-submit call.
func (p *Pipeline) executePayment(ctx context.Context, cast *farcaster.Cast, caster *models.Profile,
	recipient PayRecipient, amount decimal.Decimal, usd bool, tokenSymbol string, chainID int64, category string) error {

	token, ok := p.deps.Registry.Token(chainID, tokenSymbol)
	if !ok {
		return reject(fmt.Sprintf("token %s not supported on chain %d", tokenSymbol, chainID))
	}

	address, receiverProfileID, receiverFID, err := p.resolveRecipientAddress(ctx, recipient, chainID)
	if err != nil {
		return err
	}

	usdAmount, tokenAmount, err := p.amounts(ctx, token, amount, usd)
	if err != nil {
		return err
	}

	maxAllowed := p.maxUSD
	if category == frame.CategoryJar {
		maxAllowed = p.maxJarUSD
	}
	if usdAmount.LessThan(decimal.NewFromInt(1)) || usdAmount.GreaterThan(maxAllowed) {
		return rejectNotify(fmt.Sprintf(
			"@%s amounts must be between $1 and $%s", cast.Author.Username, maxAllowed))
	}

	payment := &models.Payment{
		ReferenceID:       frame.NewReferenceID(),
		Type:              models.PaymentTypeIntent,
		Category:          category,
		Status:            models.PaymentStatusPending,
		SenderProfileID:   &caster.ID,
		ReceiverAddress:   address,
		ReceiverProfileID: receiverProfileID,
		Network:           chainID,
		Token:             token.Symbol,
		SourceApp:         "farcaster",
		SourceHash:        cast.Hash,
		CreatedDate:       time.Now().UTC(),
	}
	// Only the denomination the caller spoke is persisted; the other side
	// is derived from the live price wherever it is needed.
	if usd {
		payment.USDAmount = &usdAmount
	} else {
		payment.TokenAmount = &tokenAmount
	}
	if receiverFID > 0 {
		payment.ReceiverFID = &receiverFID
	}

	sessionCall, err := p.sessionCall(ctx, caster, token, address, tokenAmount, chainID)
	if err != nil {
		p.logger.Warn("Session wallet check failed", zap.Error(err))
	}
	if sessionCall != nil {
		raw, merr := json.Marshal(sessionCall)
		if merr != nil {
			return fmt.Errorf("session call encoding failed: %w", merr)
		}
		payment.Type = models.PaymentTypeSessionIntent
		payment.SessionCall = string(raw)
	}

	if err := p.deps.Payments.Create(ctx, payment); err != nil {
		return fmt.Errorf("payment creation failed: %w", err)
	}

	logging.WithPayment(payment.ReferenceID).Info("Payment intent created",
		zap.String("type", string(payment.Type)),
		zap.Int64("network", chainID),
		zap.String("token", token.Symbol))

	link := fmt.Sprintf("%s/payment/%s", p.appBaseURL, payment.ReferenceID)
	if sessionCall != nil {
		text := fmt.Sprintf("@%s paying @%s %s %s, your session wallet sends it shortly.",
			cast.Author.Username, recipient.Username, tokenAmount.StringFixed(4), strings.ToUpper(token.Symbol))
		_, err = p.deps.Notifier.Reply(ctx, text, cast.Hash, []string{link})
		return err
	}

	text := fmt.Sprintf("@%s complete the payment to @%s manually here:",
		cast.Author.Username, recipient.Username)
	_, err = p.deps.Notifier.Reply(ctx, text, cast.Hash, []string{link})
	return err
}

// executeMint records a mint intent for the caller and hands completion
// off to the app. Mintables are not registry tokens; the ledger carries a
// composite descriptor derived from the embed URL instead.
func (p *Pipeline) executeMint(ctx context.Context, cast *farcaster.Cast, caster *models.Profile, a MintAction) error {
	one := decimal.NewFromInt(1)
	payment := &models.Payment{
		ReferenceID:       frame.NewReferenceID(),
		Type:              models.PaymentTypeIntent,
		Category:          "mint",
		Status:            models.PaymentStatusPending,
		SenderProfileID:   &caster.ID,
		ReceiverProfileID: &caster.ID,
		ReceiverAddress:   caster.Identity,
		ReceiverFID:       &caster.FID,
		Network:           p.deps.Registry.DefaultChainID(),
		Token:             mintToken(a.EmbedURL),
		TokenAmount:       &one,
		SourceApp:         "farcaster",
		SourceRef:         a.EmbedURL,
		SourceHash:        cast.Hash,
		CreatedDate:       time.Now().UTC(),
	}
	if err := p.deps.Payments.Create(ctx, payment); err != nil {
		return fmt.Errorf("mint payment creation failed: %w", err)
	}

	logging.WithPayment(payment.ReferenceID).Info("Mint intent created",
		zap.String("embed_url", a.EmbedURL))

	link := fmt.Sprintf("%s/payment/%s", p.appBaseURL, payment.ReferenceID)
	text := fmt.Sprintf("@%s complete the mint here:", cast.Author.Username)
	_, err := p.deps.Notifier.Reply(ctx, text, cast.Hash, []string{link})
	return err
}

// executeStorage records a storage-purchase intent for the recipient, the
// caller themselves when no recipient was named.
func (p *Pipeline) executeStorage(ctx context.Context, cast *farcaster.Cast, caster *models.Profile, a StorageAction) error {
	units := a.Units
	if units <= 0 {
		units = 1
	}
	recipientFID := cast.Author.FID
	recipientName := cast.Author.Username
	if a.Recipient.FID > 0 {
		recipientFID = a.Recipient.FID
		recipientName = a.Recipient.Username
	}

	amount := decimal.NewFromInt(units)
	payment := &models.Payment{
		ReferenceID:     frame.NewReferenceID(),
		Type:            models.PaymentTypeIntent,
		Category:        "fc_storage",
		Status:          models.PaymentStatusPending,
		SenderProfileID: &caster.ID,
		ReceiverFID:     &recipientFID,
		Network:         p.deps.Registry.DefaultChainID(),
		Token:           "fc_storage",
		TokenAmount:     &amount,
		SourceApp:       "farcaster",
		SourceHash:      cast.Hash,
		CreatedDate:     time.Now().UTC(),
	}
	if err := p.deps.Payments.Create(ctx, payment); err != nil {
		return fmt.Errorf("storage payment creation failed: %w", err)
	}

	logging.WithPayment(payment.ReferenceID).Info("Storage intent created",
		zap.Int64("units", units),
		zap.Int64("recipient_fid", recipientFID))

	link := fmt.Sprintf("%s/payment/%s", p.appBaseURL, payment.ReferenceID)
	text := fmt.Sprintf("@%s buy %d storage unit(s) for @%s here:",
		cast.Author.Username, units, recipientName)
	_, err := p.deps.Notifier.Reply(ctx, text, cast.Hash, []string{link})
	return err
}

// mintToken composes the ledger token descriptor for a mint, bounded to
// the token column width.
func mintToken(embedURL string) string {
	desc := "mint"
	if u, err := url.Parse(embedURL); err == nil && u.Host != "" {
		desc = "mint:" + u.Host
	}
	if len(desc) > 40 {
		desc = desc[:40]
	}
	return desc
}

func (p *Pipeline) executeJar(ctx context.Context, cast *farcaster.Cast, caster *models.Profile, a JarAction) error {
	recipient := PayRecipient{Username: cast.Author.Username, FID: cast.Author.FID}
	return p.executePayment(ctx, cast, caster, recipient, a.Amount, a.USD, a.Token, a.ChainID, frame.CategoryJar)
}

func (p *Pipeline) executePayMe(ctx context.Context, cast *farcaster.Cast, caster *models.Profile, a PayMeAction) error {
	// The roles flip: the payer receives the request, the caller is paid.
	link := fmt.Sprintf("%s/pay/%s", p.appBaseURL, caster.Identity)
	text := fmt.Sprintf("@%s, @%s requests a payment of %s %s",
		a.Payer.Username, cast.Author.Username, a.Amount.String(), strings.ToUpper(a.Token))
	_, err := p.deps.Notifier.Reply(ctx, text, cast.Hash, []string{link})
	return err
}

func (p *Pipeline) executeBalanceQuery(ctx context.Context, cast *farcaster.Cast, caster *models.Profile, a BalanceQueryAction) error {
	wallet, err := p.deps.Wallets.ForProfileAndNetwork(ctx, caster.ID, a.ChainID)
	if err != nil {
		return fmt.Errorf("wallet lookup failed: %w", err)
	}
	if wallet == nil {
		return rejectNotify(fmt.Sprintf("@%s you have no wallet on this chain yet", cast.Author.Username))
	}

	balance, err := p.deps.Balances.Balance(ctx, wallet.Address, a.ChainID, a.Token)
	if err != nil {
		return fmt.Errorf("balance lookup failed: %w", err)
	}

	return p.deps.Notifier.DirectMessage(ctx, caster.FID,
		fmt.Sprintf("Your wallet holds %s %s", balance.Formatted, balance.Symbol))
}

// resolveRecipientAddress prefers the receiver's registered payment wallet
// for the target chain and falls back to the highest-scored verified
// address.
func (p *Pipeline) resolveRecipientAddress(ctx context.Context, recipient PayRecipient, chainID int64) (string, *int64, int64, error) {
	fid := recipient.FID

	if fid > 0 {
		profile, err := p.deps.Profiles.GetByFID(ctx, fid)
		if err != nil {
			return "", nil, 0, fmt.Errorf("receiver profile lookup failed: %w", err)
		}
		if profile != nil {
			wallet, err := p.deps.Wallets.ForProfileAndNetwork(ctx, profile.ID, chainID)
			if err != nil {
				return "", nil, 0, fmt.Errorf("receiver wallet lookup failed: %w", err)
			}
			if wallet != nil {
				return wallet.Address, &profile.ID, fid, nil
			}
			return profile.Identity, &profile.ID, fid, nil
		}
	}

	var user *farcaster.User
	var err error
	if fid > 0 {
		user, err = p.deps.Social.UserByFID(ctx, fid)
	} else {
		user, err = p.deps.Social.UserByUsername(ctx, recipient.Username)
	}
	if err != nil {
		return "", nil, 0, fmt.Errorf("receiver lookup failed: %w", err)
	}
	if user == nil || len(user.Verifications) == 0 {
		return "", nil, 0, rejectNotify(fmt.Sprintf("@%s has no verified address to pay to", recipient.Username))
	}

	address, err := p.deps.Social.HighestScoredAddress(ctx, user.Verifications)
	if err != nil {
		return "", nil, 0, fmt.Errorf("address scoring failed: %w", err)
	}
	return address, nil, user.FID, nil
}

// amounts derives both denominations from the parsed amount and the live
// price.
func (p *Pipeline) amounts(ctx context.Context, token registry.Token, amount decimal.Decimal, usd bool) (decimal.Decimal, decimal.Decimal, error) {
	price, err := p.deps.Prices.Price(ctx, token.Symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price lookup failed: %w", err)
	}
	if usd {
		return amount, amount.DivRound(price, int32(token.Decimals)), nil
	}
	return amount.Mul(price).Round(2), amount, nil
}

// sessionCall returns a ready-to-submit transfer call when the caller has
// a funded delegated session wallet on the payment's chain, which must be
// the default chain.
func (p *Pipeline) sessionCall(ctx context.Context, caster *models.Profile, token registry.Token,
	receiver string, tokenAmount decimal.Decimal, chainID int64) (*chain.TxCallDescriptor, error) {

	if chainID != p.deps.Registry.DefaultChainID() {
		return nil, nil
	}
	wallet, err := p.deps.Wallets.ForProfileAndNetwork(ctx, caster.ID, chainID)
	if err != nil {
		return nil, err
	}
	if !wallet.HasSession() {
		return nil, nil
	}

	balance, err := p.deps.Balances.Balance(ctx, wallet.Address, chainID, token.Symbol)
	if err != nil {
		return nil, err
	}
	if balance.Value.LessThan(tokenAmount) {
		return nil, nil
	}

	return chain.EncodeTransferCall(token, receiver, tokenAmount)
}

// sweepExpired moves stale PENDING payments to EXPIRED.
func (p *Pipeline) sweepExpired(ctx context.Context) {
	if p.paymentExpiry <= 0 {
		return
	}
	expired, err := p.deps.Payments.ExpireStale(ctx, time.Now().UTC().Add(-p.paymentExpiry))
	if err != nil {
		p.logger.Error("Expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		p.logger.Info("Expired stale payments", zap.Int64("count", expired))
	}
}

// sweepRetries re-opens a bounded batch of ERROR jobs whose last attempt
// is older than the retry backoff. Re-opened jobs go through the normal
// claim path again.
func (p *Pipeline) sweepRetries(ctx context.Context) {
	retried, err := p.deps.Jobs.RetryErrors(ctx, time.Now().UTC().Add(-retryBackoff), retryBatchSize)
	if err != nil {
		p.logger.Error("Retry sweep failed", zap.Error(err))
		return
	}
	if retried > 0 {
		p.logger.Info("Re-opened failed jobs", zap.Int64("count", retried))
	}
}
