package frame

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sidrisov/payflow/internal/chain"
	"github.com/sidrisov/payflow/internal/db"
	"github.com/sidrisov/payflow/internal/models"
	"github.com/sidrisov/payflow/internal/registry"
	"github.com/sidrisov/payflow/pkg/logging"
	"github.com/sidrisov/payflow/pkg/telemetry"
)

// CategoryJar marks pooled contributions, which carry a higher amount bound.
const CategoryJar = "jar"

// PaymentLedger is the payment persistence dependency of the wizard.
type PaymentLedger interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByReferenceID(ctx context.Context, refID string) (*models.Payment, error)
	GetByHash(ctx context.Context, hash string) (*models.Payment, error)
	Update(ctx context.Context, payment *models.Payment, updates map[string]interface{}) error
}

// ProfileStore resolves locally registered profiles.
type ProfileStore interface {
	GetByFID(ctx context.Context, fid int64) (*models.Profile, error)
	GetByIdentity(ctx context.Context, identity string) (*models.Profile, error)
}

// WalletStore resolves per-chain payment wallets.
type WalletStore interface {
	ForProfileAndNetwork(ctx context.Context, profileID, network int64) (*models.Wallet, error)
}

// PriceSource provides live USD token prices.
type PriceSource interface {
	Price(ctx context.Context, token string) (decimal.Decimal, error)
}

// StepResult is the outcome of one wizard step: either a next frame to
// render or a chain call for the client to execute.
type StepResult struct {
	Frame *FrameResponse
	Tx    *chain.TxCallDescriptor
}

// Wizard is the payment-creation step machine. It is stateless: all
// cross-request state travels in the opaque token and the ledger.
type Wizard struct {
	reg      *registry.Registry
	payments PaymentLedger
	profiles ProfileStore
	wallets  WalletStore
	prices   PriceSource
	baseURL  string
	minUSD   decimal.Decimal
	maxUSD   decimal.Decimal
	maxJar   decimal.Decimal
	logger   *zap.Logger
}

// NewWizard creates a wizard with the given collaborators and USD bounds.
func NewWizard(
	reg *registry.Registry,
	payments PaymentLedger,
	profiles ProfileStore,
	wallets WalletStore,
	prices PriceSource,
	baseURL string,
	maxUSD, maxJarUSD int,
) *Wizard {
	return &Wizard{
		reg:      reg,
		payments: payments,
		profiles: profiles,
		wallets:  wallets,
		prices:   prices,
		baseURL:  strings.TrimRight(baseURL, "/"),
		minUSD:   decimal.NewFromInt(1),
		maxUSD:   decimal.NewFromInt(int64(maxUSD)),
		maxJar:   decimal.NewFromInt(int64(maxJarUSD)),
		logger:   logging.WithComponent("frame-wizard"),
	}
}

// Entry renders the chain-selection step for paying the given receiver.
func (w *Wizard) Entry(ctx context.Context, receiver, category string) (*FrameResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "wizard.entry")
	defer span.End()

	if receiver == "" {
		return w.failureFrame("Unknown receiver"), nil
	}

	st := OpaqueWizardState{Receiver: receiver, Category: category}
	return w.chainSelectFrame(st, "")
}

// SelectChain handles the tapped chain button and advances to token/amount
// entry.
func (w *Wizard) SelectChain(ctx context.Context, ev *InteractionEvent) (*StepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "wizard.select_chain")
	defer span.End()

	st, err := DecodeState(ev.State)
	if err != nil {
		return w.restart()
	}

	chains := w.reg.Chains()
	if ev.Button < 1 || ev.Button > len(chains) {
		f, err := w.chainSelectFrame(st, "Pick one of the supported chains")
		return &StepResult{Frame: f}, err
	}
	selected := chains[ev.Button-1]

	address, _, err := w.resolveDestination(ctx, st.Receiver, selected.ID)
	if err != nil {
		w.logger.Warn("Destination unresolved",
			zap.String("receiver", st.Receiver),
			zap.Int64("chain", selected.ID),
			zap.Error(err))
		f, ferr := w.chainSelectFrame(st, fmt.Sprintf("%s has no wallet on %s", st.Receiver, selected.Name))
		return &StepResult{Frame: f}, ferr
	}

	st.ChainID = selected.ID
	st.Address = address

	f, err := w.amountFrame(st, "")
	return &StepResult{Frame: f}, err
}

// EnterAmount validates the typed USD amount and tapped token, creates the
// PENDING payment, and advances to the confirm step.
func (w *Wizard) EnterAmount(ctx context.Context, ev *InteractionEvent) (*StepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "wizard.enter_amount")
	defer span.End()

	st, err := DecodeState(ev.State)
	if err != nil {
		return w.restart()
	}
	if ferr := w.recheckDestination(ctx, &st); ferr != nil {
		return &StepResult{Frame: w.failureFrame("This payment can no longer be completed")}, nil
	}

	amount, perr := parseUSDAmount(ev.Input)
	maxAllowed := w.maxUSD
	if st.Category == CategoryJar {
		maxAllowed = w.maxJar
	}
	if perr != nil || amount.LessThan(w.minUSD) || amount.GreaterThan(maxAllowed) {
		prompt := fmt.Sprintf("Enter an amount between $%s and $%s", w.minUSD, maxAllowed)
		f, ferr := w.amountFrame(st, prompt)
		return &StepResult{Frame: f}, ferr
	}

	tokens := w.reg.TokensForChain(st.ChainID)
	if ev.Button < 1 || ev.Button > len(tokens) {
		f, ferr := w.amountFrame(st, "Pick one of the listed tokens")
		return &StepResult{Frame: f}, ferr
	}
	token := tokens[ev.Button-1]

	receiverProfileID := w.receiverProfileID(ctx, st.Receiver)

	payment := &models.Payment{
		ReferenceID:       NewReferenceID(),
		Type:              models.PaymentTypeFrame,
		Category:          st.Category,
		Status:            models.PaymentStatusPending,
		ReceiverAddress:   st.Address,
		ReceiverProfileID: receiverProfileID,
		Network:           st.ChainID,
		Token:             token.Symbol,
		USDAmount:         &amount,
		SourceApp:         ev.Client,
		SourceHash:        ev.CastHash,
		SourceRef:         w.castLink(ev.CastHash),
		CreatedDate:       time.Now().UTC(),
	}
	if len(ev.ActorAddresses) > 0 {
		payment.SenderAddress = ev.ActorAddresses[0]
	}

	if err := w.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	w.logger.Info("Payment created",
		zap.String("reference_id", payment.ReferenceID),
		zap.Int64("network", payment.Network),
		zap.String("token", payment.Token),
		zap.String("usd_amount", amount.String()))

	st.Token = token.Symbol
	st.USDAmount = &amount
	st.RefID = payment.ReferenceID

	f, err := w.confirmFrame(st)
	return &StepResult{Frame: f}, err
}

// Confirm handles the three confirm-step outcomes: settlement callback,
// "pay now", and "later".
func (w *Wizard) Confirm(ctx context.Context, ev *InteractionEvent) (*StepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "wizard.confirm")
	defer span.End()

	st, err := DecodeState(ev.State)
	if err != nil {
		return w.restart()
	}

	payment, err := w.loadPayment(ctx, st)
	if err != nil {
		return &StepResult{Frame: w.failureFrame("This payment can no longer be completed")}, nil
	}

	if ev.TxHash != "" {
		return w.settle(ctx, payment, st, ev.TxHash)
	}

	switch ev.Button {
	case 1: // pay now: return the chain call, no state transition
		desc, err := w.encodeCall(ctx, payment)
		if err != nil {
			w.logger.Error("Failed to encode transfer call",
				zap.String("reference_id", payment.ReferenceID), zap.Error(err))
			return &StepResult{Frame: w.failureFrame("Payment is temporarily unavailable")}, nil
		}
		return &StepResult{Tx: desc}, nil

	case 2: // later: deferred, app-executed intent
		updates := map[string]interface{}{"type": models.PaymentTypeIntent}
		if profile, err := w.profiles.GetByFID(ctx, ev.ActorFID); err == nil && profile != nil {
			updates["sender_profile_id"] = profile.ID
			payment.SenderProfileID = &profile.ID
		}
		if err := w.payments.Update(ctx, payment, updates); err != nil && !errors.Is(err, db.ErrStaleUpdate) {
			return nil, fmt.Errorf("failed to defer payment: %w", err)
		}
		f := w.deferredFrame(payment)
		return &StepResult{Frame: f}, nil

	default:
		f, ferr := w.confirmFrame(st)
		return &StepResult{Frame: f}, ferr
	}
}

// Comment sets the one-time comment on a completed payment.
func (w *Wizard) Comment(ctx context.Context, ev *InteractionEvent) (*StepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "wizard.comment")
	defer span.End()

	st, err := DecodeState(ev.State)
	if err != nil {
		return w.restart()
	}

	payment, err := w.loadPayment(ctx, st)
	if err != nil {
		return &StepResult{Frame: w.failureFrame("This payment can no longer be completed")}, nil
	}
	if payment.Status != models.PaymentStatusCompleted {
		return &StepResult{Frame: w.failureFrame("Only completed payments can carry a comment")}, nil
	}

	// Comment is immutable after the first successful set; a retry returns
	// the same terminal rendering.
	if payment.Comment != "" {
		return &StepResult{Frame: w.terminalFrame(payment)}, nil
	}

	comment := strings.TrimSpace(ev.Input)
	if comment == "" {
		f, ferr := w.commentFrame(st)
		return &StepResult{Frame: f}, ferr
	}
	if len(comment) > 256 {
		cut := 256
		for cut > 0 && !utf8.RuneStart(comment[cut]) {
			cut--
		}
		comment = comment[:cut]
	}

	if err := w.payments.Update(ctx, payment, map[string]interface{}{"comment": comment}); err != nil {
		if errors.Is(err, db.ErrStaleUpdate) {
			// Lost the race to a concurrent comment; render terminal as-is.
			return &StepResult{Frame: w.terminalFrame(payment)}, nil
		}
		return nil, fmt.Errorf("failed to set comment: %w", err)
	}
	payment.Comment = comment

	return &StepResult{Frame: w.terminalFrame(payment)}, nil
}

// settle applies a settlement callback. Replays against an already
// completed payment are a no-op.
func (w *Wizard) settle(ctx context.Context, payment *models.Payment, st OpaqueWizardState, txHash string) (*StepResult, error) {
	if payment.Status == models.PaymentStatusCompleted {
		f, err := w.commentFrame(st)
		return &StepResult{Frame: f}, err
	}
	if !payment.Status.CanTransition(models.PaymentStatusCompleted) {
		return &StepResult{Frame: w.failureFrame("This payment can no longer be completed")}, nil
	}

	// A settlement hash settles exactly one payment.
	if claimed, err := w.payments.GetByHash(ctx, txHash); err != nil {
		return nil, fmt.Errorf("failed to check settlement hash: %w", err)
	} else if claimed != nil && claimed.ReferenceID != payment.ReferenceID {
		w.logger.Warn("Settlement hash already claimed",
			zap.String("reference_id", payment.ReferenceID),
			zap.String("hash", txHash))
		return &StepResult{Frame: w.failureFrame("This transaction already settled another payment")}, nil
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"hash":           txHash,
		"status":         models.PaymentStatusCompleted,
		"completed_date": now,
	}
	if err := w.payments.Update(ctx, payment, updates); err != nil {
		if errors.Is(err, db.ErrStaleUpdate) {
			// A concurrent settlement won; treat as replay.
			fresh, rerr := w.payments.GetByReferenceID(ctx, payment.ReferenceID)
			if rerr == nil && fresh != nil && fresh.Status == models.PaymentStatusCompleted {
				f, ferr := w.commentFrame(st)
				return &StepResult{Frame: f}, ferr
			}
			return &StepResult{Frame: w.failureFrame("This payment can no longer be completed")}, nil
		}
		return nil, fmt.Errorf("failed to complete payment: %w", err)
	}

	payment.Hash = &txHash
	payment.Status = models.PaymentStatusCompleted
	payment.CompletedDate = &now

	w.logger.Info("Payment completed",
		zap.String("reference_id", payment.ReferenceID),
		zap.String("hash", txHash))

	f, err := w.commentFrame(st)
	return &StepResult{Frame: f}, err
}

// loadPayment re-reads the payment named by the state and cross-checks the
// state against it: decoded tokens are untrusted input.
func (w *Wizard) loadPayment(ctx context.Context, st OpaqueWizardState) (*models.Payment, error) {
	if st.RefID == "" {
		return nil, fmt.Errorf("state carries no payment reference")
	}
	payment, err := w.payments.GetByReferenceID(ctx, st.RefID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("payment %s not found", st.RefID)
	}
	if _, ok := w.reg.Token(payment.Network, payment.Token); !ok {
		return nil, fmt.Errorf("payment %s references unsupported token", st.RefID)
	}
	if st.ChainID != 0 && st.ChainID != payment.Network {
		return nil, fmt.Errorf("state chain does not match payment %s", st.RefID)
	}
	if st.Address != "" && !strings.EqualFold(st.Address, payment.ReceiverAddress) {
		return nil, fmt.Errorf("state address does not match payment %s", st.RefID)
	}
	return payment, nil
}

// recheckDestination re-validates decoded chain/token/address fields
// against the registry and the live destination resolution. A mismatch is
// rejected, never silently substituted.
func (w *Wizard) recheckDestination(ctx context.Context, st *OpaqueWizardState) error {
	if _, ok := w.reg.ChainByID(st.ChainID); !ok {
		return fmt.Errorf("chain %d no longer supported", st.ChainID)
	}
	address, _, err := w.resolveDestination(ctx, st.Receiver, st.ChainID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(address, st.Address) {
		return fmt.Errorf("destination for %s changed", st.Receiver)
	}
	return nil
}

// resolveDestination maps a receiver identity to the wallet address that
// payments on the given chain must go to.
func (w *Wizard) resolveDestination(ctx context.Context, receiver string, chainID int64) (string, *int64, error) {
	profile, err := w.profiles.GetByIdentity(ctx, receiver)
	if err != nil {
		return "", nil, err
	}
	if profile != nil {
		wallet, err := w.wallets.ForProfileAndNetwork(ctx, profile.ID, chainID)
		if err != nil {
			return "", nil, err
		}
		if wallet != nil {
			return wallet.Address, &profile.ID, nil
		}
		return profile.Identity, &profile.ID, nil
	}
	if common.IsHexAddress(receiver) {
		return common.HexToAddress(receiver).Hex(), nil, nil
	}
	return "", nil, fmt.Errorf("no destination for %s", receiver)
}

func (w *Wizard) receiverProfileID(ctx context.Context, receiver string) *int64 {
	profile, err := w.profiles.GetByIdentity(ctx, receiver)
	if err != nil || profile == nil {
		return nil
	}
	return &profile.ID
}

// encodeCall computes the token amount from the live price and builds the
// transfer descriptor.
func (w *Wizard) encodeCall(ctx context.Context, payment *models.Payment) (*chain.TxCallDescriptor, error) {
	token, ok := w.reg.Token(payment.Network, payment.Token)
	if !ok {
		return nil, fmt.Errorf("token %s not supported on chain %d", payment.Token, payment.Network)
	}

	tokenAmount, err := w.tokenAmount(ctx, payment, token)
	if err != nil {
		return nil, err
	}
	return chain.EncodeTransferCall(token, payment.ReceiverAddress, tokenAmount)
}

func (w *Wizard) tokenAmount(ctx context.Context, payment *models.Payment, token registry.Token) (decimal.Decimal, error) {
	if payment.TokenAmount != nil {
		return *payment.TokenAmount, nil
	}
	if payment.USDAmount == nil {
		return decimal.Zero, fmt.Errorf("payment %s has no amount", payment.ReferenceID)
	}
	price, err := w.prices.Price(ctx, token.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price lookup for %s failed: %w", token.Symbol, err)
	}
	return payment.USDAmount.DivRound(price, int32(token.Decimals)), nil
}

// parseUSDAmount parses "$10", "10" or "10.5". Rejects non-positive values;
// the upper bound is checked by the caller against the category policy.
func parseUSDAmount(input string) (decimal.Decimal, error) {
	input = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), "$"))
	if input == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	amount, err := decimal.NewFromString(input)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", input, err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// NewReferenceID generates a short globally unique public payment
// reference.
func NewReferenceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// -- renderings --

func (w *Wizard) chainSelectFrame(st OpaqueWizardState, note string) (*FrameResponse, error) {
	encoded, err := EncodeState(st)
	if err != nil {
		return nil, err
	}

	buttons := make([]FrameButton, 0, len(w.reg.Chains()))
	for _, c := range w.reg.Chains() {
		buttons = append(buttons, FrameButton{Label: c.Name, Action: "post"})
	}

	return &FrameResponse{
		ImageURL: w.imageURL("chain", st.Receiver, note),
		PostURL:  w.baseURL + "/api/farcaster/frames/pay/chain",
		State:    encoded,
		Buttons:  buttons,
	}, nil
}

func (w *Wizard) amountFrame(st OpaqueWizardState, note string) (*FrameResponse, error) {
	encoded, err := EncodeState(st)
	if err != nil {
		return nil, err
	}

	tokens := w.reg.TokensForChain(st.ChainID)
	buttons := make([]FrameButton, 0, len(tokens))
	for _, t := range tokens {
		buttons = append(buttons, FrameButton{Label: strings.ToUpper(t.Symbol), Action: "post"})
	}

	prompt := "Enter USD amount"
	if note != "" {
		prompt = note
	}

	return &FrameResponse{
		ImageURL:  w.imageURL("amount", st.Receiver, note),
		PostURL:   w.baseURL + "/api/farcaster/frames/pay/amount",
		InputText: prompt,
		State:     encoded,
		Buttons:   buttons,
	}, nil
}

func (w *Wizard) confirmFrame(st OpaqueWizardState) (*FrameResponse, error) {
	encoded, err := EncodeState(st)
	if err != nil {
		return nil, err
	}

	return &FrameResponse{
		ImageURL: w.imageURL("confirm", st.RefID, ""),
		PostURL:  w.baseURL + "/api/farcaster/frames/pay/confirm",
		State:    encoded,
		Buttons: []FrameButton{
			{Label: "Pay now", Action: "tx", Target: w.baseURL + "/api/farcaster/frames/pay/confirm"},
			{Label: "Later", Action: "post"},
		},
	}, nil
}

func (w *Wizard) commentFrame(st OpaqueWizardState) (*FrameResponse, error) {
	encoded, err := EncodeState(st)
	if err != nil {
		return nil, err
	}

	return &FrameResponse{
		ImageURL:  w.imageURL("comment", st.RefID, ""),
		PostURL:   w.baseURL + "/api/farcaster/frames/pay/comment",
		InputText: "Add a comment",
		State:     encoded,
		Buttons:   []FrameButton{{Label: "Submit", Action: "post"}},
	}, nil
}

func (w *Wizard) deferredFrame(payment *models.Payment) *FrameResponse {
	return &FrameResponse{
		ImageURL: w.imageURL("deferred", payment.ReferenceID, ""),
		Buttons: []FrameButton{
			{Label: "Complete in app", Action: "link", Target: w.paymentLink(payment.ReferenceID)},
		},
	}
}

func (w *Wizard) terminalFrame(payment *models.Payment) *FrameResponse {
	return &FrameResponse{
		ImageURL: w.imageURL("done", payment.ReferenceID, ""),
		Buttons: []FrameButton{
			{Label: "View payment", Action: "link", Target: w.paymentLink(payment.ReferenceID)},
		},
	}
}

func (w *Wizard) failureFrame(reason string) *FrameResponse {
	return &FrameResponse{
		ImageURL: w.imageURL("error", "", reason),
		Buttons: []FrameButton{
			{Label: "Open app", Action: "link", Target: w.baseURL},
		},
	}
}

// restart renders the safe default view for malformed state.
func (w *Wizard) restart() (*StepResult, error) {
	return &StepResult{Frame: w.failureFrame("Session expired, start over")}, nil
}

func (w *Wizard) imageURL(step, subject, note string) string {
	url := fmt.Sprintf("%s/images/frame/%s.png", w.baseURL, step)
	sep := "?"
	if subject != "" {
		url += sep + "subject=" + subject
		sep = "&"
	}
	if note != "" {
		url += sep + "note=" + strings.ReplaceAll(note, " ", "+")
	}
	return url
}

func (w *Wizard) paymentLink(refID string) string {
	return fmt.Sprintf("%s/payment/%s", w.baseURL, refID)
}

func (w *Wizard) castLink(castHash string) string {
	if castHash == "" {
		return ""
	}
	return "https://warpcast.com/~/conversations/" + castHash
}
