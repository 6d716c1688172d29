package bot

import (
	"github.com/shopspring/decimal"
)

// BotAction is the resolved outcome of one bot trigger, one variant per
// command. Handlers switch on the concrete type and read exactly the
// fields that variant carries.
type BotAction interface {
	isBotAction()
}

// PayRecipient names one payment target: a username resolved from the
// trigger context, optionally with a raw address when already known.
type PayRecipient struct {
	Username string
	FID      int64
	Address  string
}

// PayAction is a direct payment to a single recipient.
type PayAction struct {
	Recipient PayRecipient
	Amount    decimal.Decimal
	USD       bool
	Token     string
	ChainID   int64
}

// BatchAction pays the same amount to several recipients.
type BatchAction struct {
	Recipients []PayRecipient
	Amount     decimal.Decimal
	USD        bool
	Token      string
	ChainID    int64
}

// JarAction creates a pooled contribution jar seeded from the trigger.
type JarAction struct {
	Title   string
	Amount  decimal.Decimal
	USD     bool
	Token   string
	ChainID int64
}

// MintAction collects the embedded mintable into the caller's wallet.
type MintAction struct {
	EmbedURL string
}

// CollectAction pays for and collects the referenced content.
type CollectAction struct {
	Recipient PayRecipient
	Amount    decimal.Decimal
	USD       bool
	Token     string
	ChainID   int64
}

// StorageAction buys storage units for a recipient.
type StorageAction struct {
	Recipient PayRecipient
	Units     int64
}

// BalanceQueryAction reports the caller's session wallet balance.
type BalanceQueryAction struct {
	Token   string
	ChainID int64
}

// TopUpAction moves funds from a verified address into the session wallet.
type TopUpAction struct {
	Amount  decimal.Decimal
	USD     bool
	Token   string
	ChainID int64
}

// PayMeAction requests a payment from another user to the caller.
type PayMeAction struct {
	Payer   PayRecipient
	Amount  decimal.Decimal
	USD     bool
	Token   string
	ChainID int64
}

// ClaimAction points the caller at the airdrop claim flow.
type ClaimAction struct {
	Asset string
}

func (PayAction) isBotAction()          {}
func (BatchAction) isBotAction()        {}
func (JarAction) isBotAction()          {}
func (MintAction) isBotAction()         {}
func (CollectAction) isBotAction()      {}
func (StorageAction) isBotAction()      {}
func (BalanceQueryAction) isBotAction() {}
func (TopUpAction) isBotAction()        {}
func (PayMeAction) isBotAction()        {}
func (ClaimAction) isBotAction()        {}
