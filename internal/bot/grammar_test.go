package bot

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sidrisov/payflow/internal/farcaster"
	"github.com/sidrisov/payflow/internal/registry"
)

func testParser() *Parser {
	return NewParser("payflow", registry.Default())
}

func castWith(text string, mentions ...farcaster.Identity) *farcaster.Cast {
	return &farcaster.Cast{Hash: "0xcast", Text: text, Mentions: mentions}
}

func TestParseSendDefaultChain(t *testing.T) {
	p := testParser()

	action, err := p.Parse(castWith("@payflow send @alice 100 USDC",
		farcaster.Identity{FID: 100, Username: "alice"}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pay, ok := action.(PayAction)
	if !ok {
		t.Fatalf("Expected PayAction, got %T", action)
	}
	if pay.Recipient.Username != "alice" || pay.Recipient.FID != 100 {
		t.Errorf("Recipient = %+v, want alice/100", pay.Recipient)
	}
	if !pay.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Amount = %s, want 100", pay.Amount)
	}
	if pay.Token != "usdc" {
		t.Errorf("Token = %s, want usdc", pay.Token)
	}
	if pay.ChainID != registry.Base {
		t.Errorf("Chain = %d, want default %d", pay.ChainID, registry.Base)
	}
	if pay.USD {
		t.Error("Bare token amount must not be flagged as USD")
	}
}

func TestParseSendExplicitChain(t *testing.T) {
	p := testParser()

	action, err := p.Parse(castWith("@payflow send @alice 50 degen on l3",
		farcaster.Identity{FID: 100, Username: "alice"}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pay := action.(PayAction)
	if pay.Token != "degen" {
		t.Errorf("Token = %s, want degen", pay.Token)
	}
	if pay.ChainID != 666666666 {
		t.Errorf("Chain = %d, want degen L3", pay.ChainID)
	}
	if !pay.Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Amount = %s, want 50", pay.Amount)
	}
}

func TestParseAmountForms(t *testing.T) {
	tests := []struct {
		text   string
		amount decimal.Decimal
		usd    bool
	}{
		{"@payflow pay @alice $5 usdc", decimal.NewFromInt(5), true},
		{"@payflow pay @alice 2.5k degen", decimal.NewFromFloat(2500), false},
		{"@payflow pay @alice 1m degen", decimal.NewFromInt(1000000), false},
		{"@payflow pay @alice a few usdc", decimal.NewFromInt(3), false},
		{"@payflow pay @alice a couple usdc", decimal.NewFromInt(2), false},
		{"@payflow pay @alice some usdc", decimal.NewFromInt(5), false},
	}

	p := testParser()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			action, err := p.Parse(castWith(tt.text))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			pay := action.(PayAction)
			if !pay.Amount.Equal(tt.amount) {
				t.Errorf("Amount = %s, want %s", pay.Amount, tt.amount)
			}
			if pay.USD != tt.usd {
				t.Errorf("USD = %v, want %v", pay.USD, tt.usd)
			}
		})
	}
}

func TestParseDollarAmountDefaultsToUSDC(t *testing.T) {
	p := testParser()

	action, err := p.Parse(castWith("@payflow pay @alice $10"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pay := action.(PayAction)
	if pay.Token != "usdc" || pay.ChainID != registry.Base {
		t.Errorf("Got %s on %d, want usdc on %d", pay.Token, pay.ChainID, registry.Base)
	}
}

func TestParseRecipientFallback(t *testing.T) {
	p := testParser()

	// No mention in text: parent author wins.
	cast := castWith("@payflow pay 5 usdc")
	cast.ParentHash = "0xparent"
	cast.ParentAuthor = &farcaster.Identity{FID: 300, Username: "carol"}
	action, err := p.Parse(cast)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if pay := action.(PayAction); pay.Recipient.Username != "carol" {
		t.Errorf("Recipient = %s, want parent author carol", pay.Recipient.Username)
	}

	// No mention, no parent: first non-bot mentioned identity.
	cast = castWith("@payflow pay 5 usdc",
		farcaster.Identity{FID: 211734, Username: "payflow"},
		farcaster.Identity{FID: 400, Username: "dave"})
	action, err = p.Parse(cast)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if pay := action.(PayAction); pay.Recipient.Username != "dave" {
		t.Errorf("Recipient = %s, want dave", pay.Recipient.Username)
	}

	// Nothing to fall back to.
	if _, err := p.Parse(castWith("@payflow pay 5 usdc")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Expected ErrNoMatch without recipient, got %v", err)
	}
}

func TestParseBatch(t *testing.T) {
	p := testParser()

	action, err := p.Parse(castWith("@payflow batch @alice @bob @carol 5 usdc",
		farcaster.Identity{FID: 100, Username: "alice"},
		farcaster.Identity{FID: 200, Username: "bob"}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	batch := action.(BatchAction)
	if len(batch.Recipients) != 3 {
		t.Fatalf("Recipients = %d, want 3", len(batch.Recipients))
	}
	if batch.Recipients[0].FID != 100 || batch.Recipients[1].FID != 200 {
		t.Errorf("Mentioned FIDs not carried over: %+v", batch.Recipients)
	}
}

func TestParseMint(t *testing.T) {
	p := testParser()

	cast := castWith("@payflow mint this")
	cast.Embeds = []string{"https://zora.co/collect/abc"}
	action, err := p.Parse(cast)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if mint := action.(MintAction); mint.EmbedURL != "https://zora.co/collect/abc" {
		t.Errorf("EmbedURL = %s", mint.EmbedURL)
	}

	if _, err := p.Parse(castWith("@payflow mint this")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Mint without embed should be ErrNoMatch, got %v", err)
	}
}

func TestParseAgentCommand(t *testing.T) {
	p := testParser()

	_, err := p.Parse(castWith("@payflow agent what is my balance?"))
	if !errors.Is(err, ErrAgentRequested) {
		t.Fatalf("Expected ErrAgentRequested, got %v", err)
	}
}

func TestParseNoMatch(t *testing.T) {
	tests := []string{
		"just a regular cast",
		"@payflow hello there",
		"@payflow send @alice",
		"@payflow send @alice 100 unknowncoin",
		"@payflow send @alice 5 higher on zora",
	}

	p := testParser()
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			_, err := p.Parse(castWith(text))
			if !errors.Is(err, ErrNoMatch) {
				t.Errorf("Expected ErrNoMatch, got %v", err)
			}
		})
	}
}
