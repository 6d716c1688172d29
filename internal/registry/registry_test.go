package registry

import (
	"testing"
)

func TestChainByName(t *testing.T) {
	reg := Default()

	tests := []struct {
		name     string
		input    string
		expected int64
		found    bool
	}{
		{"base", "base", Base, true},
		{"base uppercase", "BASE", Base, true},
		{"optimism", "optimism", Optimism, true},
		{"l3 alias", "l3", DegenL3, true},
		{"degenchain alias", "degenchain", DegenL3, true},
		{"bare degen is not a chain", "degen", 0, false},
		{"unknown", "solana", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, ok := reg.ChainByName(tt.input)
			if ok != tt.found {
				t.Fatalf("ChainByName(%q) found = %v, want %v", tt.input, ok, tt.found)
			}
			if ok && chain.ID != tt.expected {
				t.Errorf("ChainByName(%q) = %d, want %d", tt.input, chain.ID, tt.expected)
			}
		})
	}
}

func TestResolveTokenText(t *testing.T) {
	reg := Default()

	tests := []struct {
		name          string
		text          string
		expectedSym   string
		expectedChain int64
		found         bool
	}{
		{"usdc defaults to base", "100 usdc", "usdc", Base, true},
		{"degen defaults to base token", "50 degen", "degen", Base, true},
		{"degen with explicit l3", "50 degen on l3", "degen", DegenL3, true},
		{"degen with explicit chain name", "50 degen on degenchain", "degen", DegenL3, true},
		{"usdc on optimism", "5 usdc on optimism", "usdc", Optimism, true},
		{"eth on zora", "1 eth zora", "eth", Zora, true},
		{"unique host when absent from default", "2 op", "op", Optimism, true},
		{"no token", "hello there", "", 0, false},
		{"token absent from explicit chain", "5 higher on zora", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, ok := reg.ResolveTokenText(tt.text)
			if ok != tt.found {
				t.Fatalf("ResolveTokenText(%q) found = %v, want %v", tt.text, ok, tt.found)
			}
			if !ok {
				return
			}
			if token.Symbol != tt.expectedSym {
				t.Errorf("ResolveTokenText(%q) symbol = %s, want %s", tt.text, token.Symbol, tt.expectedSym)
			}
			if token.ChainID != tt.expectedChain {
				t.Errorf("ResolveTokenText(%q) chain = %d, want %d", tt.text, token.ChainID, tt.expectedChain)
			}
		})
	}
}

func TestNewRejectsBadTables(t *testing.T) {
	chains := []Chain{{ID: 1, Name: "one"}}

	if _, err := New(chains, nil, 2); err == nil {
		t.Error("Expected error for default chain missing from table")
	}

	tokens := []Token{{ChainID: 9, Symbol: "x", Decimals: 18}}
	if _, err := New(chains, tokens, 1); err == nil {
		t.Error("Expected error for token on unknown chain")
	}
}

func TestTokensForChain(t *testing.T) {
	reg := Default()

	tokens := reg.TokensForChain(Base)
	if len(tokens) == 0 {
		t.Fatal("Expected tokens on the default chain")
	}
	for _, token := range tokens {
		if token.ChainID != Base {
			t.Errorf("TokensForChain(Base) returned token on chain %d", token.ChainID)
		}
	}

	if tokens := reg.TokensForChain(12345); tokens != nil {
		t.Errorf("TokensForChain(unknown) = %v, want nil", tokens)
	}
}
