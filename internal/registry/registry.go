// Package registry holds the static table of supported chains and tokens.
// The registry is an immutable value passed explicitly to every component
// that needs it; tests construct alternates via New.
package registry

import (
	"fmt"
	"regexp"
	"strings"
)

// Chain is a supported network.
type Chain struct {
	ID      int64
	Name    string
	Aliases []string
}

// Token is a supported token on one chain. Address is empty for the native
// asset.
type Token struct {
	ChainID  int64
	Symbol   string
	Name     string
	Decimals int
	Address  string
}

// Registry is the immutable chain/token table with a default-chain policy.
type Registry struct {
	chains         []Chain
	tokens         []Token
	defaultChainID int64
}

// New builds a registry from explicit tables. The default chain must be one
// of the listed chains.
func New(chains []Chain, tokens []Token, defaultChainID int64) (*Registry, error) {
	r := &Registry{
		chains:         chains,
		tokens:         tokens,
		defaultChainID: defaultChainID,
	}
	if _, ok := r.ChainByID(defaultChainID); !ok {
		return nil, fmt.Errorf("default chain %d not in registry", defaultChainID)
	}
	for _, t := range tokens {
		if _, ok := r.ChainByID(t.ChainID); !ok {
			return nil, fmt.Errorf("token %s references unknown chain %d", t.Symbol, t.ChainID)
		}
	}
	return r, nil
}

// Base is the default chain for all payments.
const Base int64 = 8453

// Chain ids for the other supported networks.
const (
	Optimism int64 = 10
	Arbitrum int64 = 42161
	Zora     int64 = 7777777
	DegenL3  int64 = 666666666
)

// Default returns the production registry.
func Default() *Registry {
	chains := []Chain{
		{ID: Base, Name: "base"},
		{ID: Optimism, Name: "optimism", Aliases: []string{"op mainnet"}},
		{ID: Arbitrum, Name: "arbitrum", Aliases: []string{"arb"}},
		{ID: Zora, Name: "zora"},
		// The bare word "degen" always means the token, never the chain.
		{ID: DegenL3, Name: "degen-l3", Aliases: []string{"l3", "degenchain", "degen chain"}},
	}
	tokens := []Token{
		{ChainID: Base, Symbol: "eth", Name: "Ether", Decimals: 18},
		{ChainID: Base, Symbol: "usdc", Name: "USD Coin", Decimals: 6, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
		{ChainID: Base, Symbol: "degen", Name: "Degen", Decimals: 18, Address: "0x4ed4E862860beD51a9570b96d89aF5E1B0Efefed"},
		{ChainID: Base, Symbol: "higher", Name: "Higher", Decimals: 18, Address: "0x0578d8A44db98B23BF096A382e016e29a5Ce0ffe"},
		{ChainID: Optimism, Symbol: "eth", Name: "Ether", Decimals: 18},
		{ChainID: Optimism, Symbol: "usdc", Name: "USD Coin", Decimals: 6, Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"},
		{ChainID: Optimism, Symbol: "op", Name: "Optimism", Decimals: 18, Address: "0x4200000000000000000000000000000000000042"},
		{ChainID: Arbitrum, Symbol: "eth", Name: "Ether", Decimals: 18},
		{ChainID: Arbitrum, Symbol: "usdc", Name: "USD Coin", Decimals: 6, Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"},
		{ChainID: Arbitrum, Symbol: "arb", Name: "Arbitrum", Decimals: 18, Address: "0x912CE59144191C1204E64559FE8253a0e49E6548"},
		{ChainID: Zora, Symbol: "eth", Name: "Ether", Decimals: 18},
		{ChainID: DegenL3, Symbol: "degen", Name: "Degen", Decimals: 18},
	}

	r, err := New(chains, tokens, Base)
	if err != nil {
		// The static table is checked by tests; a broken build table is a
		// programming error.
		panic(err)
	}
	return r
}

// DefaultChainID returns the configured default chain.
func (r *Registry) DefaultChainID() int64 {
	return r.defaultChainID
}

// Chains returns all supported chains in stable order.
func (r *Registry) Chains() []Chain {
	out := make([]Chain, len(r.chains))
	copy(out, r.chains)
	return out
}

// ChainByID looks up a chain by id.
func (r *Registry) ChainByID(id int64) (Chain, bool) {
	for _, c := range r.chains {
		if c.ID == id {
			return c, true
		}
	}
	return Chain{}, false
}

// ChainByName looks up a chain by name or alias, case-insensitive.
func (r *Registry) ChainByName(name string) (Chain, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range r.chains {
		if c.Name == name {
			return c, true
		}
		for _, alias := range c.Aliases {
			if alias == name {
				return c, true
			}
		}
	}
	return Chain{}, false
}

// Token looks up a token by chain and symbol.
func (r *Registry) Token(chainID int64, symbol string) (Token, bool) {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	for _, t := range r.tokens {
		if t.ChainID == chainID && t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// TokensForChain returns the tokens supported on a chain in stable order.
func (r *Registry) TokensForChain(chainID int64) []Token {
	var out []Token
	for _, t := range r.tokens {
		if t.ChainID == chainID {
			out = append(out, t)
		}
	}
	return out
}

// ResolveTokenText resolves a token and chain out of free-form trailing
// text. The token symbol is matched by substring; when the symbol exists on
// more than one chain the tie is broken by an explicit chain name in the
// text. The default chain is always the configured default and is never
// inferred from a same-named token.
func (r *Registry) ResolveTokenText(text string) (Token, bool) {
	text = strings.ToLower(text)

	symbol := r.matchSymbol(text)
	if symbol == "" {
		return Token{}, false
	}

	if chain, ok := r.matchChain(text); ok {
		return r.Token(chain.ID, symbol)
	}

	if t, ok := r.Token(r.defaultChainID, symbol); ok {
		return t, true
	}

	// Not on the default chain: accept only an unambiguous single host.
	var candidates []Token
	for _, t := range r.tokens {
		if t.Symbol == symbol {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	return Token{}, false
}

// matchSymbol finds the longest token symbol present in the text as a whole
// word.
func (r *Registry) matchSymbol(text string) string {
	best := ""
	for _, t := range r.tokens {
		if len(t.Symbol) <= len(best) {
			continue
		}
		if wordPresent(text, t.Symbol) {
			best = t.Symbol
		}
	}
	return best
}

// matchChain finds an explicit chain name or alias in the text.
func (r *Registry) matchChain(text string) (Chain, bool) {
	for _, c := range r.chains {
		if wordPresent(text, c.Name) {
			return c, true
		}
		for _, alias := range c.Aliases {
			if wordPresent(text, alias) {
				return c, true
			}
		}
	}
	return Chain{}, false
}

func wordPresent(text, word string) bool {
	re := regexp.MustCompile(`(^|[^a-z0-9])` + regexp.QuoteMeta(word) + `($|[^a-z0-9])`)
	return re.MatchString(text)
}
