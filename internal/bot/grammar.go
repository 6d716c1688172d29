package bot

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sidrisov/payflow/internal/farcaster"
	"github.com/sidrisov/payflow/internal/registry"
)

// ErrNoMatch marks trigger text that resolves to no actionable command.
// A NoMatch is a deliberate rejection, never a guess.
var ErrNoMatch = errors.New("trigger text matches no command")

// ErrAgentRequested marks an explicit "agent" command. The caller routes
// the trigger to the agent dispatcher instead of the grammar.
var ErrAgentRequested = errors.New("agent dispatch requested")

var (
	mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_.\-]+)`)
	amountPattern  = regexp.MustCompile(`(?i)(?:^|\s)(\$)?(\d+(?:\.\d+)?)(k|m)?\b`)
	wordAmounts    = map[string]int64{"few": 3, "couple": 2, "some": 5}
)

// Parser extracts a BotAction from trigger text with a fixed command
// vocabulary.
type Parser struct {
	botUsername string
	reg         *registry.Registry
	trigger     *regexp.Regexp
}

// NewParser creates a parser triggered by mentions of the given bot
// username.
func NewParser(botUsername string, reg *registry.Registry) *Parser {
	trigger := regexp.MustCompile(
		`(?i)@` + regexp.QuoteMeta(botUsername) +
			`\s+(pay|send|transfer|batch|jar|mint|collect|agent)\b`)
	return &Parser{
		botUsername: strings.ToLower(botUsername),
		reg:         reg,
		trigger:     trigger,
	}
}

// Parse resolves the cast's trigger text into a BotAction. Returns
// ErrNoMatch when the command, recipient, or token cannot be resolved, and
// ErrAgentRequested for the explicit "agent" command.
func (p *Parser) Parse(cast *farcaster.Cast) (BotAction, error) {
	loc := p.trigger.FindStringSubmatchIndex(cast.Text)
	if loc == nil {
		return nil, ErrNoMatch
	}
	command := strings.ToLower(cast.Text[loc[2]:loc[3]])
	rest := strings.TrimSpace(cast.Text[loc[1]:])

	switch command {
	case "agent":
		return nil, ErrAgentRequested

	case "mint":
		if len(cast.Embeds) == 0 {
			return nil, fmt.Errorf("%w: mint without an embed", ErrNoMatch)
		}
		return MintAction{EmbedURL: cast.Embeds[0]}, nil

	case "pay", "send", "transfer":
		recipient, err := p.resolveRecipient(cast, rest)
		if err != nil {
			return nil, err
		}
		amount, usd, err := parseAmount(rest)
		if err != nil {
			return nil, err
		}
		token, err := p.resolveToken(rest, usd)
		if err != nil {
			return nil, err
		}
		return PayAction{
			Recipient: recipient,
			Amount:    amount,
			USD:       usd,
			Token:     token.Symbol,
			ChainID:   token.ChainID,
		}, nil

	case "batch":
		recipients := p.mentionedRecipients(cast, rest)
		if len(recipients) == 0 {
			return nil, fmt.Errorf("%w: batch without recipients", ErrNoMatch)
		}
		amount, usd, err := parseAmount(rest)
		if err != nil {
			return nil, err
		}
		token, err := p.resolveToken(rest, usd)
		if err != nil {
			return nil, err
		}
		return BatchAction{
			Recipients: recipients,
			Amount:     amount,
			USD:        usd,
			Token:      token.Symbol,
			ChainID:    token.ChainID,
		}, nil

	case "jar":
		amount, usd, err := parseAmount(rest)
		if err != nil {
			return nil, err
		}
		token, err := p.resolveToken(rest, usd)
		if err != nil {
			return nil, err
		}
		return JarAction{
			Title:   rest,
			Amount:  amount,
			USD:     usd,
			Token:   token.Symbol,
			ChainID: token.ChainID,
		}, nil

	case "collect":
		recipient, err := p.resolveRecipient(cast, rest)
		if err != nil {
			return nil, err
		}
		amount, usd, err := parseAmount(rest)
		if err != nil {
			return nil, err
		}
		token, err := p.resolveToken(rest, usd)
		if err != nil {
			return nil, err
		}
		return CollectAction{
			Recipient: recipient,
			Amount:    amount,
			USD:       usd,
			Token:     token.Symbol,
			ChainID:   token.ChainID,
		}, nil
	}

	return nil, ErrNoMatch
}

// resolveRecipient applies the fallback chain: explicit mention in the
// trigger text, then the parent cast's author, then the first mentioned
// identity that is not the bot itself.
func (p *Parser) resolveRecipient(cast *farcaster.Cast, rest string) (PayRecipient, error) {
	for _, m := range mentionPattern.FindAllStringSubmatch(rest, -1) {
		username := m[1]
		if strings.EqualFold(username, p.botUsername) {
			continue
		}
		return PayRecipient{Username: username, FID: p.fidForUsername(cast, username)}, nil
	}

	if cast.ParentAuthor != nil && !strings.EqualFold(cast.ParentAuthor.Username, p.botUsername) {
		return PayRecipient{Username: cast.ParentAuthor.Username, FID: cast.ParentAuthor.FID}, nil
	}

	for _, m := range cast.Mentions {
		if strings.EqualFold(m.Username, p.botUsername) {
			continue
		}
		return PayRecipient{Username: m.Username, FID: m.FID}, nil
	}

	return PayRecipient{}, fmt.Errorf("%w: no recipient", ErrNoMatch)
}

// mentionedRecipients collects every mentioned identity in the trigger
// text, excluding the bot.
func (p *Parser) mentionedRecipients(cast *farcaster.Cast, rest string) []PayRecipient {
	var out []PayRecipient
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(rest, -1) {
		username := strings.ToLower(m[1])
		if username == p.botUsername || seen[username] {
			continue
		}
		seen[username] = true
		out = append(out, PayRecipient{Username: m[1], FID: p.fidForUsername(cast, m[1])})
	}
	return out
}

func (p *Parser) fidForUsername(cast *farcaster.Cast, username string) int64 {
	for _, m := range cast.Mentions {
		if strings.EqualFold(m.Username, username) {
			return m.FID
		}
	}
	return 0
}

// resolveToken resolves the token and chain out of the trailing text. A
// dollar amount with no token named falls back to usdc on the default
// chain; a bare amount with no token is a NoMatch.
func (p *Parser) resolveToken(rest string, usd bool) (registry.Token, error) {
	if token, ok := p.reg.ResolveTokenText(rest); ok {
		return token, nil
	}
	if usd {
		if token, ok := p.reg.Token(p.reg.DefaultChainID(), "usdc"); ok {
			return token, nil
		}
	}
	return registry.Token{}, fmt.Errorf("%w: no token", ErrNoMatch)
}

// parseAmount extracts the first amount token: "$10", "100", "2.5k", or
// one of the fixed words few, couple, some. The boolean reports whether
// the amount is denominated in USD.
func parseAmount(rest string) (decimal.Decimal, bool, error) {
	if m := amountPattern.FindStringSubmatch(rest); m != nil {
		amount, err := decimal.NewFromString(m[2])
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("%w: bad amount %q", ErrNoMatch, m[2])
		}
		switch strings.ToLower(m[3]) {
		case "k":
			amount = amount.Mul(decimal.NewFromInt(1000))
		case "m":
			amount = amount.Mul(decimal.NewFromInt(1000000))
		}
		if amount.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, false, fmt.Errorf("%w: non-positive amount", ErrNoMatch)
		}
		return amount, m[1] == "$", nil
	}

	for _, word := range strings.Fields(strings.ToLower(rest)) {
		if n, ok := wordAmounts[strings.Trim(word, ".,!?")]; ok {
			return decimal.NewFromInt(n), false, nil
		}
	}

	return decimal.Zero, false, fmt.Errorf("%w: no amount", ErrNoMatch)
}
