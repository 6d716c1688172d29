package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sidrisov/payflow/internal/farcaster"
	"github.com/sidrisov/payflow/internal/registry"
	"github.com/sidrisov/payflow/pkg/config"
	"github.com/sidrisov/payflow/pkg/logging"
	"github.com/sidrisov/payflow/pkg/telemetry"
)

// ErrNoReply marks the model's authoritative decision to not act on a
// trigger. It terminates processing with no further action.
var ErrNoReply = errors.New("model chose not to reply")

const (
	anthropicBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	anthropicMaxRetries = 3
	anthropicInitDelay  = time.Second
)

// MessagesRequest is an Anthropic Messages API request with a tool schema.
type MessagesRequest struct {
	Model      string           `json:"model"`
	MaxTokens  int              `json:"max_tokens"`
	System     string           `json:"system,omitempty"`
	Messages   []AgentMessage   `json:"messages"`
	Tools      []AgentTool      `json:"tools,omitempty"`
	ToolChoice *AgentToolChoice `json:"tool_choice,omitempty"`
}

// AgentMessage is one conversation turn.
type AgentMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AgentTool describes one callable tool in the fixed schema.
type AgentTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// AgentToolChoice constrains how the model selects tools.
type AgentToolChoice struct {
	Type string `json:"type"`
}

// ContentBlock is one response content block; tool_use blocks carry the
// tool name and its JSON input.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// MessagesResponse is the Anthropic Messages API response.
type MessagesResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// AnthropicClient calls the Anthropic Messages API with bounded retries.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	client     *http.Client
	maxRetries int
}

// NewAnthropicClient creates a Messages API client.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    anthropicBaseURL,
		model:      model,
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: anthropicMaxRetries,
	}
}

// CreateMessage sends the request, retrying rate limits and server errors
// with exponential backoff.
func (c *AnthropicClient) CreateMessage(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("anthropic api key not configured")
	}
	if req.Model == "" {
		req.Model = c.model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * anthropicInitDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("anthropic api error (%d): %s", resp.StatusCode, string(respBody))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return nil, lastErr
		}

		var apiResp MessagesResponse
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &apiResp, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// ModelCaller is the LLM dependency of the dispatcher.
type ModelCaller interface {
	CreateMessage(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error)
}

// Conversation is the structured snapshot sent to the model: the trigger
// cast plus a bounded set of its ancestors.
type Conversation struct {
	Trigger   *farcaster.Cast
	Ancestors []farcaster.Cast
}

// mentioned collects every identity mentioned in the trigger or any
// ancestor, keyed by lowercase username.
func (c *Conversation) mentioned() map[string]farcaster.Identity {
	out := make(map[string]farcaster.Identity)
	add := func(ids []farcaster.Identity) {
		for _, id := range ids {
			out[strings.ToLower(id.Username)] = id
		}
	}
	add(c.Trigger.Mentions)
	for i := range c.Ancestors {
		add(c.Ancestors[i].Mentions)
	}
	return out
}

// Dispatcher maps free-form triggers to BotActions through a language
// model constrained to a fixed tool schema.
type Dispatcher struct {
	model  ModelCaller
	reg    *registry.Registry
	logger *zap.Logger
}

// NewDispatcher creates an agent dispatcher.
func NewDispatcher(model ModelCaller, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		model:  model,
		reg:    reg,
		logger: logging.WithComponent("agent-dispatcher"),
	}
}

const agentSystemPrompt = `You are the assistant behind a social payments bot.
Users mention the bot in feed replies to move small onchain payments.
Read the conversation snapshot and call the tools that carry out the
user's request. Call no_reply when the trigger is not a request directed
at the bot, when it is sarcasm or spam, or when you are not sure. Only
name payment recipients that are explicitly mentioned in the
conversation. Amounts are either USD (usd=true) or token-denominated.`

// Dispatch sends the conversation to the model and maps its tool calls to
// actions. A no_reply call is authoritative and wins over every other
// block in the same response.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *Conversation) ([]BotAction, error) {
	ctx, span := telemetry.StartSpan(ctx, "agent.dispatch")
	defer span.End()

	resp, err := d.model.CreateMessage(ctx, &MessagesRequest{
		MaxTokens: 1024,
		System:    agentSystemPrompt,
		Messages: []AgentMessage{
			{Role: "user", Content: renderConversation(conv)},
		},
		Tools: toolSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == "no_reply" {
			return nil, ErrNoReply
		}
	}

	mentioned := conv.mentioned()

	var actions []BotAction
	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		mapped, err := d.mapToolCall(block, mentioned)
		if err != nil {
			d.logger.Warn("Rejected tool call",
				zap.String("tool", block.Name), zap.Error(err))
			continue
		}
		actions = append(actions, mapped...)
	}

	if len(actions) == 0 {
		return nil, ErrNoReply
	}
	return actions, nil
}

type toolPayment struct {
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	USD       bool    `json:"usd"`
	Token     string  `json:"token"`
	Chain     string  `json:"chain"`
}

func (d *Dispatcher) mapToolCall(block ContentBlock, mentioned map[string]farcaster.Identity) ([]BotAction, error) {
	switch block.Name {
	case "send_payments":
		var input struct {
			Payments []toolPayment `json:"payments"`
		}
		if err := json.Unmarshal(block.Input, &input); err != nil {
			return nil, fmt.Errorf("bad send_payments input: %w", err)
		}
		var actions []BotAction
		for _, p := range input.Payments {
			id, ok := mentioned[strings.ToLower(p.Recipient)]
			if !ok {
				// The model's own claim about a recipient is never
				// trusted; only mentioned identities qualify.
				d.logger.Warn("Dropped unmentioned recipient",
					zap.String("recipient", p.Recipient))
				continue
			}
			token, err := d.resolveToolToken(p.Token, p.Chain)
			if err != nil {
				return nil, err
			}
			amount := decimal.NewFromFloat(p.Amount)
			if amount.LessThanOrEqual(decimal.Zero) {
				return nil, fmt.Errorf("non-positive amount for %s", p.Recipient)
			}
			actions = append(actions, PayAction{
				Recipient: PayRecipient{Username: id.Username, FID: id.FID},
				Amount:    amount,
				USD:       p.USD,
				Token:     token.Symbol,
				ChainID:   token.ChainID,
			})
		}
		if len(actions) == 0 {
			return nil, fmt.Errorf("no valid recipients in send_payments")
		}
		return actions, nil

	case "buy_storage":
		var input struct {
			Recipient string `json:"recipient"`
			Units     int64  `json:"units"`
		}
		if err := json.Unmarshal(block.Input, &input); err != nil {
			return nil, fmt.Errorf("bad buy_storage input: %w", err)
		}
		if input.Units <= 0 {
			input.Units = 1
		}
		recipient := PayRecipient{Username: input.Recipient}
		if id, ok := mentioned[strings.ToLower(input.Recipient)]; ok {
			recipient = PayRecipient{Username: id.Username, FID: id.FID}
		}
		return []BotAction{StorageAction{Recipient: recipient, Units: input.Units}}, nil

	case "get_wallet_token_balance":
		var input struct {
			Token string `json:"token"`
			Chain string `json:"chain"`
		}
		if err := json.Unmarshal(block.Input, &input); err != nil {
			return nil, fmt.Errorf("bad get_wallet_token_balance input: %w", err)
		}
		token, err := d.resolveToolToken(input.Token, input.Chain)
		if err != nil {
			return nil, err
		}
		return []BotAction{BalanceQueryAction{Token: token.Symbol, ChainID: token.ChainID}}, nil

	case "top_up_wallet":
		var input toolPayment
		if err := json.Unmarshal(block.Input, &input); err != nil {
			return nil, fmt.Errorf("bad top_up_wallet input: %w", err)
		}
		token, err := d.resolveToolToken(input.Token, input.Chain)
		if err != nil {
			return nil, err
		}
		return []BotAction{TopUpAction{
			Amount:  decimal.NewFromFloat(input.Amount),
			USD:     input.USD,
			Token:   token.Symbol,
			ChainID: token.ChainID,
		}}, nil

	case "pay_me":
		var input toolPayment
		if err := json.Unmarshal(block.Input, &input); err != nil {
			return nil, fmt.Errorf("bad pay_me input: %w", err)
		}
		id, ok := mentioned[strings.ToLower(input.Recipient)]
		if !ok {
			return nil, fmt.Errorf("pay_me payer %q not mentioned", input.Recipient)
		}
		token, err := d.resolveToolToken(input.Token, input.Chain)
		if err != nil {
			return nil, err
		}
		return []BotAction{PayMeAction{
			Payer:   PayRecipient{Username: id.Username, FID: id.FID},
			Amount:  decimal.NewFromFloat(input.Amount),
			USD:     input.USD,
			Token:   token.Symbol,
			ChainID: token.ChainID,
		}}, nil

	case "claim_degen_or_moxie":
		var input struct {
			Asset string `json:"asset"`
		}
		if err := json.Unmarshal(block.Input, &input); err != nil {
			return nil, fmt.Errorf("bad claim input: %w", err)
		}
		return []BotAction{ClaimAction{Asset: strings.ToLower(input.Asset)}}, nil
	}

	return nil, fmt.Errorf("unknown tool %q", block.Name)
}

// resolveToolToken maps model-provided token/chain names through the
// registry; empty inputs fall back to usdc on the default chain.
func (d *Dispatcher) resolveToolToken(symbol, chainName string) (registry.Token, error) {
	if symbol == "" {
		symbol = "usdc"
	}
	symbol = strings.ToLower(symbol)

	chainID := d.reg.DefaultChainID()
	if chainName != "" {
		chain, ok := d.reg.ChainByName(chainName)
		if !ok {
			return registry.Token{}, fmt.Errorf("unsupported chain %q", chainName)
		}
		chainID = chain.ID
	}

	token, ok := d.reg.Token(chainID, symbol)
	if !ok {
		return registry.Token{}, fmt.Errorf("token %q not supported on chain %d", symbol, chainID)
	}
	return token, nil
}

// renderConversation flattens the snapshot into the prompt: ancestors
// oldest first, then the trigger, each with author and mentions.
func renderConversation(conv *Conversation) string {
	var b strings.Builder
	b.WriteString("Conversation snapshot:\n\n")

	writeCast := func(label string, c *farcaster.Cast) {
		fmt.Fprintf(&b, "[%s] @%s (fid %d): %s\n", label, c.Author.Username, c.Author.FID, c.Text)
		if len(c.Mentions) > 0 {
			names := make([]string, 0, len(c.Mentions))
			for _, m := range c.Mentions {
				names = append(names, "@"+m.Username)
			}
			fmt.Fprintf(&b, "  mentions: %s\n", strings.Join(names, ", "))
		}
	}

	for i := len(conv.Ancestors) - 1; i >= 0; i-- {
		writeCast("ancestor", &conv.Ancestors[i])
	}
	writeCast("trigger", conv.Trigger)
	return b.String()
}

func toolSchema() []AgentTool {
	paymentSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"recipient": map[string]interface{}{"type": "string", "description": "Username of a mentioned identity"},
			"amount":    map[string]interface{}{"type": "number"},
			"usd":       map[string]interface{}{"type": "boolean", "description": "True when the amount is USD-denominated"},
			"token":     map[string]interface{}{"type": "string"},
			"chain":     map[string]interface{}{"type": "string"},
		},
		"required": []string{"recipient", "amount"},
	}

	return []AgentTool{
		{
			Name:        "no_reply",
			Description: "Decline to act: the trigger is not a request for the bot, or intent is unclear.",
			InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		},
		{
			Name:        "send_payments",
			Description: "Send one or more payments to mentioned users.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"payments": map[string]interface{}{"type": "array", "items": paymentSchema},
				},
				"required": []string{"payments"},
			},
		},
		{
			Name:        "buy_storage",
			Description: "Buy storage units for a user.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"recipient": map[string]interface{}{"type": "string"},
					"units":     map[string]interface{}{"type": "integer"},
				},
			},
		},
		{
			Name:        "get_wallet_token_balance",
			Description: "Report the caller's session wallet balance for a token.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"token": map[string]interface{}{"type": "string"},
					"chain": map[string]interface{}{"type": "string"},
				},
			},
		},
		{
			Name:        "top_up_wallet",
			Description: "Move funds from the caller's verified address into their session wallet.",
			InputSchema: paymentSchema,
		},
		{
			Name:        "pay_me",
			Description: "Request a payment from a mentioned user to the caller.",
			InputSchema: paymentSchema,
		},
		{
			Name:        "claim_degen_or_moxie",
			Description: "Point the caller at the degen or moxie airdrop claim flow.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"asset": map[string]interface{}{"type": "string", "enum": []string{"degen", "moxie"}},
				},
			},
		},
	}
}

// NewDispatcherFromConfig wires the production client from configuration.
func NewDispatcherFromConfig(cfg *config.AgentConfig, reg *registry.Registry) *Dispatcher {
	return NewDispatcher(NewAnthropicClient(cfg.APIKey, cfg.Model), reg)
}
