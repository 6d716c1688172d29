package farcaster

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sidrisov/payflow/pkg/config"
	"github.com/sidrisov/payflow/pkg/logging"
	"github.com/sidrisov/payflow/pkg/telemetry"
)

// Notifier posts outbound casts and direct messages on behalf of the bot.
type Notifier struct {
	client *Client
	signer string
	logger *zap.Logger
}

// NewNotifier creates a notifier on top of an existing client.
func NewNotifier(client *Client, cfg *config.FarcasterConfig) *Notifier {
	return &Notifier{
		client: client,
		signer: cfg.SignerUUID,
		logger: logging.WithComponent("notifier"),
	}
}

// Reply posts a cast in reply to existing content and returns the new cast
// hash, or empty when the service swallowed the post.
func (n *Notifier) Reply(ctx context.Context, text, inReplyTo string, embeds []string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "farcaster.reply")
	defer span.End()

	embedObjs := make([]map[string]string, 0, len(embeds))
	for _, url := range embeds {
		embedObjs = append(embedObjs, map[string]string{"url": url})
	}

	req := map[string]interface{}{
		"signer_uuid": n.signer,
		"text":        text,
		"parent":      inReplyTo,
		"embeds":      embedObjs,
	}

	var resp struct {
		Cast struct {
			Hash string `json:"hash"`
		} `json:"cast"`
	}
	if err := n.client.post(ctx, "/v2/farcaster/cast", req, &resp); err != nil {
		return "", fmt.Errorf("failed to post reply: %w", err)
	}

	n.logger.Debug("Posted reply",
		zap.String("parent", inReplyTo),
		zap.String("hash", resp.Cast.Hash))

	return resp.Cast.Hash, nil
}

// DirectMessage sends a direct message to a user.
func (n *Notifier) DirectMessage(ctx context.Context, fid int64, text string) error {
	ctx, span := telemetry.StartSpan(ctx, "farcaster.direct_message")
	defer span.End()

	req := map[string]interface{}{
		"signer_uuid":   n.signer,
		"recipient_fid": fid,
		"message":       text,
	}
	if err := n.client.post(ctx, "/v2/farcaster/direct-cast", req, nil); err != nil {
		return fmt.Errorf("failed to send direct message: %w", err)
	}
	return nil
}
