package bot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sidrisov/payflow/internal/farcaster"
	"github.com/sidrisov/payflow/internal/registry"
)

type fakeModel struct {
	resp *MessagesResponse
	err  error
	last *MessagesRequest
}

func (f *fakeModel) CreateMessage(_ context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	f.last = req
	return f.resp, f.err
}

func toolUse(t *testing.T, name string, input interface{}) ContentBlock {
	t.Helper()
	raw, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("marshal tool input: %v", err)
	}
	return ContentBlock{Type: "tool_use", Name: name, Input: raw}
}

func testConversation() *Conversation {
	return &Conversation{
		Trigger: &farcaster.Cast{
			Hash:   "0xcast",
			Author: farcaster.Identity{FID: 200, Username: "bob"},
			Text:   "@payflow send alice five bucks",
			Mentions: []farcaster.Identity{
				{FID: 211734, Username: "payflow"},
				{FID: 100, Username: "alice"},
			},
		},
		Ancestors: []farcaster.Cast{
			{
				Hash:     "0xparent",
				Author:   farcaster.Identity{FID: 100, Username: "alice"},
				Text:     "check out my new cast",
				Mentions: []farcaster.Identity{{FID: 300, Username: "carol"}},
			},
		},
	}
}

func TestDispatchSendPayments(t *testing.T) {
	model := &fakeModel{resp: &MessagesResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "Sending $5 to alice."},
			toolUse(t, "send_payments", map[string]interface{}{
				"payments": []map[string]interface{}{
					{"recipient": "alice", "amount": 5, "usd": true, "token": "usdc"},
				},
			}),
		},
	}}
	d := NewDispatcher(model, registry.Default())

	actions, err := d.Dispatch(context.Background(), testConversation())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("Expected 1 action, got %d", len(actions))
	}
	pay, ok := actions[0].(PayAction)
	if !ok {
		t.Fatalf("Expected PayAction, got %T", actions[0])
	}
	if pay.Recipient.Username != "alice" || pay.Recipient.FID != 100 {
		t.Errorf("Recipient = %+v, want alice/100", pay.Recipient)
	}
	if !pay.Amount.Equal(decimal.NewFromInt(5)) || !pay.USD {
		t.Errorf("Amount = %s usd=%v, want 5 usd", pay.Amount, pay.USD)
	}
	if pay.Token != "usdc" || pay.ChainID != registry.Base {
		t.Errorf("Token = %s/%d, want usdc on default chain", pay.Token, pay.ChainID)
	}

	if len(model.last.Tools) != 7 {
		t.Errorf("Tool schema has %d tools, want 7", len(model.last.Tools))
	}
}

func TestDispatchNoReplyIsAuthoritative(t *testing.T) {
	// no_reply wins even when another tool call is present.
	model := &fakeModel{resp: &MessagesResponse{
		Content: []ContentBlock{
			toolUse(t, "send_payments", map[string]interface{}{
				"payments": []map[string]interface{}{
					{"recipient": "alice", "amount": 5},
				},
			}),
			toolUse(t, "no_reply", map[string]interface{}{}),
		},
	}}
	d := NewDispatcher(model, registry.Default())

	_, err := d.Dispatch(context.Background(), testConversation())
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("Expected ErrNoReply, got %v", err)
	}
}

func TestDispatchRejectsUnmentionedRecipient(t *testing.T) {
	model := &fakeModel{resp: &MessagesResponse{
		Content: []ContentBlock{
			toolUse(t, "send_payments", map[string]interface{}{
				"payments": []map[string]interface{}{
					{"recipient": "mallory", "amount": 5, "usd": true},
				},
			}),
		},
	}}
	d := NewDispatcher(model, registry.Default())

	_, err := d.Dispatch(context.Background(), testConversation())
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("Unmentioned recipient should leave no actions, got %v", err)
	}
}

func TestDispatchAncestorMentionQualifies(t *testing.T) {
	// carol is mentioned only in the ancestor cast.
	model := &fakeModel{resp: &MessagesResponse{
		Content: []ContentBlock{
			toolUse(t, "send_payments", map[string]interface{}{
				"payments": []map[string]interface{}{
					{"recipient": "carol", "amount": 2, "usd": true},
				},
			}),
		},
	}}
	d := NewDispatcher(model, registry.Default())

	actions, err := d.Dispatch(context.Background(), testConversation())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	pay := actions[0].(PayAction)
	if pay.Recipient.FID != 300 {
		t.Errorf("Recipient FID = %d, want 300", pay.Recipient.FID)
	}
}

func TestDispatchOtherTools(t *testing.T) {
	model := &fakeModel{resp: &MessagesResponse{
		Content: []ContentBlock{
			toolUse(t, "buy_storage", map[string]interface{}{"recipient": "alice", "units": 2}),
			toolUse(t, "get_wallet_token_balance", map[string]interface{}{"token": "degen"}),
			toolUse(t, "claim_degen_or_moxie", map[string]interface{}{"asset": "degen"}),
		},
	}}
	d := NewDispatcher(model, registry.Default())

	actions, err := d.Dispatch(context.Background(), testConversation())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("Expected 3 actions, got %d", len(actions))
	}
	if storage := actions[0].(StorageAction); storage.Units != 2 || storage.Recipient.FID != 100 {
		t.Errorf("StorageAction = %+v", storage)
	}
	if balance := actions[1].(BalanceQueryAction); balance.Token != "degen" || balance.ChainID != registry.Base {
		t.Errorf("BalanceQueryAction = %+v", balance)
	}
	if claim := actions[2].(ClaimAction); claim.Asset != "degen" {
		t.Errorf("ClaimAction = %+v", claim)
	}
}

func TestDispatchTextOnlyResponse(t *testing.T) {
	model := &fakeModel{resp: &MessagesResponse{
		Content: []ContentBlock{{Type: "text", Text: "I cannot help with that."}},
	}}
	d := NewDispatcher(model, registry.Default())

	_, err := d.Dispatch(context.Background(), testConversation())
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("Text-only response should map to ErrNoReply, got %v", err)
	}
}

func TestDispatchModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	d := NewDispatcher(model, registry.Default())

	_, err := d.Dispatch(context.Background(), testConversation())
	if err == nil || errors.Is(err, ErrNoReply) {
		t.Fatalf("Model failure must surface as an error, got %v", err)
	}
}
