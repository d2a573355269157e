package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/slack-go/slack"
)

// SendResult is what a Provider returns on a successful send.
type SendResult struct {
	ProviderMessageID string
	Endpoint          string
}

// Provider delivers one chunk of text to one conversation on one
// transport. Implementations wrap the provider's own client as a thin
// REST caller, grounded on the teacher's per-channel adapter Send
// methods (internal/channels/{discord,telegram,slack}/adapter.go) but
// narrowed to a single outbound text send with no adapter lifecycle.
type Provider interface {
	Send(ctx context.Context, conversationID, text string) (SendResult, error)
}

// TelegramProvider posts via bot.SendMessage, generalizing the teacher's
// telegram adapter's Send.
type TelegramProvider struct {
	Client *tgbot.Bot
}

func (p *TelegramProvider) Send(ctx context.Context, conversationID, text string) (SendResult, error) {
	msg, err := p.Client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: conversationID,
		Text:   text,
	})
	if err != nil {
		return SendResult{}, classifyProviderError("telegram", err, 0)
	}
	return SendResult{
		ProviderMessageID: fmt.Sprintf("%d", messageID(msg)),
		Endpoint:          "telegram:sendMessage",
	}, nil
}

func messageID(msg *tgmodels.Message) int {
	if msg == nil {
		return 0
	}
	return msg.ID
}

// DiscordProvider posts via ChannelMessageSend, generalizing the
// teacher's discord adapter's Send.
type DiscordProvider struct {
	Session *discordgo.Session
}

func (p *DiscordProvider) Send(ctx context.Context, conversationID, text string) (SendResult, error) {
	msg, err := p.Session.ChannelMessageSend(conversationID, text, discordgo.WithContext(ctx))
	if err != nil {
		return SendResult{}, classifyProviderError("discord", err, 0)
	}
	return SendResult{ProviderMessageID: msg.ID, Endpoint: "discord:channels.messages"}, nil
}

// SlackProvider posts via PostMessageContext, generalizing the teacher's
// slack adapter's Send.
type SlackProvider struct {
	Client *slack.Client
}

func (p *SlackProvider) Send(ctx context.Context, conversationID, text string) (SendResult, error) {
	_, timestamp, err := p.Client.PostMessageContext(ctx, conversationID, slack.MsgOptionText(text, false))
	if err != nil {
		return SendResult{}, classifyProviderError("slack", err, 0)
	}
	return SendResult{ProviderMessageID: timestamp, Endpoint: "slack:chat.postMessage"}, nil
}

// WhatsAppProvider posts to the WhatsApp Cloud API with plain net/http,
// since no Go SDK for it appears anywhere in the example pack.
type WhatsAppProvider struct {
	HTTPClient    *http.Client
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
}

type whatsAppSendRequest struct {
	MessagingProduct string              `json:"messaging_product"`
	To               string              `json:"to"`
	Type             string              `json:"type"`
	Text             whatsAppTextPayload `json:"text"`
}

type whatsAppTextPayload struct {
	Body string `json:"body"`
}

type whatsAppSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (p *WhatsAppProvider) Send(ctx context.Context, conversationID, text string) (SendResult, error) {
	endpoint := fmt.Sprintf("%s/%s/messages", p.BaseURL, p.PhoneNumberID)
	body, err := json.Marshal(whatsAppSendRequest{
		MessagingProduct: "whatsapp",
		To:               conversationID,
		Type:             "text",
		Text:             whatsAppTextPayload{Body: text},
	})
	if err != nil {
		return SendResult{}, &providerError{reasonCode: "internal_error", detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, &providerError{reasonCode: "internal_error", detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return SendResult{}, &providerError{reasonCode: "network_error", detail: err.Error(), retryable: true, endpoint: endpoint}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return SendResult{}, httpStatusError(endpoint, resp.StatusCode)
	}

	var parsed whatsAppSendResponse
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	id := ""
	if len(parsed.Messages) > 0 {
		id = parsed.Messages[0].ID
	}
	return SendResult{ProviderMessageID: id, Endpoint: endpoint}, nil
}

type providerError struct {
	reasonCode string
	detail     string
	retryable  bool
	endpoint   string
	httpStatus int
}

func (e *providerError) Error() string { return e.reasonCode + ": " + e.detail }
func (e *providerError) Retryable() bool { return e.retryable }

func httpStatusError(endpoint string, status int) *providerError {
	retryable := status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
	return &providerError{
		reasonCode: "provider_http_error",
		detail:     fmt.Sprintf("provider returned HTTP %d", status),
		retryable:  retryable,
		endpoint:   endpoint,
		httpStatus: status,
	}
}

func classifyProviderError(provider string, err error, httpStatus int) *providerError {
	return &providerError{
		reasonCode: provider + "_send_failed",
		detail:     err.Error(),
		retryable:  true,
		httpStatus: httpStatus,
	}
}
