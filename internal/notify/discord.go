package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorGreen = 0x2ecc71
	colorRed   = 0xe74c3c
)

// DiscordNotifier executes a Discord webhook.
type DiscordNotifier struct {
	session *discordgo.Session
	id      string
	token   string
	logger  *zap.Logger
}

// NewDiscordNotifier creates a notifier from a webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>.
func NewDiscordNotifier(webhookURL string, logger *zap.Logger) (*DiscordNotifier, error) {
	id, token, err := parseWebhook(webhookURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution is authorized by the token in the URL.
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{session: session, id: id, token: token, logger: logger}, nil
}

func parseWebhook(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("discord: %w: %q", ErrBadWebhook, raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord: %w: %q", ErrBadWebhook, raw)
}

func (n *DiscordNotifier) Platform() string { return "discord" }

// Notify posts msg as one embed.
func (n *DiscordNotifier) Notify(ctx context.Context, msg *Message) error {
	color := colorGreen
	if !msg.Success {
		color = colorRed
	}
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: "```\n" + msg.Content + "\n```",
		Color:       color,
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: true})
	}
	params := &discordgo.WebhookParams{
		Username: "nora",
		Embeds:   []*discordgo.MessageEmbed{embed},
	}
	if _, err := n.session.WebhookExecute(n.id, n.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	n.logger.Debug("discord notification sent", zap.String("title", msg.Title))
	return nil
}
