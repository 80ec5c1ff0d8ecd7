package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pledgehub/pledgehub/internal/models"
)

type DiscordWebhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type DiscordEmbed struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Color       int                   `json:"color"`
	Fields      []DiscordWebhookField `json:"fields"`
	Footer      *DiscordFooter        `json:"footer,omitempty"`
	Timestamp   string                `json:"timestamp"`
}

type DiscordFooter struct {
	Text string `json:"text"`
}

type DiscordWebhookRequest struct {
	Username string         `json:"username"`
	Embeds   []DiscordEmbed `json:"embeds"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Text      string       `json:"text"`
	Fields    []SlackField `json:"fields"`
	Footer    string       `json:"footer"`
	Timestamp int64        `json:"ts"`
}

type SlackWebhookRequest struct {
	Username    string            `json:"username"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments"`
}

const (
	ColorGreen  = 65280    // #00FF00 - contribution succeeded
	ColorOrange = 16753920 // #FFA500 - contribution refunded
)

// OwnerAlerter posts contribution events to the Discord and Slack webhooks a
// project owner configured.
type OwnerAlerter struct {
	client   *http.Client
	username string
}

func NewOwnerAlerter(client *http.Client, username string) *OwnerAlerter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &OwnerAlerter{client: client, username: username}
}

type alertContent struct {
	headline string
	title    string
	color    int
	slackTag string
	emoji    string
	fields   []DiscordWebhookField
}

func (a *OwnerAlerter) ContributionAlert(ctx context.Context, project models.Project, contribution models.Contribution) error {
	if project.DiscordWebhook == "" && project.SlackWebhook == "" {
		return nil
	}

	content := buildAlert(project, contribution)

	if project.DiscordWebhook != "" {
		if err := a.sendDiscord(ctx, project, content); err != nil {
			return fmt.Errorf("discord: %w", err)
		}
	}

	if project.SlackWebhook != "" {
		if err := a.sendSlack(ctx, project, content); err != nil {
			return fmt.Errorf("slack: %w", err)
		}
	}

	return nil
}

func buildAlert(project models.Project, c models.Contribution) alertContent {
	amount := FormatAmount(c.AmountCents, c.Currency)
	raised := FormatAmount(project.RaisedCents, c.Currency)
	goal := FormatAmount(project.GoalCents, c.Currency)

	fields := []DiscordWebhookField{
		{Name: "Amount", Value: amount, Inline: true},
		{Name: "Raised", Value: raised + " of " + goal, Inline: true},
		{Name: "Funded", Value: FundedPercent(project.RaisedCents, project.GoalCents) + "%", Inline: true},
		{Name: "Supporters", Value: fmt.Sprintf("%d", project.SupporterCount), Inline: true},
	}

	if c.Status == models.ContributionRefunded {
		return alertContent{
			headline: "Contribution refunded",
			title:    fmt.Sprintf("A contribution of %s to **%s** was refunded.", amount, project.Title),
			color:    ColorOrange,
			slackTag: "warning",
			emoji:    ":leftwards_arrow_with_hook:",
			fields:   fields,
		}
	}

	return alertContent{
		headline: "New contribution",
		title:    fmt.Sprintf("**%s** received a contribution of %s.", project.Title, amount),
		color:    ColorGreen,
		slackTag: "good",
		emoji:    ":tada:",
		fields:   fields,
	}
}

func (a *OwnerAlerter) sendDiscord(ctx context.Context, project models.Project, content alertContent) error {
	payload := DiscordWebhookRequest{
		Username: a.username,
		Embeds: []DiscordEmbed{
			{
				Title:       content.headline,
				Description: content.title,
				Color:       content.color,
				Fields:      content.fields,
				Footer: &DiscordFooter{
					Text: fmt.Sprintf("Project: %s | %s", project.Title, a.username),
				},
				Timestamp: time.Now().Format(time.RFC3339),
			},
		},
	}

	return a.post(ctx, project.DiscordWebhook, payload)
}

func (a *OwnerAlerter) sendSlack(ctx context.Context, project models.Project, content alertContent) error {
	fields := make([]SlackField, 0, len(content.fields))
	for _, f := range content.fields {
		fields = append(fields, SlackField{Title: f.Name, Value: f.Value, Short: f.Inline})
	}

	payload := SlackWebhookRequest{
		Username:  a.username,
		IconEmoji: content.emoji,
		Text:      "*" + content.headline + "*",
		Attachments: []SlackAttachment{
			{
				Color:     content.slackTag,
				Title:     project.Title,
				Text:      content.title,
				Fields:    fields,
				Footer:    fmt.Sprintf("Project: %s", project.Title),
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return a.post(ctx, project.SlackWebhook, payload)
}

func (a *OwnerAlerter) post(ctx context.Context, webhookURL string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
