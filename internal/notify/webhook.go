// Package notify fans state transitions out to external sinks: a
// Discord-or-generic webhook, and an optional InfluxDB history sink.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/craftywatch/hibernate/pkg/logger"
)

// Discord embed colors for each lifecycle event kind.
const (
	colorGreen  = 0x2ECC71
	colorYellow = 0xF1C40F
	colorRed    = 0xE74C3C
)

// Event is one lifecycle notification to deliver.
type Event struct {
	Kind      string // "started", "stopped", "crashed", "quarantined", "degraded"
	Server    string
	Message   string
	Timestamp time.Time
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type genericPayload struct {
	Event     string `json:"event"`
	Server    string `json:"server"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Webhook delivers lifecycle events to a single configured URL, in Discord
// embed format when the URL is a Discord webhook endpoint, or as a generic
// JSON POST otherwise.
type Webhook struct {
	url        string
	label      string
	isDiscord  bool
	httpClient *http.Client
}

// NewWebhook builds a Webhook notifier. An empty url disables delivery;
// Send becomes a no-op.
func NewWebhook(url, label string) *Webhook {
	return &Webhook{
		url:       url,
		label:     label,
		isDiscord: strings.Contains(url, "discord.com/api/webhooks") || strings.Contains(url, "discordapp.com/api/webhooks"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send delivers ev asynchronously. Delivery is fire-and-forget: a slow or
// unreachable webhook endpoint must never block the reconciliation loop.
func (w *Webhook) Send(ev Event) {
	if w == nil || w.url == "" {
		return
	}
	go w.send(ev)
}

func (w *Webhook) send(ev Event) {
	var body []byte
	var err error
	if w.isDiscord {
		body, err = json.Marshal(w.buildDiscordPayload(ev))
	} else {
		body, err = json.Marshal(genericPayload{
			Event:     ev.Kind,
			Server:    ev.Server,
			Message:   ev.Message,
			Timestamp: ev.Timestamp.Unix(),
		})
	}
	if err != nil {
		logger.Error("notify: failed to marshal webhook payload", err, map[string]interface{}{"server": ev.Server})
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewBuffer(body))
	if err != nil {
		logger.Error("notify: failed to build webhook request", err, map[string]interface{}{"server": ev.Server})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		logger.Error("notify: webhook delivery failed", err, map[string]interface{}{"server": ev.Server, "event": ev.Kind})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("notify: webhook returned non-2xx", map[string]interface{}{
			"server": ev.Server,
			"event":  ev.Kind,
			"status": resp.StatusCode,
		})
		return
	}

	logger.Info("notify: webhook delivered", map[string]interface{}{"server": ev.Server, "event": ev.Kind})
}

func (w *Webhook) buildDiscordPayload(ev Event) discordPayload {
	title, color := discordTitleAndColor(ev.Kind)
	desc := fmt.Sprintf("**%s**: %s", ev.Server, title)
	if ev.Message != "" {
		desc += "\n" + ev.Message
	}

	embed := discordEmbed{
		Title:       title,
		Description: desc,
		Color:       color,
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339),
	}
	if w.label != "" {
		embed.Footer = &discordEmbedFooter{Text: w.label}
	}
	return discordPayload{Embeds: []discordEmbed{embed}}
}

func discordTitleAndColor(kind string) (string, int) {
	switch kind {
	case "started":
		return "Server Starting", colorGreen
	case "stopped":
		return "Server Stopped", colorYellow
	case "crashed":
		return "Server Crashed", colorRed
	case "quarantined":
		return "Server Quarantined", colorYellow
	case "degraded":
		return "Server Degraded", colorRed
	default:
		return "Server Event", colorYellow
	}
}
