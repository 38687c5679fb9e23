package slackcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oakpass/deskhand/internal/configutil"
	"github.com/oakpass/deskhand/internal/confirm"
	"github.com/oakpass/deskhand/internal/crm"
	"github.com/oakpass/deskhand/internal/draft"
	"github.com/oakpass/deskhand/internal/intent"
	"github.com/oakpass/deskhand/internal/kvcache"
	"github.com/oakpass/deskhand/internal/orchestrator"
	"github.com/oakpass/deskhand/internal/quickaction"
	"github.com/oakpass/deskhand/internal/roster"
	"github.com/oakpass/deskhand/internal/statuscache"
	"github.com/oakpass/deskhand/internal/threadctx"
	openaiprovider "github.com/oakpass/deskhand/providers/openai"
)

type slackSocketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type slackEventsAPIPayload struct {
	TeamID  string          `json:"team_id,omitempty"`
	EventID string          `json:"event_id,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type slackEvent struct {
	Type        string `json:"type,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
	User        string `json:"user,omitempty"`
	Text        string `json:"text,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	Team        string `json:"team,omitempty"`
}

type slackInboundEvent struct {
	TeamID       string
	ChannelID    string
	ChatType     string
	MessageTS    string
	ThreadTS     string
	UserID       string
	Text         string
	EventID      string
	IsAppMention bool
}

// New returns the `deskhand slack` command: a Socket Mode runtime that
// feeds inbound events through the orchestrator and posts the replies.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slack",
		Short: "Run the support assistant against Slack Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or DESKHAND_SLACK_BOT_TOKEN)")
			}
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			if appToken == "" {
				return fmt.Errorf("missing slack.app_token (set via --slack-app-token or DESKHAND_SLACK_APP_TOKEN)")
			}
			logger := slog.Default()

			deps, err := buildOrchestrator(logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			httpClient := &http.Client{Timeout: 30 * time.Second}
			api := newSlackAPI(httpClient, "https://slack.com/api", botToken, appToken)
			teamID, botUserID, err := api.authTest(cmd.Context())
			if err != nil {
				return fmt.Errorf("slack auth.test: %w", err)
			}
			if botUserID == "" {
				return fmt.Errorf("slack auth.test returned empty user_id")
			}

			allowedTeams := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-team-id", "slack.allowed_team_ids"))
			if len(allowedTeams) == 0 && teamID != "" {
				allowedTeams[teamID] = true
			}
			allowedChannels := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-channel-id", "slack.allowed_channel_ids"))

			taskTimeout := configutil.FlagOrViperDuration(cmd, "slack-task-timeout", "slack.task_timeout")
			if taskTimeout <= 0 {
				taskTimeout = 2 * time.Minute
			}
			maxConc := configutil.FlagOrViperInt(cmd, "slack-max-concurrency", "slack.max_concurrency")
			if maxConc <= 0 {
				maxConc = 3
			}
			sem := make(chan struct{}, maxConc)

			processingReaction := strings.TrimSpace(viper.GetString("slack.processing_reaction"))
			if processingReaction == "" {
				processingReaction = "eyes"
			}
			if configutil.FlagOrViperBool(cmd, "slack-disable-reaction", "slack.disable_reaction") {
				processingReaction = ""
			}

			logger.Info("slack_start",
				"bot_user_id", botUserID,
				"allowed_team_ids", len(allowedTeams),
				"allowed_channel_ids", len(allowedChannels),
				"task_timeout", taskTimeout.String(),
				"max_concurrency", maxConc,
			)

			handleEvent := func(event slackInboundEvent) {
				sem <- struct{}{}
				defer func() { <-sem }()

				ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
				defer cancel()

				var reply string
				err := withProcessingReaction(ctx, api, event.ChannelID, event.MessageTS, processingReaction, func() error {
					reply = deps.Orchestrator.HandleEvent(ctx, orchestrator.Event{
						Type:     "message",
						User:     event.UserID,
						Channel:  event.ChannelID,
						Text:     event.Text,
						TS:       event.MessageTS,
						ThreadTS: event.ThreadTS,
					})
					return nil
				})
				if err != nil {
					logger.Warn("slack_handle_error", "event_id", event.EventID, "error", err.Error())
					return
				}
				if strings.TrimSpace(reply) == "" {
					return
				}
				threadTS := event.ThreadTS
				if threadTS == "" {
					threadTS = event.MessageTS
				}
				if err := api.postMessage(ctx, event.ChannelID, reply, threadTS); err != nil {
					logger.Warn("slack_post_error", "event_id", event.EventID, "channel_id", event.ChannelID, "error", err.Error())
				}
			}

			for {
				if cmd.Context().Err() != nil {
					logger.Info("slack_stop", "reason", "context_canceled")
					return nil
				}
				conn, err := api.connectSocket(cmd.Context())
				if err != nil {
					if cmd.Context().Err() != nil {
						logger.Info("slack_stop", "reason", "context_canceled")
						return nil
					}
					logger.Warn("slack_socket_connect_error", "error", err.Error())
					if err := sleepWithContext(cmd.Context(), 2*time.Second); err != nil {
						return nil
					}
					continue
				}
				logger.Info("slack_socket_connected")
				readErr := consumeSlackSocket(cmd.Context(), conn, func(envelope slackSocketEnvelope) error {
					event, ok, err := parseSlackInboundEvent(envelope, botUserID)
					if err != nil {
						return err
					}
					if !ok {
						return nil
					}
					if len(allowedTeams) > 0 && !allowedTeams[event.TeamID] {
						return nil
					}
					if len(allowedChannels) > 0 && !allowedChannels[event.ChannelID] {
						return nil
					}
					if !isAddressed(event, botUserID, deps.Orchestrator) {
						return nil
					}
					go handleEvent(event)
					return nil
				})
				_ = conn.Close()
				if readErr != nil && !errors.Is(readErr, context.Canceled) && !errors.Is(readErr, context.DeadlineExceeded) {
					logger.Warn("slack_socket_read_error", "error", readErr.Error())
				}
			}
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token for Socket Mode (xapp-...).")
	cmd.Flags().StringArray("slack-allowed-team-id", nil, "Allowed Slack team id(s). If empty, defaults to the bot's home team.")
	cmd.Flags().StringArray("slack-allowed-channel-id", nil, "Allowed Slack channel id(s). If empty, allows all channels in allowed teams.")
	cmd.Flags().Bool("slack-disable-reaction", false, "Skip the processing reaction on handled messages.")
	cmd.Flags().Duration("slack-task-timeout", 0, "Per-event handler timeout.")
	cmd.Flags().Int("slack-max-concurrency", 3, "Max number of events processed concurrently.")

	return cmd
}

type dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	cache        *kvcache.SQLite
}

func (d *dependencies) Close() {
	if d != nil && d.cache != nil {
		_ = d.cache.Close()
	}
}

func buildOrchestrator(logger *slog.Logger) (*dependencies, error) {
	crmClient, err := crm.NewClient(crm.ClientOptions{
		BaseURL:  viper.GetString("crm.base_url"),
		APIToken: viper.GetString("crm.api_token"),
	})
	if err != nil {
		return nil, fmt.Errorf("crm client: %w", err)
	}

	llmClient, err := openaiprovider.New(openaiprovider.Options{
		APIKey:   viper.GetString("llm.api_key"),
		Endpoint: viper.GetString("llm.endpoint"),
		Timeout:  viper.GetDuration("llm.request_timeout"),
	})
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	model := strings.TrimSpace(viper.GetString("llm.model"))
	if model == "" {
		return nil, fmt.Errorf("missing llm.model")
	}

	cachePath, err := kvcache.ResolvePath(viper.GetString("cache.path"))
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	cache, err := kvcache.OpenSQLite(kvcache.SQLiteOptions{Path: cachePath})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	var resolveAssignee func(string) (string, bool)
	if rosterPath := strings.TrimSpace(viper.GetString("roster.path")); rosterPath != "" {
		r, err := roster.Load(rosterPath)
		if err != nil {
			_ = cache.Close()
			return nil, fmt.Errorf("load roster: %w", err)
		}
		resolveAssignee = r.Resolve
	}

	contexts, err := threadctx.NewStore(threadctx.Options{
		Cache:  cache,
		TTL:    viper.GetDuration("context.ttl"),
		Logger: logger,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	drafts, err := draft.NewEngine(draft.Options{
		Client: llmClient,
		Model:  model,
		Store:  draft.NewStore(),
		Logger: logger,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	status, err := statuscache.New(statuscache.Options{
		CRM:        crmClient,
		TTL:        viper.GetDuration("status.cache_ttl"),
		UrgencyTag: viper.GetString("crm.urgency_tag"),
		Logger:     logger,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	actions, err := quickaction.NewExecutor(quickaction.ExecutorOptions{
		CRM:             crmClient,
		ResolveAssignee: resolveAssignee,
		Logger:          logger,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Intent:   intent.NewClassifier(intent.Options{Client: llmClient, Model: model, Logger: logger}),
		Gate:     confirm.NewGate(confirm.Options{PendingTTL: viper.GetDuration("confirm.pending_ttl"), Logger: logger}),
		Drafts:   drafts,
		Contexts: contexts,
		Status:   status,
		Actions:  actions,
		Logger:   logger,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	return &dependencies{Orchestrator: orch, cache: cache}, nil
}

// withProcessingReaction brackets fn with the indicator emoji: added before
// the handler runs, removed on every exit path. An empty name disables the
// indicator.
func withProcessingReaction(ctx context.Context, api *slackAPI, channelID, messageTS, name string, fn func() error) error {
	if strings.TrimSpace(name) == "" {
		return fn()
	}
	added := api.addReaction(ctx, channelID, messageTS, name) == nil
	defer func() {
		if added {
			_ = api.removeReaction(ctx, channelID, messageTS, name)
		}
	}()
	return fn()
}

// consumeSlackSocket reads envelopes until the connection drops, acking
// every envelope that carries an id. Slack sends a disconnect envelope
// when it wants the client to reconnect; we return nil so the caller dials
// a fresh socket.
func consumeSlackSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope slackSocketEnvelope) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope slackSocketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if envelope.EnvelopeID != "" {
			ack, _ := json.Marshal(map[string]string{"envelope_id": envelope.EnvelopeID})
			if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				return err
			}
		}
		switch strings.TrimSpace(envelope.Type) {
		case "disconnect":
			return nil
		case "hello":
			continue
		}
		if err := onEnvelope(envelope); err != nil {
			return err
		}
	}
}

func isAddressed(event slackInboundEvent, botUserID string, orch *orchestrator.Orchestrator) bool {
	if event.IsAppMention {
		return true
	}
	if strings.Contains(event.Text, "<@"+botUserID+">") {
		return true
	}
	if event.ChatType == "im" {
		return true
	}
	if event.ThreadTS != "" {
		return orch.ThreadEngaged(event.ThreadTS)
	}
	return false
}

func parseSlackInboundEvent(envelope slackSocketEnvelope, botUserID string) (slackInboundEvent, bool, error) {
	if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
		return slackInboundEvent{}, false, nil
	}
	var payload slackEventsAPIPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return slackInboundEvent{}, false, err
	}
	var event slackEvent
	if err := json.Unmarshal(payload.Event, &event); err != nil {
		return slackInboundEvent{}, false, err
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType != "message" && eventType != "app_mention" {
		return slackInboundEvent{}, false, nil
	}
	if strings.TrimSpace(event.Subtype) != "" {
		return slackInboundEvent{}, false, nil
	}
	if strings.TrimSpace(event.BotID) != "" {
		return slackInboundEvent{}, false, nil
	}
	userID := strings.TrimSpace(event.User)
	if userID == "" || userID == strings.TrimSpace(botUserID) {
		return slackInboundEvent{}, false, nil
	}
	channelID := strings.TrimSpace(event.Channel)
	messageTS := strings.TrimSpace(event.TS)
	text := strings.TrimSpace(event.Text)
	if channelID == "" || messageTS == "" || text == "" {
		return slackInboundEvent{}, false, nil
	}
	teamID := strings.TrimSpace(payload.TeamID)
	if teamID == "" {
		teamID = strings.TrimSpace(event.Team)
	}
	eventID := strings.TrimSpace(payload.EventID)
	if eventID == "" {
		eventID = "evt_" + uuid.NewString()
	}
	return slackInboundEvent{
		TeamID:       teamID,
		ChannelID:    channelID,
		ChatType:     normalizeChatType(event.ChannelType, channelID),
		MessageTS:    messageTS,
		ThreadTS:     strings.TrimSpace(event.ThreadTS),
		UserID:       userID,
		Text:         text,
		EventID:      eventID,
		IsAppMention: eventType == "app_mention",
	}, true, nil
}

func normalizeChatType(channelType, channelID string) string {
	channelType = strings.ToLower(strings.TrimSpace(channelType))
	switch channelType {
	case "im", "mpim", "channel", "private_channel":
		return channelType
	}
	switch {
	case strings.HasPrefix(channelID, "D"):
		return "im"
	case strings.HasPrefix(channelID, "G"):
		return "private_channel"
	default:
		return "channel"
	}
}

func toAllowlist(items []string) map[string]bool {
	out := make(map[string]bool)
	for _, raw := range items {
		if item := strings.TrimSpace(raw); item != "" {
			out[item] = true
		}
	}
	return out
}
