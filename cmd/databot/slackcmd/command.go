// Package slackcmd runs the Data bot over Slack Socket Mode: it consumes
// events_api, slash command, and interactive envelopes from the socket,
// funnels user messages through the turn pipeline one worker per
// conversation, and posts replies with feedback buttons attached.
package slackcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/databothq/databot/asyncjob"
	"github.com/databothq/databot/convmem"
	"github.com/databothq/databot/feedback"
	"github.com/databothq/databot/guardrail"
	"github.com/databothq/databot/internal/configutil"
	"github.com/databothq/databot/internal/healthcheck"
	"github.com/databothq/databot/pii"
	openaiprovider "github.com/databothq/databot/providers/openai"
	"github.com/databothq/databot/telemetry"
	"github.com/databothq/databot/turns"
)

const (
	defaultPersonality = "You are Data, an android serving as a helpful conversational assistant. You are precise, literal, unfailingly polite, and quietly curious about humanity. You do not use contractions."

	defaultThinkingText = "Processing... accessing my positronic net."

	imageProgressText = "Generating your image. This may take a moment."

	imageAckText = "Understood. I am generating your image now; it will arrive in this channel shortly."

	turnFailureNotice = "I encountered a malfunction while preparing a reply. Please try again in a moment."

	busyNotice = "My processing queue is at capacity. Please repeat your request in a moment."
)

type slackJob struct {
	ConversationKey string
	TeamID          string
	ChannelID       string
	ChatType        string
	MessageTS       string
	ThreadTS        string
	UserID          string
	Text            string
	SentAt          time.Time
}

type conversationWorker struct {
	Jobs chan slackJob
}

// offerJob hands the job to the worker without blocking. It reports false
// when the worker's queue is full; the caller owes the user a busy notice.
func offerJob(w *conversationWorker, job slackJob) bool {
	select {
	case w.Jobs <- job:
		return true
	default:
		return false
	}
}

type slackSlashCommand struct {
	Command   string `json:"command,omitempty"`
	Text      string `json:"text,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	TriggerID string `json:"trigger_id,omitempty"`
}

func newSlackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slack",
		Short: "Run the Data bot with Slack Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or DATABOT_SLACK_BOT_TOKEN)")
			}
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			if appToken == "" {
				return fmt.Errorf("missing slack.app_token (set via --slack-app-token or DATABOT_SLACK_APP_TOKEN)")
			}

			allowedTeams := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-team-id", "slack.allowed_team_ids"))
			allowedChannels := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-channel-id", "slack.allowed_channel_ids"))

			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			telemetryProvider, sink, err := telemetry.Setup(cmd.Context(), telemetry.Config{
				Endpoint:       viper.GetString("telemetry.endpoint"),
				Headers:        viper.GetString("telemetry.headers"),
				ServiceName:    "databot",
				ServiceVersion: viper.GetString("telemetry.service_version"),
			}, logger)
			if err != nil {
				return err
			}
			if telemetryProvider != nil {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					_ = telemetryProvider.Shutdown(shutdownCtx)
					cancel()
				}()
			}

			store, err := storeFromViper(cmd.Context(), logger)
			if err != nil {
				return err
			}

			piiEndpoint := strings.TrimSpace(viper.GetString("pii.endpoint"))
			if piiEndpoint == "" {
				// The sensitive-data stage fails closed; without a detector
				// every message would be blocked, so refuse to start instead.
				return fmt.Errorf("missing pii.endpoint (set via DATABOT_PII_ENDPOINT)")
			}
			detector := pii.NewClient(nil, piiEndpoint, viper.GetString("pii.api_key"))

			aiClient, err := openaiprovider.New(openaiprovider.Config{
				APIKey:     viper.GetString("openai.api_key"),
				BaseURL:    viper.GetString("openai.base_url"),
				ChatModel:  viper.GetString("openai.chat_model"),
				ImageModel: viper.GetString("openai.image_model"),
			}, logger)
			if err != nil {
				return err
			}

			guard := guardrail.New(guardrail.Options{
				Detector:             detector,
				Moderator:            aiClient,
				Sink:                 sink,
				Logger:               logger,
				ModerationFailClosed: viper.GetBool("guardrail.moderation_fail_closed"),
			})

			ttlHours := viper.GetInt("memory.ttl_hours")
			if ttlHours <= 0 {
				ttlHours = 24
			}
			memory := convmem.New(convmem.Options{
				Store:      store,
				WindowSize: viper.GetInt("memory.window_size"),
				TTL:        time.Duration(ttlHours) * time.Hour,
				Logger:     logger,
			})

			personality := strings.TrimSpace(viper.GetString("personality.prompt"))
			if personality == "" {
				personality = defaultPersonality
			}
			thinkingText := strings.TrimSpace(viper.GetString("personality.thinking_text"))
			if thinkingText == "" {
				thinkingText = defaultThinkingText
			}

			processor := turns.New(turns.Options{
				Guard:       guard,
				Memory:      memory,
				Completer:   aiClient,
				Sink:        sink,
				Logger:      logger,
				Personality: personality,
			})
			runner := asyncjob.NewRunner(logger, sink)
			ledger := feedback.NewLedger(sink, logger)

			if manifestPath := strings.TrimSpace(viper.GetString("slack.manifest_path")); manifestPath != "" {
				manifest, err := loadManifest(manifestPath)
				if err != nil {
					logger.Warn("slack_manifest_load_error", "path", manifestPath, "error", err.Error())
				} else {
					for _, problem := range verifyManifest(manifest) {
						logger.Warn("slack_manifest_problem", "path", manifestPath, "problem", problem)
					}
				}
			}

			httpClient := &http.Client{Timeout: 30 * time.Second}
			api := newSlackAPI(httpClient, "https://slack.com/api", botToken, appToken)
			auth, err := api.authTest(cmd.Context())
			if err != nil {
				return fmt.Errorf("slack auth.test: %w", err)
			}
			botUserID := strings.TrimSpace(auth.UserID)
			if botUserID == "" {
				return fmt.Errorf("slack auth.test returned empty user_id")
			}
			if len(allowedTeams) == 0 && auth.TeamID != "" {
				allowedTeams[auth.TeamID] = true
			}

			taskTimeout := configutil.FlagOrViperDuration(cmd, "slack-task-timeout", "slack.task_timeout")
			if taskTimeout <= 0 {
				taskTimeout = 2 * time.Minute
			}
			imageTimeout := configutil.FlagOrViperDuration(cmd, "slack-image-timeout", "slack.image_timeout")
			if imageTimeout <= 0 {
				imageTimeout = 5 * time.Minute
			}
			maxConc := configutil.FlagOrViperInt(cmd, "slack-max-concurrency", "slack.max_concurrency")
			if maxConc <= 0 {
				maxConc = 3
			}
			sem := make(chan struct{}, maxConc)

			healthListen := healthcheck.NormalizeListen(configutil.FlagOrViperString(cmd, "health-listen", "health.listen"))
			if healthListen != "" {
				healthServer, err := healthcheck.StartServer(cmd.Context(), logger, healthListen, "slack")
				if err != nil {
					logger.Warn("slack_health_server_start_error", "addr", healthListen, "error", err.Error())
				} else {
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
						_ = healthServer.Shutdown(shutdownCtx)
						cancel()
					}()
				}
			}

			var (
				mu      sync.Mutex
				workers = make(map[string]*conversationWorker)
			)

			chatTurnJob := func(job slackJob) asyncjob.Job {
				return asyncjob.Job{
					Name: "chat_turn",
					PostPlaceholder: func(ctx context.Context) (asyncjob.Placeholder, error) {
						ts, err := api.postMessage(ctx, job.ChannelID, thinkingText, job.ThreadTS, nil)
						if err != nil {
							return nil, err
						}
						return &slackPlaceholder{api: api, channelID: job.ChannelID, ts: ts}, nil
					},
					Work: func(ctx context.Context) (any, error) {
						return processor.Process(ctx, job.Text, job.UserID, job.ChatType), nil
					},
					Deliver: func(ctx context.Context, result any) error {
						reply, ok := result.(turns.Reply)
						if !ok {
							return fmt.Errorf("unexpected chat turn result %T", result)
						}
						_, err := api.postMessage(ctx, job.ChannelID, reply.Text, job.ThreadTS, feedbackActionsBlock(reply.Text, reply.TurnID))
						return err
					},
					NotifyFailure: func(ctx context.Context, failure error) {
						if _, err := api.postMessage(ctx, job.ChannelID, turnFailureNotice, job.ThreadTS, nil); err != nil {
							logger.Warn("slack_failure_notice_error", "channel_id", job.ChannelID, "error", err.Error())
						}
					},
				}
			}

			getOrStartWorkerLocked := func(conversationKey string) *conversationWorker {
				if w, ok := workers[conversationKey]; ok && w != nil {
					return w
				}
				w := &conversationWorker{Jobs: make(chan slackJob, 16)}
				workers[conversationKey] = w
				go func() {
					for job := range w.Jobs {
						sem <- struct{}{}
						func() {
							defer func() { <-sem }()
							ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
							defer cancel()
							if err := runner.Run(ctx, chatTurnJob(job)); err != nil {
								logger.Warn("slack_chat_turn_error", "channel_id", job.ChannelID, "user_id", job.UserID, "error", err.Error())
							}
						}()
					}
				}()
				return w
			}

			enqueueChatEvent := func(ctx context.Context, event slackInboundEvent) {
				if reply, ok := cannedReply(event.Text); ok {
					if _, err := api.postMessage(ctx, event.ChannelID, reply, event.ThreadTS, nil); err != nil {
						logger.Warn("slack_canned_reply_error", "channel_id", event.ChannelID, "error", err.Error())
					}
					return
				}
				key := slackConversationKey(event.TeamID, event.ChannelID, event.UserID)
				mu.Lock()
				w := getOrStartWorkerLocked(key)
				mu.Unlock()
				job := slackJob{
					ConversationKey: key,
					TeamID:          event.TeamID,
					ChannelID:       event.ChannelID,
					ChatType:        event.ChatType,
					MessageTS:       event.MessageTS,
					ThreadTS:        event.ThreadTS,
					UserID:          event.UserID,
					Text:            event.Text,
					SentAt:          event.SentAt,
				}
				if !offerJob(w, job) {
					// Blocking here would stall the socket read loop, so the
					// user gets a busy notice instead of silence.
					logger.Warn("slack_worker_queue_full", "conversation_key", key)
					if _, err := api.postMessage(ctx, event.ChannelID, busyNotice, event.ThreadTS, nil); err != nil {
						logger.Warn("slack_busy_notice_error", "channel_id", event.ChannelID, "error", err.Error())
					}
				}
			}

			imageJob := func(cmdPayload slackSlashCommand) asyncjob.Job {
				prompt := strings.TrimSpace(cmdPayload.Text)
				return asyncjob.Job{
					Name: "image_generation",
					PostPlaceholder: func(ctx context.Context) (asyncjob.Placeholder, error) {
						ts, err := api.postMessage(ctx, cmdPayload.ChannelID, imageProgressText, "", nil)
						if err != nil {
							return nil, err
						}
						return &slackPlaceholder{api: api, channelID: cmdPayload.ChannelID, ts: ts}, nil
					},
					Work: func(ctx context.Context) (any, error) {
						return aiClient.GenerateImage(ctx, prompt)
					},
					Deliver: func(ctx context.Context, result any) error {
						data, ok := result.([]byte)
						if !ok {
							return fmt.Errorf("unexpected image result %T", result)
						}
						return deliverGeneratedImage(ctx, logger, apiUploader{api: api}, cmdPayload.ChannelID, "", prompt, data)
					},
					NotifyFailure: func(ctx context.Context, failure error) {
						// The slash ack already completed; a follow-up message
						// is the only way the user learns about the failure.
						if _, err := api.postMessage(ctx, cmdPayload.ChannelID, imageFailureNotice, "", nil); err != nil {
							logger.Warn("slack_image_failure_notice_error", "channel_id", cmdPayload.ChannelID, "error", err.Error())
						}
					},
				}
			}

			handleSlashCommand := func(envelope slackSocketEnvelope) any {
				var cmdPayload slackSlashCommand
				if err := json.Unmarshal(envelope.Payload, &cmdPayload); err != nil {
					logger.Warn("slack_slash_payload_error", "error", err.Error())
					return nil
				}
				if strings.TrimSpace(cmdPayload.Command) != "/image" {
					return nil
				}
				if strings.TrimSpace(cmdPayload.Text) == "" {
					return map[string]any{
						"response_type": "ephemeral",
						"text":          "Please describe the image, for example `/image a cat painting a landscape`.",
					}
				}
				// Ack within the synchronous budget; generation runs detached
				// and reports failures with a follow-up message.
				ctx, cancel := context.WithTimeout(context.Background(), imageTimeout)
				done := runner.Go(ctx, imageJob(cmdPayload))
				go func() {
					<-done
					cancel()
				}()
				return map[string]any{
					"response_type": "ephemeral",
					"text":          imageAckText,
				}
			}

			handleInteraction := func(ctx context.Context, envelope slackSocketEnvelope) {
				payload, err := parseInteractionPayload(envelope.Payload)
				if err != nil {
					logger.Warn("slack_interaction_payload_error", "error", err.Error())
					return
				}
				switch strings.TrimSpace(payload.Type) {
				case "block_actions":
					for _, action := range payload.Actions {
						switch strings.TrimSpace(action.ActionID) {
						case actionFeedbackUp:
							ledger.RecordPositive(ctx, action.Value)
						case actionFeedbackDown:
							if err := api.openView(ctx, payload.TriggerID, feedbackModalView(action.Value)); err != nil {
								logger.Warn("slack_feedback_modal_error", "error", err.Error())
							}
						}
					}
				case "view_submission":
					submitted, err := parseNegativeFeedback(payload.View)
					if err != nil {
						logger.Warn("slack_feedback_submission_error", "error", err.Error())
						return
					}
					ledger.RecordNegative(ctx, submitted.TurnID, submitted.Categories, submitted.Comment)
				}
			}

			logger.Info("slack_start",
				"bot_user_id", botUserID,
				"allowed_team_ids", len(allowedTeams),
				"allowed_channel_ids", len(allowedChannels),
				"task_timeout", taskTimeout.String(),
				"max_concurrency", maxConc,
			)

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
				readErr := consumeSlackSocket(cmd.Context(), conn, func(envelope slackSocketEnvelope) (any, error) {
					switch strings.TrimSpace(envelope.Type) {
					case "events_api":
						event, ok, err := parseSlackInboundEvent(envelope, botUserID)
						if err != nil {
							logger.Warn("slack_event_parse_error", "error", err.Error())
							return nil, nil
						}
						if !ok {
							return nil, nil
						}
						if len(allowedTeams) > 0 && !allowedTeams[event.TeamID] {
							return nil, nil
						}
						if len(allowedChannels) > 0 && !allowedChannels[event.ChannelID] {
							return nil, nil
						}
						enqueueChatEvent(cmd.Context(), event)
						return nil, nil
					case "slash_commands":
						return handleSlashCommand(envelope), nil
					case "interactive":
						handleInteraction(cmd.Context(), envelope)
						return nil, nil
					default:
						return nil, nil
					}
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
	cmd.Flags().Duration("slack-task-timeout", 0, "Per-message turn timeout.")
	cmd.Flags().Duration("slack-image-timeout", 0, "Detached image-generation timeout.")
	cmd.Flags().Int("slack-max-concurrency", 3, "Max number of conversations processed concurrently.")
	cmd.Flags().String("health-listen", "", "Health check listen address (empty disables).")

	return cmd
}

func storeFromViper(ctx context.Context, logger *slog.Logger) (convmem.Store, error) {
	addr := strings.TrimSpace(viper.GetString("redis.addr"))
	if addr == "" {
		logger.Info("convmem_store", "backend", "memory")
		return convmem.NewMemStore(viper.GetInt("memory.max_tracked_users")), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// Memory degrades per-turn when the store is down; startup proceeds.
		logger.Warn("convmem_redis_ping_error", "addr", addr, "error", err.Error())
	}
	logger.Info("convmem_store", "backend", "redis", "addr", addr)
	return convmem.NewRedisStore(client), nil
}

func consumeSlackSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope slackSocketEnvelope) (any, error)) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	for {
		if ctx != nil && ctx.Err() != nil {
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
		var ackPayload any
		var handlerErr error
		if onEnvelope != nil {
			ackPayload, handlerErr = onEnvelope(envelope)
		}
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			ack := map[string]any{"envelope_id": envelope.EnvelopeID}
			if ackPayload != nil {
				ack["payload"] = ackPayload
			}
			if err := conn.WriteJSON(ack); err != nil {
				return err
			}
		}
		if handlerErr != nil {
			return handlerErr
		}
	}
}
