package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/spf13/cobra"

	"github.com/hrygo/concierge/internal/profile"
	"github.com/hrygo/concierge/plugin/ai"
	"github.com/hrygo/concierge/plugin/ai/autoreply"
	"github.com/hrygo/concierge/plugin/ai/settings"
	"github.com/hrygo/concierge/plugin/chat"
	"github.com/hrygo/concierge/plugin/realtime"
	"github.com/hrygo/concierge/server/auth"
	"github.com/hrygo/concierge/store"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token signed with the configured secret",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		userID, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := auth.NewAuthenticator(p.JWTSecret).Sign(userID, role, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var guestIDCmd = &cobra.Command{
	Use:   "guest-id",
	Short: "Print a fresh guest identifier for the x-guest-id header",
	Run: func(*cobra.Command, []string) {
		fmt.Println(shortuuid.New())
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <body>",
	Short: "Send a message, through the endpoint when configured, and run the auto reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		conversationID, _ := cmd.Flags().GetString("conversation")
		mode, _ := cmd.Flags().GetString("mode")
		guestID, _ := cmd.Flags().GetString("guest-id")
		language, _ := cmd.Flags().GetString("language")

		storeInstance, err := openStore(cmd.Context(), p)
		if err != nil {
			return err
		}
		defer storeInstance.Close()

		identity, err := identityFromFlags(cmd, p)
		if err != nil {
			return err
		}
		if guestID == "" {
			guestID = shortuuid.New()
		}

		effects := chat.NewEffects(chat.DefaultEffectConcurrency, chat.DefaultEffectTimeout)
		var sender chat.MessageSender
		if p.FunctionsURL != "" {
			sender = &chat.FallbackSender{
				Primary:   chat.NewEndpointSender(p.FunctionsURL),
				Secondary: chat.NewDirectSender(storeInstance, effects),
			}
		}
		client, err := chat.NewClient(chat.Options{
			Backend:   storeInstance,
			Sender:    sender,
			AutoReply: newPipeline(p, storeInstance),
			Effects:   effects,
			Identity:  chat.StaticIdentity(identity),
			GuestID:   guestID,
			Language:  language,
		})
		if err != nil {
			return err
		}

		message, err := client.SendMessage(cmd.Context(), conversationID, strings.Join(args, " "), chat.Mode(mode))
		// Close waits for the auto reply.
		client.Close()
		effects.Close()
		if err != nil {
			return err
		}
		if message == nil {
			return fmt.Errorf("message body is empty")
		}
		for _, m := range client.Messages(conversationID) {
			if err := printMessage(m); err != nil {
				return err
			}
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the messages of a conversation as they arrive",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		conversationID, _ := cmd.Flags().GetString("conversation")
		history, _ := cmd.Flags().GetInt("history")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		storeInstance, err := openStore(ctx, p)
		if err != nil {
			return err
		}
		defer storeInstance.Close()

		// The in-process hub cannot see other processes' writes, so only
		// postgres gets a change feed here.
		var feed realtime.Feed
		if p.Driver == "postgres" {
			pgFeed, err := realtime.NewPGFeed(p.DSN, storeInstance)
			if err != nil {
				slog.Warn("failed to start postgres change feed, polling instead", "error", err)
			} else {
				defer pgFeed.Close()
				feed = pgFeed
			}
		}
		settingsCache := settings.NewCache(storeInstance, p.SettingsTTL)
		manager := realtime.NewManager(realtime.Options{
			Feed:             feed,
			Poll:             chat.PollLatest(storeInstance, chat.DefaultPageSize),
			Gate:             settingsCache.RealtimeEnabled,
			PollInterval:     p.PollInterval,
			HandshakeTimeout: p.HandshakeTimeout,
			OnHealthChange: func(id string, health realtime.Health) {
				slog.Info("realtime health changed", "conversation_id", id, "state", health.State, "reason", health.Err)
			},
		})
		defer manager.Close()

		client, err := chat.NewClient(chat.Options{Backend: storeInstance, Manager: manager})
		if err != nil {
			return err
		}
		defer client.Close()

		if _, err := client.FetchMessages(ctx, conversationID, history, nil); err != nil {
			return err
		}
		if _, err := client.SubscribeToConversation(ctx, conversationID); err != nil {
			return err
		}
		return watchMessages(ctx, client, conversationID)
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "user id (subject)")
	tokenCmd.Flags().String("role", "", `role claim, "admin" for staff`)
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	sendCmd.Flags().String("conversation", "", "conversation id")
	sendCmd.Flags().String("mode", string(chat.ModePublicGuest), "public_guest, public_auth, private_user or admin")
	sendCmd.Flags().String("token", "", "bearer token of the sender")
	sendCmd.Flags().String("guest-id", "", "guest identifier, generated when empty")
	sendCmd.Flags().String("language", "en", "language of the auto reply")
	_ = sendCmd.MarkFlagRequired("conversation")

	watchCmd.Flags().String("conversation", "", "conversation id")
	watchCmd.Flags().Int("history", 20, "number of earlier messages to print first")
	_ = watchCmd.MarkFlagRequired("conversation")
}

// identityFromFlags verifies the --token flag, if any, with the configured
// secret.
func identityFromFlags(cmd *cobra.Command, p *profile.Profile) (*chat.Identity, error) {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		return nil, nil
	}
	identity, err := auth.NewAuthenticator(p.JWTSecret).Parse(token)
	if err != nil {
		return nil, fmt.Errorf("invalid --token: %w", err)
	}
	return identity, nil
}

// newPipeline builds the auto-reply pipeline. Without a configured model
// every reply is the localized stub.
func newPipeline(p *profile.Profile, s *store.Store) *autoreply.Pipeline {
	provider, err := autoreply.NewProviderFromConfig(ai.NewConfigFromProfile(p))
	if err != nil {
		slog.Warn("failed to create ai provider, replying with stubs", "error", err)
	}
	pipeline := autoreply.NewPipeline(s, settings.NewCache(s, p.SettingsTTL), provider)
	pipeline.OnOutcome = func(outcome autoreply.Outcome) {
		slog.Info("auto reply finished", "outcome", outcome)
	}
	return pipeline
}

// watchMessages prints messages merged into the client until ctx is done.
func watchMessages(ctx context.Context, client *chat.Client, conversationID string) error {
	printed := make(map[string]struct{})
	flush := func() error {
		for _, m := range client.Messages(conversationID) {
			if _, ok := printed[m.ID]; ok {
				continue
			}
			printed[m.ID] = struct{}{}
			if err := printMessage(m); err != nil {
				return err
			}
		}
		return nil
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := flush(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printMessage(m *store.Message) error {
	line, err := json.Marshal(store.NewMessageRow(m))
	if err != nil {
		return err
	}
	fmt.Println(string(line))
	return nil
}
