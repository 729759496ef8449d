// Package dispatch adapts discordgo gateway events into the task router's per-key
// serialized groups, so the domain packages (voice, ownership) never run two
// transitions for the same user/channel/message concurrently.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ln64-git/arcados-bot-sub003/pkg/affinity"
	"github.com/ln64-git/arcados-bot-sub003/pkg/files"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/ownership"
	"github.com/ln64-git/arcados-bot-sub003/pkg/starboard"
	"github.com/ln64-git/arcados-bot-sub003/pkg/task"
	"github.com/ln64-git/arcados-bot-sub003/pkg/voice"
)

// slowHandlerThreshold is the elapsed-time cutoff above which a handler is logged as slow.
const slowHandlerThreshold = 1 * time.Second

const (
	taskVoiceTransition    = "voice.transition"
	taskStarboardReaction  = "starboard.reaction"
	taskStarboardUpdate    = "starboard.update"
	taskStarboardDelete    = "starboard.delete"
	taskStarboardReconcile = "starboard.reconcile"
)

// Edge wires a discordgo.Session's handlers to the per-key task router.
type Edge struct {
	session         *discordgo.Session
	router          *task.TaskRouter
	guildID         string
	tracker         *voice.Tracker
	owners          *ownership.Manager
	starEngine      *starboard.Engine     // nil disables starboard event handling
	affinityEngine  *affinity.Engine      // nil disables relationship tracking
	voiceNow        map[string]voiceState // userID -> last known channel, for computing join/leave/move deltas
	reconcileCancel func()
}

type voiceState struct {
	channelID   string
	channelName string
}

// New creates an Edge. Call Register to attach the gateway handlers. starEngine and
// affinityEngine may be nil to disable their respective event handling (e.g. the guild's
// configuration has the starboard disabled).
func New(session *discordgo.Session, router *task.TaskRouter, guildID string, tracker *voice.Tracker, owners *ownership.Manager, starEngine *starboard.Engine, affinityEngine *affinity.Engine) *Edge {
	return &Edge{
		session:        session,
		router:         router,
		guildID:        guildID,
		tracker:        tracker,
		owners:         owners,
		starEngine:     starEngine,
		affinityEngine: affinityEngine,
		voiceNow:       make(map[string]voiceState),
	}
}

// Register attaches all gateway handlers. Call once during startup.
func (e *Edge) Register() {
	e.router.RegisterHandler(taskVoiceTransition, e.handleVoiceTransition)
	e.session.AddHandler(timed("voiceStateUpdate", e.onVoiceStateUpdate))

	e.session.AddHandler(timed("messageCreate", e.onMessageCreate))

	if e.starEngine != nil {
		e.router.RegisterHandler(taskStarboardReaction, e.handleStarboardReaction)
		e.router.RegisterHandler(taskStarboardUpdate, e.handleStarboardUpdate)
		e.router.RegisterHandler(taskStarboardDelete, e.handleStarboardDelete)
		e.router.RegisterHandler(taskStarboardReconcile, e.handleStarboardReconcile)
		e.session.AddHandler(timed("messageReactionAdd", e.onMessageReactionAdd))
		e.session.AddHandler(timed("messageReactionRemove", e.onMessageReactionRemove))
		e.session.AddHandler(timed("messageUpdate", e.onMessageUpdate))
		e.session.AddHandler(timed("messageDelete", e.onMessageDelete))

		cancel := e.router.ScheduleEvery(e.starEngine.Config().ReconcileInterval, task.Task{
			Type:    taskStarboardReconcile,
			Payload: starboardReconcilePayload{guildID: e.guildID},
		})
		e.reconcileCancel = cancel
	}
}

// Close stops the starboard reconciliation schedule, if one was started. Safe to call
// even when the starboard engine is disabled.
func (e *Edge) Close() {
	if e.reconcileCancel != nil {
		e.reconcileCancel()
	}
}

// timed wraps a discordgo handler so it is logged at warn level only when it exceeds
// slowHandlerThreshold, and recovers panics so a single malformed event cannot take down
// the gateway read loop.
func timed[T any](name string, fn func(*discordgo.Session, T)) func(*discordgo.Session, T) {
	return func(s *discordgo.Session, evt T) {
		defer func() {
			if r := recover(); r != nil {
				log.DiscordLogger().Warn("recovered from panic in event handler", "event", name, "panic", r)
			}
		}()
		start := time.Now()
		fn(s, evt)
		if elapsed := time.Since(start); elapsed > slowHandlerThreshold {
			log.DiscordLogger().Warn("slow event handler", "event", name, "elapsed", elapsed)
		}
	}
}

type voiceTransitionPayload struct {
	kind     string // "join" | "leave" | "move"
	guildID  string
	member   voice.Member
	oldCh    voice.Channel
	newCh    voice.Channel
}

func (e *Edge) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.GuildID != e.guildID {
		return
	}
	userID := v.UserID

	var bot bool
	if v.Member != nil && v.Member.User != nil {
		bot = v.Member.User.Bot
	}
	member := voice.Member{UserID: userID, Bot: bot}

	prev, hadPrev := e.voiceNow[userID]
	var newState voiceState
	if v.ChannelID != "" {
		ch, err := s.State.Channel(v.ChannelID)
		name := ""
		if err == nil && ch != nil {
			name = ch.Name
		}
		newState = voiceState{channelID: v.ChannelID, channelName: name}
	}

	payload := voiceTransitionPayload{guildID: v.GuildID, member: member}
	groupKey := fmt.Sprintf("voice:%s", userID)

	switch {
	case !hadPrev && newState.channelID != "":
		payload.kind = "join"
		payload.newCh = voice.Channel{ID: newState.channelID, Name: newState.channelName}
	case hadPrev && newState.channelID == "":
		payload.kind = "leave"
		payload.oldCh = voice.Channel{ID: prev.channelID, Name: prev.channelName}
	case hadPrev && newState.channelID != "" && newState.channelID != prev.channelID:
		payload.kind = "move"
		payload.oldCh = voice.Channel{ID: prev.channelID, Name: prev.channelName}
		payload.newCh = voice.Channel{ID: newState.channelID, Name: newState.channelName}
	default:
		return
	}

	if newState.channelID != "" {
		e.voiceNow[userID] = newState
	} else {
		delete(e.voiceNow, userID)
	}

	if err := e.router.Dispatch(context.Background(), task.Task{
		Type:    taskVoiceTransition,
		Payload: payload,
		Options: task.TaskOptions{GroupKey: groupKey},
	}); err != nil {
		log.DiscordLogger().Warn("failed to dispatch voice transition", "userID", userID, "error", err)
	}
}

func (e *Edge) handleVoiceTransition(ctx context.Context, raw any) error {
	p, ok := raw.(voiceTransitionPayload)
	if !ok {
		return fmt.Errorf("unexpected voice transition payload type %T", raw)
	}
	switch p.kind {
	case "join":
		if err := e.tracker.TrackJoin(p.guildID, p.member, p.newCh); err != nil {
			return err
		}
		return e.maybeElectAndRename(p.newCh.ID)
	case "leave":
		if err := e.tracker.TrackLeave(p.guildID, p.member, p.oldCh); err != nil {
			return err
		}
		return e.maybeElectAndRename(p.oldCh.ID)
	case "move":
		if err := e.tracker.TrackMove(p.guildID, p.member, p.oldCh, p.newCh); err != nil {
			return err
		}
		if err := e.maybeElectAndRename(p.oldCh.ID); err != nil {
			log.ApplicationLogger().Warn("ownership re-election failed for vacated channel", "channelID", p.oldCh.ID, "error", err)
		}
		return e.maybeElectAndRename(p.newCh.ID)
	default:
		return fmt.Errorf("unknown voice transition kind %q", p.kind)
	}
}

// maybeElectAndRename re-validates ownership for a channel after a transition. Present
// members are derived from the gateway's voice-state cache.
func (e *Edge) maybeElectAndRename(channelID string) error {
	if channelID == "" || e.owners == nil {
		return nil
	}
	guild, err := e.session.State.Guild(e.guildID)
	if err != nil {
		return fmt.Errorf("resolve guild state: %w", err)
	}

	var present []ownership.PresentMember
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		pm := ownership.PresentMember{UserID: vs.UserID}
		if member, err := e.session.State.Member(e.guildID, vs.UserID); err == nil && member != nil {
			pm.Nickname = member.Nick
			if member.User != nil {
				pm.Username = member.User.Username
				pm.DisplayName = member.User.GlobalName
			}
		}
		present = append(present, pm)
	}

	_, err = e.owners.EnsureValidOwner(e.guildID, channelID, present)
	return err
}

// onMessageCreate feeds relationship affinity tracking from ordinary guild traffic.
// Affinity recording is a cheap in-memory operation guarded by its own lock, so it runs
// synchronously on the gateway goroutine rather than through the task router.
func (e *Edge) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if e.affinityEngine == nil || m.GuildID != e.guildID || m.Author == nil || m.Author.Bot {
		return
	}

	mentioned := make([]string, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		if u != nil {
			mentioned = append(mentioned, u.ID)
		}
	}

	var replyToAuthorID string
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
		replyToAuthorID = m.ReferencedMessage.Author.ID
	}

	e.affinityEngine.RecordMessage(m.GuildID, m.ChannelID, m.Author.ID, mentioned, replyToAuthorID, m.Timestamp)
}

type starboardReactionPayload struct {
	guildID   string
	channelID string
	messageID string
}

type starboardReconcilePayload struct {
	guildID string
}

func (e *Edge) onMessageReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	e.dispatchStarboardReaction(r.GuildID, r.ChannelID, r.MessageID, r.Emoji.Name)
}

func (e *Edge) onMessageReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	e.dispatchStarboardReaction(r.GuildID, r.ChannelID, r.MessageID, r.Emoji.Name)
}

func (e *Edge) dispatchStarboardReaction(guildID, channelID, messageID, emojiName string) {
	if guildID != e.guildID || emojiName != e.starEngine.Config().StarEmoji {
		return
	}
	err := e.router.Dispatch(context.Background(), task.Task{
		Type:    taskStarboardReaction,
		Payload: starboardReactionPayload{guildID: guildID, channelID: channelID, messageID: messageID},
		Options: task.TaskOptions{GroupKey: fmt.Sprintf("starboard:%s", messageID)},
	})
	if err != nil {
		log.DiscordLogger().Warn("failed to dispatch starboard reaction", "messageID", messageID, "error", err)
	}
}

func (e *Edge) handleStarboardReaction(ctx context.Context, raw any) error {
	p, ok := raw.(starboardReactionPayload)
	if !ok {
		return fmt.Errorf("unexpected starboard reaction payload type %T", raw)
	}
	return e.starEngine.HandleReaction(p.guildID, p.channelID, p.messageID)
}

// onMessageUpdate refreshes a starred message's embed content after an edit. Only
// entries already on the starboard are affected; star-count changes are still driven
// by reaction add/remove, not by the edit event itself.
func (e *Edge) onMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if e.starEngine == nil || m.GuildID != e.guildID {
		return
	}
	err := e.router.Dispatch(context.Background(), task.Task{
		Type:    taskStarboardUpdate,
		Payload: starboardReactionPayload{guildID: m.GuildID, channelID: m.ChannelID, messageID: m.ID},
		Options: task.TaskOptions{GroupKey: fmt.Sprintf("starboard:%s", m.ID)},
	})
	if err != nil {
		log.DiscordLogger().Warn("failed to dispatch starboard update", "messageID", m.ID, "error", err)
	}
}

// onMessageDelete removes any starboard entry for a message deleted at the source.
func (e *Edge) onMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	if e.starEngine == nil || m.GuildID != e.guildID {
		return
	}
	err := e.router.Dispatch(context.Background(), task.Task{
		Type:    taskStarboardDelete,
		Payload: starboardReactionPayload{guildID: m.GuildID, channelID: m.ChannelID, messageID: m.ID},
		Options: task.TaskOptions{GroupKey: fmt.Sprintf("starboard:%s", m.ID)},
	})
	if err != nil {
		log.DiscordLogger().Warn("failed to dispatch starboard delete", "messageID", m.ID, "error", err)
	}
}

func (e *Edge) handleStarboardUpdate(ctx context.Context, raw any) error {
	p, ok := raw.(starboardReactionPayload)
	if !ok {
		return fmt.Errorf("unexpected starboard update payload type %T", raw)
	}
	return e.starEngine.HandleMessageUpdate(p.guildID, p.channelID, p.messageID)
}

func (e *Edge) handleStarboardDelete(ctx context.Context, raw any) error {
	p, ok := raw.(starboardReactionPayload)
	if !ok {
		return fmt.Errorf("unexpected starboard delete payload type %T", raw)
	}
	return e.starEngine.HandleMessageDelete(p.guildID, p.messageID)
}

func (e *Edge) handleStarboardReconcile(ctx context.Context, raw any) error {
	p, ok := raw.(starboardReconcilePayload)
	if !ok {
		return fmt.Errorf("unexpected starboard reconcile payload type %T", raw)
	}
	channels, err := files.GetTextChannels(e.session, p.guildID)
	if err != nil {
		return fmt.Errorf("list text channels: %w", err)
	}
	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}
	e.starEngine.Reconcile(p.guildID, ids)
	return nil
}
