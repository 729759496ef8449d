package guildsync

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ln64-git/arcados-bot-sub003/pkg/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeRemote is an in-memory RemoteSource standing in for a live gateway connection.
// messagesByChannel is ordered newest-first, matching the platform's pagination order.
type fakeRemote struct {
	roles             []*discordgo.Role
	members           []*discordgo.Member
	channels          []*discordgo.Channel
	messagesByChannel map[string][]*discordgo.Message
	guild             *discordgo.Guild
}

func (f *fakeRemote) GuildRoles(guildID string) ([]*discordgo.Role, error) {
	return f.roles, nil
}

func (f *fakeRemote) GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error) {
	if after != "" {
		return nil, nil
	}
	return f.members, nil
}

func (f *fakeRemote) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string) ([]*discordgo.Message, error) {
	all := f.messagesByChannel[channelID]
	if beforeID == "" {
		return firstN(all, limit), nil
	}
	idx := -1
	for i, m := range all {
		if m.ID == beforeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, nil
	}
	return firstN(all[idx+1:], limit), nil
}

func firstN(msgs []*discordgo.Message, n int) []*discordgo.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[:n]
}

func (f *fakeRemote) GuildTextChannels(guildID string) ([]*discordgo.Channel, error) {
	return f.channels, nil
}

func (f *fakeRemote) Guild(guildID string) (*discordgo.Guild, error) {
	return f.guild, nil
}

func (f *fakeRemote) CachedGuild(guildID string) (*discordgo.Guild, error) {
	return f.guild, nil
}

func textChannel(id string) *discordgo.Channel {
	return &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeGuildText}
}

func msg(id, authorID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:      id,
		Content: content,
		Author:  &discordgo.User{ID: authorID, Username: "user-" + authorID},
	}
}

func TestSyncConvergesRolesUsersAndMessages(t *testing.T) {
	store := newTestStore(t)

	remote := &fakeRemote{
		roles: makeRoles(10),
		guild: &discordgo.Guild{MemberCount: 100},
	}
	remote.members = makeMembers(100)
	remote.channels = []*discordgo.Channel{textChannel("c1")}
	remote.messagesByChannel = map[string][]*discordgo.Message{
		"c1": makeMessages(500),
	}

	engine := NewWithRemote(remote, store)

	result, err := engine.Sync("g1", true, 1000)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errors)
	}
	if result.SyncedRoles != 10 {
		t.Fatalf("expected 10 roles synced, got %d", result.SyncedRoles)
	}
	if result.SyncedUsers != 100 {
		t.Fatalf("expected 100 users synced, got %d", result.SyncedUsers)
	}
	if result.SyncedMessages != 500 {
		t.Fatalf("expected 500 messages synced, got %d", result.SyncedMessages)
	}

	gs, err := store.GetGuildSync("g1")
	if err != nil {
		t.Fatalf("get guild sync: %v", err)
	}
	if gs == nil || !gs.IsFullySynced {
		t.Fatalf("expected guild sync recorded as fully synced, got %+v", gs)
	}
	if gs.TotalUsers != 100 || gs.TotalRoles != 10 || gs.TotalMessages != 500 {
		t.Fatalf("expected guild sync totals to match remote, got %+v", gs)
	}
	if gs.LastMessageID != "msg-0" {
		t.Fatalf("expected last message id to be the newest message, got %q", gs.LastMessageID)
	}
}

func TestSyncMessagesStopsAtPreviouslySyncedHistory(t *testing.T) {
	store := newTestStore(t)

	remote := &fakeRemote{
		roles: makeRoles(1),
		guild: &discordgo.Guild{MemberCount: 1},
	}
	remote.members = makeMembers(1)
	remote.channels = []*discordgo.Channel{textChannel("c1")}
	remote.messagesByChannel = map[string][]*discordgo.Message{
		"c1": makeMessages(250),
	}

	engine := NewWithRemote(remote, store)

	if _, err := engine.Sync("g1", true, 1000); err != nil {
		t.Fatalf("initial full sync: %v", err)
	}

	// New messages arrive ahead of the previously recorded checkpoint.
	fresh := makeMessagesFrom("new", 5)
	remote.messagesByChannel["c1"] = append(fresh, remote.messagesByChannel["c1"]...)

	result, err := engine.Sync("g1", false, 0)
	if err != nil {
		t.Fatalf("incremental sync: %v", err)
	}
	if result.SyncedMessages != 5 {
		t.Fatalf("expected incremental sync to process only the 5 new messages, got %d", result.SyncedMessages)
	}

	gs, err := store.GetGuildSync("g1")
	if err != nil {
		t.Fatalf("get guild sync: %v", err)
	}
	if gs.LastMessageID != "new-0" {
		t.Fatalf("expected checkpoint advanced to the newest message, got %q", gs.LastMessageID)
	}
}

func TestMemberCountReadsFromRemote(t *testing.T) {
	remote := &fakeRemote{guild: &discordgo.Guild{MemberCount: 42}}
	engine := NewWithRemote(remote, nil)

	count, err := engine.MemberCount("g1")
	if err != nil {
		t.Fatalf("member count: %v", err)
	}
	if count != 42 {
		t.Fatalf("expected 42, got %d", count)
	}
}

func makeRoles(n int) []*discordgo.Role {
	roles := make([]*discordgo.Role, n)
	for i := range roles {
		roles[i] = &discordgo.Role{ID: fmt.Sprintf("role-%d", i), Name: fmt.Sprintf("Role %d", i)}
	}
	return roles
}

func makeMembers(n int) []*discordgo.Member {
	members := make([]*discordgo.Member, n)
	for i := range members {
		members[i] = &discordgo.Member{
			User:     &discordgo.User{ID: fmt.Sprintf("user-%d", i), Username: fmt.Sprintf("user%d", i)},
			JoinedAt: time.Now().UTC(),
		}
	}
	return members
}

// makeMessages returns n messages newest-first, ids msg-0 (newest) .. msg-(n-1) (oldest).
func makeMessages(n int) []*discordgo.Message {
	return makeMessagesFrom("msg", n)
}

func makeMessagesFrom(prefix string, n int) []*discordgo.Message {
	msgs := make([]*discordgo.Message, n)
	for i := range msgs {
		msgs[i] = msg(fmt.Sprintf("%s-%d", prefix, i), "alice", fmt.Sprintf("message %d", i))
	}
	return msgs
}
