package confessional

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testGuildID       = "900000000000000001"
	testPostChannelID = "900000000000000100"
	testModLogID      = "900000000000000200"
	testRoleHeHim     = "900000000000000301"
	testRoleSheHer    = "900000000000000302"
)

func newTestUser(id string, name string) *discordgo.User {
	return &discordgo.User{ID: id, Username: name, GlobalName: name}
}

var (
	testPoster    = newTestUser("800000000000000001", "poster")
	testRequester = newTestUser("800000000000000002", "requester")
	testStranger  = newTestUser("800000000000000003", "stranger")
)

func newTestConfig(t testing.TB) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database = ""
	cfg.Discord.Token = "test-token"
	cfg.Channels.Post = testPostChannelID
	cfg.Channels.ModLog = testModLogID
	cfg.Roles = RoleMapping{
		{Label: "He/Him", RoleID: testRoleHeHim},
		{Label: "She/Her", RoleID: testRoleSheHer},
	}
	cfg.Avatar.Dir = t.TempDir()
	cfg.Avatar.FetchesPerSecond = 1000
	cfg.HTTPClient = &http.Client{Transport: newAvatarTransport(t)}
	return cfg
}

// newTestConfessional returns a bot using a mock discord session and
// an avatar transport which serves a generated PNG for every request
func newTestConfessional(t testing.TB, cfg *Config) (*Confessional, *mockDiscordSession) {
	t.Helper()
	if cfg == nil {
		cfg = newTestConfig(t)
	}
	setLogWriter(t)
	c, err := New(cfg)
	require.NoError(t, err)

	session := newMockDiscordSession()
	c.discord.session = session
	return c, session
}

// setLogWriter discards logs written by loggers created during the test
func setLogWriter(t testing.TB) {
	t.Helper()
	original := defaultLogWriter
	defaultLogWriter = io.Discard
	t.Cleanup(
		func() {
			defaultLogWriter = original
		},
	)
}

func testPNG(t testing.TB, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// avatarTransport is an http.RoundTripper serving a fixed response body
// for every request, counting requests
type avatarTransport struct {
	body   []byte
	status int
	err    error
	delay  time.Duration
	hits   atomic.Int64
}

func newAvatarTransport(t testing.TB) *avatarTransport {
	return &avatarTransport{body: testPNG(t, 64), status: http.StatusOK}
}

func (a *avatarTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	a.hits.Add(1)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return &http.Response{
		StatusCode: a.status,
		Status:     fmt.Sprintf("%d %s", a.status, http.StatusText(a.status)),
		Body:       io.NopCloser(bytes.NewReader(a.body)),
		Header:     http.Header{"Content-Type": []string{"image/png"}},
		Request:    req,
	}, nil
}

func transportOf(t testing.TB, c *Confessional) *avatarTransport {
	t.Helper()
	transport, ok := c.config.HTTPClient.Transport.(*avatarTransport)
	require.True(t, ok)
	return transport
}

// sentMessage is a message sent with ChannelMessageSendComplex
type sentMessage struct {
	ChannelID string
	Message   *discordgo.Message
	Data      *discordgo.MessageSend

	// Files holds the content of each attached file
	Files map[string][]byte
}

// mockDiscordSession is a DiscordSessionHandler which records what the
// bot sends, instead of calling discord
type mockDiscordSession struct {
	mu sync.Mutex

	nextID atomic.Int64

	sent          []sentMessage
	edits         []*discordgo.MessageEdit
	deleted       []string
	responses     []*discordgo.InteractionResponse
	responseEdits []*discordgo.WebhookEdit
	commands      []*discordgo.ApplicationCommand
	customStatus  string
	identify      discordgo.Identify
	opened        bool
	closed        bool

	// members by user ID, returned by GuildMember
	members map[string]*discordgo.Member

	// sendErrs fails sends to the given channel IDs
	sendErrs map[string]error

	// dmErrs fails opening a DM channel with the given user IDs
	dmErrs map[string]error

	editErr error
}

func newMockDiscordSession() *mockDiscordSession {
	m := &mockDiscordSession{
		members:  map[string]*discordgo.Member{},
		sendErrs: map[string]error{},
		dmErrs:   map[string]error{},
	}
	m.nextID.Store(700000000000000000)
	return m
}

// dmChannelID is the ID of the mock DM channel with the given user
func dmChannelID(userID string) string {
	return "dm-" + userID
}

func (m *mockDiscordSession) newID() string {
	return fmt.Sprintf("%d", m.nextID.Add(1))
}

func (m *mockDiscordSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *mockDiscordSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendErrs[channelID]; err != nil {
		return nil, err
	}
	files := map[string][]byte{}
	for _, f := range data.Files {
		b, err := io.ReadAll(f.Reader)
		if err != nil {
			return nil, err
		}
		files[f.Name] = b
	}
	msg := &discordgo.Message{
		ID:         m.newID(),
		ChannelID:  channelID,
		Content:    data.Content,
		Embeds:     data.Embeds,
		Components: data.Components,
	}
	m.sent = append(
		m.sent,
		sentMessage{ChannelID: channelID, Message: msg, Data: data, Files: files},
	)
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageEditComplex(
	edit *discordgo.MessageEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return nil, m.editErr
	}
	m.edits = append(m.edits, edit)
	return &discordgo.Message{ID: edit.ID, ChannelID: edit.Channel}, nil
}

func (m *mockDiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, channelID+"/"+messageID)
	return nil
}

func (m *mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.dmErrs[recipientID]; err != nil {
		return nil, err
	}
	return &discordgo.Channel{
		ID:         dmChannelID(recipientID),
		Type:       discordgo.ChannelTypeDM,
		Recipients: []*discordgo.User{{ID: recipientID}},
	}, nil
}

func (m *mockDiscordSession) GuildMember(
	guildID string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[userID]
	if !ok {
		return nil, errors.New("HTTP 404 Not Found, Unknown Member")
	}
	member.GuildID = guildID
	return member, nil
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseEdits = append(m.responseEdits, newresp)
	return &discordgo.Message{ID: interaction.ID}, nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = commands
	return commands, nil
}

func (m *mockDiscordSession) UpdateCustomStatus(status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customStatus = status
	return nil
}

func (m *mockDiscordSession) SetIdentify(i discordgo.Identify) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identify = i
}

func (m *mockDiscordSession) SetLogLevel(_ slog.Level) error {
	return nil
}

// sentTo returns the messages sent to the given channel, in order
func (m *mockDiscordSession) sentTo(channelID string) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rv []sentMessage
	for _, s := range m.sent {
		if s.ChannelID == channelID {
			rv = append(rv, s)
		}
	}
	return rv
}

func (m *mockDiscordSession) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockDiscordSession) getEdits() []*discordgo.MessageEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.MessageEdit(nil), m.edits...)
}

func (m *mockDiscordSession) getResponses() []*discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), m.responses...)
}

func (m *mockDiscordSession) lastResponse(t testing.TB) *discordgo.InteractionResponse {
	t.Helper()
	responses := m.getResponses()
	require.NotEmpty(t, responses)
	return responses[len(responses)-1]
}

func (m *mockDiscordSession) getResponseEdits() []*discordgo.WebhookEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.WebhookEdit(nil), m.responseEdits...)
}

func (m *mockDiscordSession) setMember(userID string, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[userID] = &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles}
}

func (m *mockDiscordSession) failSend(channelID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErrs[channelID] = err
}

func (m *mockDiscordSession) failDM(userID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dmErrs[userID] = err
}

func (m *mockDiscordSession) failEdits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editErr = err
}

// customIDs returns the custom IDs of every button and select menu in
// the given components
func customIDs(components []discordgo.MessageComponent) []string {
	var ids []string
	for _, c := range components {
		row, ok := c.(discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			switch v := inner.(type) {
			case discordgo.Button:
				ids = append(ids, v.CustomID)
			case discordgo.SelectMenu:
				ids = append(ids, v.CustomID)
			}
		}
	}
	return ids
}

// postAndBind submits a post from the given user, returning it
func postAndBind(t testing.TB, c *Confessional, user *discordgo.User, content string) *AnonymousPost {
	t.Helper()
	post, err := c.SubmitPost(
		context.Background(),
		PostRequest{User: user, GuildID: testGuildID, RoleLabel: "He/Him", Content: content},
	)
	require.NoError(t, err)
	require.NotNil(t, post)
	return post
}

func TestHelpers(t *testing.T) {
	t.Run(
		"truncate", func(t *testing.T) {
			assert.Equal(t, "abc", truncate("abcdef", 3))
			assert.Equal(t, "ab", truncate("ab", 3))
			assert.Equal(t, "éé", truncate("ééé", 2))
		},
	)
	t.Run(
		"validateContent", func(t *testing.T) {
			content, ok := validateContent("  hello  ", 5)
			assert.True(t, ok)
			assert.Equal(t, "hello", content)

			_, ok = validateContent("   ", 5)
			assert.False(t, ok)

			_, ok = validateContent("hello!", 5)
			assert.False(t, ok)

			_, ok = validateContent(strings.Repeat("é", 5), 5)
			assert.True(t, ok)
		},
	)
	t.Run(
		"isSnowflake", func(t *testing.T) {
			assert.True(t, isSnowflake("1456059354607255612"))
			assert.False(t, isSnowflake(""))
			assert.False(t, isSnowflake("12a"))
			assert.False(t, isSnowflake(strings.Repeat("1", 21)))
		},
	)
	t.Run(
		"messageLink", func(t *testing.T) {
			assert.Equal(
				t,
				"https://discord.com/channels/1/2/3",
				messageLink("1", "2", "3"),
			)
		},
	)
	t.Run(
		"userErrorMessage", func(t *testing.T) {
			assert.Equal(t, "⏳ Slow down.", userErrorMessage(fmt.Errorf("x: %w", ErrCooldown)))
			assert.Equal(t, "❌ User not found.", userErrorMessage(ErrAuthorNotFound))
			assert.Equal(t, DefaultErrorMessage, userErrorMessage(errors.New("boom")))
		},
	)
}

func TestGetDiscordUser(t *testing.T) {
	user := newTestUser("1", "foo")
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: user}},
	}
	assert.Equal(t, user, getDiscordUser(i))

	i = &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: user}}
	assert.Equal(t, user, getDiscordUser(i))

	i = &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}
	assert.Nil(t, getDiscordUser(i))
}

func TestContextLogger(t *testing.T) {
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithLogger(context.Background(), logger)
	got, ok := ContextLogger(ctx)
	assert.True(t, ok)
	assert.Same(t, logger, got)
}
