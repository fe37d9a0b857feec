package confessional

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ContactState is the state of a [ContactRequest]
type ContactState int

const (
	ContactInitiated ContactState = iota
	ContactAwaitingApproval
	ContactAccepted
	ContactRefused
	ContactTimedOut

	// ContactUndelivered means the prompt couldn't be sent to the poster
	ContactUndelivered
)

func (s ContactState) String() string {
	switch s {
	case ContactInitiated:
		return "initiated"
	case ContactAwaitingApproval:
		return "awaiting_approval"
	case ContactAccepted:
		return "accepted"
	case ContactRefused:
		return "refused"
	case ContactTimedOut:
		return "timed_out"
	case ContactUndelivered:
		return "undelivered"
	default:
		return fmt.Sprintf("ContactState(%d)", int(s))
	}
}

// Terminal returns true for states a request can't leave
func (s ContactState) Terminal() bool {
	switch s {
	case ContactAccepted, ContactRefused, ContactTimedOut, ContactUndelivered:
		return true
	default:
		return false
	}
}

// Decision is the poster's answer to a contact request
type Decision int

const (
	DecisionAccept Decision = iota
	DecisionRefuse
)

func (d Decision) String() string {
	if d == DecisionAccept {
		return "accept"
	}
	return "refuse"
}

// ContactRequest is a request from a reader to privately message the
// anonymous author of a post. Only the author (PosterID) may decide it,
// and only once.
type ContactRequest struct {
	ID              string
	MessageID       string
	RequesterID     string
	PosterID        string
	RequesterStatus string
	Content         string
	CreatedAt       time.Time
	ExpiresAt       time.Time

	// the prompt DM sent to the poster
	promptChannelID string
	promptMessageID string

	state ContactState
	timer *time.Timer
	mu    sync.Mutex
}

func (r *ContactRequest) State() ContactState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *ContactRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("message_id", r.MessageID),
		slog.String("requester_id", r.RequesterID),
		slog.String("state", r.State().String()),
	)
}

// decide moves an awaiting request to accepted or refused, if actorID is
// the poster. Authorization is checked first, so a non-poster gets
// [ErrUnauthorized] regardless of the request's state.
func (r *ContactRequest) decide(actorID string, decision Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actorID != r.PosterID {
		return fmt.Errorf("%w: user %s is not the poster", ErrUnauthorized, actorID)
	}
	if r.state != ContactAwaitingApproval {
		return fmt.Errorf("%w: request is %s", ErrRequestClosed, r.state)
	}
	switch decision {
	case DecisionAccept:
		r.state = ContactAccepted
	case DecisionRefuse:
		r.state = ContactRefused
	default:
		return fmt.Errorf("%w: unknown decision %d", ErrValidation, decision)
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	return nil
}

// transition moves the request from one state to another, returning
// false if it wasn't in the expected state
func (r *ContactRequest) transition(from ContactState, to ContactState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return false
	}
	r.state = to
	if to.Terminal() && r.timer != nil {
		r.timer.Stop()
	}
	return true
}

// contactRegistry holds contact requests which haven't reached a
// terminal state
type contactRegistry struct {
	requests map[string]*ContactRequest
	mu       sync.RWMutex
}

func newContactRegistry() *contactRegistry {
	return &contactRegistry{requests: map[string]*ContactRequest{}}
}

func (c *contactRegistry) add(r *ContactRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[r.ID] = r
}

func (c *contactRegistry) get(id string) (*ContactRequest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.requests[id]
	return r, ok
}

func (c *contactRegistry) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.requests, id)
}

func (c *contactRegistry) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.requests)
}

// drain removes and returns every request
func (c *contactRegistry) drain() []*ContactRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	requests := make([]*ContactRequest, 0, len(c.requests))
	for _, r := range c.requests {
		requests = append(requests, r)
	}
	clear(c.requests)
	return requests
}

// ContactInput is a reader's request to DM the author of a post
type ContactInput struct {
	Requester *discordgo.User
	GuildID   string
	MessageID string
	Content   string
}

// RequestContact sends the author of the given post a prompt to accept
// or refuse a DM from the requester. The requester's identity and roles
// are shown to the author, but the author stays anonymous.
//
// The request times out after the configured contact timeout, at which
// point the prompt's buttons are removed.
func (c *Confessional) RequestContact(ctx context.Context, in ContactInput) (*ContactRequest, error) {
	ctx, logger := c.getLogger(ctx)

	if in.Requester == nil {
		return nil, fmt.Errorf("%w: no requester", ErrValidation)
	}
	content, ok := validateContent(in.Content, c.config.Rules.ContactMaxLength)
	if !ok {
		return nil, fmt.Errorf(
			"%w: message must be 1-%d characters",
			ErrValidation,
			c.config.Rules.ContactMaxLength,
		)
	}
	posterID, ok := c.store.Author(in.MessageID)
	if !ok {
		return nil, fmt.Errorf("%w: message %s", ErrAuthorNotFound, in.MessageID)
	}

	now := c.now()
	req := &ContactRequest{
		ID:              uuid.NewString(),
		MessageID:       in.MessageID,
		RequesterID:     in.Requester.ID,
		PosterID:        posterID,
		RequesterStatus: c.memberStatus(ctx, in.GuildID, in.Requester.ID),
		Content:         content,
		CreatedAt:       now,
		ExpiresAt:       now.Add(c.config.Rules.ContactTimeout),
		state:           ContactInitiated,
	}
	logger = logger.With("contact_request", req.ID)

	// registered before the prompt is sent, so a decision can't arrive
	// for an unknown request
	req.transition(ContactInitiated, ContactAwaitingApproval)
	c.contacts.add(req)

	prompt, err := c.discord.sendPrivateMessage(
		posterID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				contactPromptEmbed(in.Requester, req.RequesterStatus, req.Content, now),
			},
			Components: contactPromptComponents(req.ID),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		req.transition(ContactAwaitingApproval, ContactUndelivered)
		c.contacts.remove(req.ID)
		logger.WarnContext(ctx, "unable to deliver DM request", tint.Err(err))
		return req, fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
	}

	req.mu.Lock()
	req.promptChannelID = prompt.ChannelID
	req.promptMessageID = prompt.ID
	if req.state == ContactAwaitingApproval {
		req.timer = time.AfterFunc(
			c.config.Rules.ContactTimeout,
			func() {
				c.expireContact(context.WithoutCancel(ctx), req)
			},
		)
	}
	req.mu.Unlock()

	logger.InfoContext(ctx, "sent DM request", "request", req)
	return req, nil
}

// expireContact times out the request, if it's still awaiting a
// decision, and removes the buttons from its prompt
func (c *Confessional) expireContact(ctx context.Context, req *ContactRequest) {
	_, logger := c.getLogger(ctx)
	if !req.transition(ContactAwaitingApproval, ContactTimedOut) {
		return
	}
	c.contacts.remove(req.ID)
	logger.InfoContext(ctx, "DM request timed out", "request", req)

	req.mu.Lock()
	channelID, messageID := req.promptChannelID, req.promptMessageID
	req.mu.Unlock()
	if messageID == "" {
		return
	}

	content := contactExpired
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content)
	edit.Embeds = &[]*discordgo.MessageEmbed{}
	edit.Components = &[]discordgo.MessageComponent{}
	if _, err := c.discord.session.ChannelMessageEditComplex(edit); err != nil {
		logger.WarnContext(ctx, "unable to remove expired DM request buttons", tint.Err(err))
	}
}

// DecideContact applies the poster's decision to a pending request.
//
// On accept, the request's message is delivered to the requester as an
// anonymous DM, opening a DM channel between them and the bot. On refuse, the requester is told their request was
// refused. Either way the request is closed, even if that DM
// fails ([ErrDeliveryFailure]).
func (c *Confessional) DecideContact(
	ctx context.Context,
	requestID string,
	actorID string,
	decision Decision,
) (*ContactRequest, error) {
	ctx, logger := c.getLogger(ctx)

	req, ok := c.contacts.get(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestClosed, requestID)
	}
	if err := req.decide(actorID, decision); err != nil {
		logger.WarnContext(
			ctx,
			"rejected DM request decision",
			tint.Err(err),
			"request", req,
			"actor_id", actorID,
		)
		return req, err
	}
	c.contacts.remove(req.ID)
	logger.InfoContext(ctx, "DM request decided", "request", req, "decision", decision.String())

	switch decision {
	case DecisionAccept:
		_, err := c.discord.sendPrivateMessage(
			req.RequesterID,
			&discordgo.MessageSend{
				Embeds: []*discordgo.MessageEmbed{anonymousDMEmbed(req.Content)},
			},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return req, fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
		}
	case DecisionRefuse:
		_, err := c.discord.sendPrivateMessage(
			req.RequesterID,
			&discordgo.MessageSend{Content: contactRefusedDM},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			// the requester has DMs closed. the decision still stands
			logger.WarnContext(ctx, "unable to notify requester of refusal", tint.Err(err))
		}
	}
	return req, nil
}

// memberStatus returns the requester's role mentions, shown to the
// poster with a DM request
func (c *Confessional) memberStatus(ctx context.Context, guildID string, userID string) string {
	if guildID == "" {
		return noRolesStatus
	}
	member, err := c.discord.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		_, logger := c.getLogger(ctx)
		logger.WarnContext(ctx, "unable to get member roles", tint.Err(err), "user_id", userID)
		return noRolesStatus
	}
	mentions := make([]string, 0, len(member.Roles))
	for _, roleID := range member.Roles {
		// @everyone shares the guild's ID
		if roleID == guildID {
			continue
		}
		mentions = append(mentions, roleMention(roleID))
	}
	if len(mentions) == 0 {
		return noRolesStatus
	}
	return strings.Join(mentions, " ")
}
