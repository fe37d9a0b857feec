package confessional

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"os"
	"time"
)

// PostState tracks an anonymous post through publication
type PostState int

const (
	// PostRendering means the post was sent, but its action buttons
	// don't reference its own message ID yet
	PostRendering PostState = iota

	// PostBound means the action buttons reference the post's message ID,
	// and its author is in the ledger
	PostBound
)

func (s PostState) String() string {
	switch s {
	case PostRendering:
		return "rendering"
	case PostBound:
		return "bound"
	default:
		return fmt.Sprintf("PostState(%d)", int(s))
	}
}

// AnonymousPost is a published anonymous message. It carries no
// reference to its author, who is only recorded in the [Store] ledger.
type AnonymousPost struct {
	Sequence     int64     `json:"sequence"`
	MessageID    string    `json:"message_id"`
	ChannelID    string    `json:"channel_id"`
	RoleLabel    string    `json:"role_label"`
	RoleID       string    `json:"role_id"`
	Content      string    `json:"content"`
	HasThumbnail bool      `json:"has_thumbnail"`
	State        PostState `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
}

func (p AnonymousPost) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("sequence", p.Sequence),
		slog.String("message_id", p.MessageID),
		slog.String("channel_id", p.ChannelID),
		slog.String("role_label", p.RoleLabel),
		slog.String("state", p.State.String()),
		slog.Bool("has_thumbnail", p.HasThumbnail),
	)
}

// PostRequest is a submitted anonymous post
type PostRequest struct {
	User      *discordgo.User
	GuildID   string
	RoleLabel string
	Content   string
}

// SubmitPost validates and publishes an anonymous post to the configured
// post channel, then records its author in the ledger.
//
// Nothing is mutated for a post rejected with [ErrValidation] or
// [ErrUnknownRole]. A post rejected with [ErrCooldown] leaves the
// existing cooldown in place. Once the cooldown starts, it isn't undone,
// even if sending fails afterward.
func (c *Confessional) SubmitPost(ctx context.Context, req PostRequest) (*AnonymousPost, error) {
	ctx, logger := c.getLogger(ctx)

	if req.User == nil {
		return nil, fmt.Errorf("%w: no user", ErrValidation)
	}
	content, ok := validateContent(req.Content, c.config.Rules.MaxLength)
	if !ok {
		return nil, fmt.Errorf(
			"%w: post must be 1-%d characters",
			ErrValidation,
			c.config.Rules.MaxLength,
		)
	}
	roleID, ok := c.config.Roles.RoleID(req.RoleLabel)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, req.RoleLabel)
	}

	if expiry, started := c.store.TryStartCooldown(req.User.ID); !started {
		logger.InfoContext(ctx, "user on cooldown", "user_id", req.User.ID, "expires", expiry)
		return nil, fmt.Errorf("%w: until %s", ErrCooldown, expiry.Format(time.RFC3339))
	}

	post := &AnonymousPost{
		Sequence:  c.store.NextSequence(),
		ChannelID: c.config.Channels.Post,
		RoleLabel: req.RoleLabel,
		RoleID:    roleID,
		Content:   content,
		State:     PostRendering,
		CreatedAt: c.now(),
	}

	embed := postEmbed(post)
	send := &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: actionComponents(""),
	}
	if c.config.Rules.BlockMentions {
		send.AllowedMentions = &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
			Roles: []string{roleID},
		}
	}

	avatarPath, err := c.avatars.Anonymize(ctx, req.User.ID, req.User.AvatarURL("256"))
	if err != nil {
		logger.WarnContext(ctx, "posting without thumbnail", tint.Err(err))
	} else {
		f, openErr := os.Open(avatarPath)
		if openErr != nil {
			logger.WarnContext(ctx, "posting without thumbnail", tint.Err(openErr))
		} else {
			defer func() {
				_ = f.Close()
			}()
			send.Files = []*discordgo.File{
				{Name: avatarAttachment, ContentType: "image/png", Reader: f},
			}
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{
				URL: "attachment://" + avatarAttachment,
			}
			post.HasThumbnail = true
		}
	}

	msg, err := c.discord.session.ChannelMessageSendComplex(
		post.ChannelID,
		send,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error sending post: %w", err)
	}
	post.MessageID = msg.ID
	if msg.ChannelID != "" {
		post.ChannelID = msg.ChannelID
	}

	if err = c.store.RecordAuthor(post.MessageID, req.User.ID); err != nil {
		// a fresh message ID is never already recorded
		logger.ErrorContext(ctx, "error recording author", tint.Err(err), "post", post)
		return post, err
	}

	// rebind the buttons to the message's own ID. until this succeeds,
	// button presses fall back to the ID of the message they're attached to
	components := actionComponents(post.MessageID)
	edit := discordgo.NewMessageEdit(post.ChannelID, post.MessageID)
	edit.Components = &components
	if _, err = c.discord.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		logger.ErrorContext(ctx, "error binding post actions", tint.Err(err), "post", post)
	} else {
		post.State = PostBound
	}

	logger.InfoContext(ctx, "published anonymous post", "post", post)

	if c.config.Rules.LogPosts {
		if logErr := c.logPost(ctx, post, req.User); logErr != nil {
			logger.ErrorContext(ctx, "error logging post", tint.Err(logErr))
		}
	}
	return post, nil
}

// logPost sends the post's author to the mod log channel
func (c *Confessional) logPost(ctx context.Context, post *AnonymousPost, author *discordgo.User) error {
	if c.config.Channels.ModLog == "" {
		return ErrLogChannelUnavailable
	}
	_, err := c.discord.session.ChannelMessageSendComplex(
		c.config.Channels.ModLog,
		&discordgo.MessageSend{
			Embeds:          []*discordgo.MessageEmbed{postLogEmbed(post, author)},
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLogChannelUnavailable, err)
	}
	return nil
}

// Reply posts an anonymous reply to the given channel. Replies aren't
// rate limited, and no authorship is recorded for them.
func (c *Confessional) Reply(ctx context.Context, channelID string, content string) (*discordgo.Message, error) {
	ctx, logger := c.getLogger(ctx)
	content, ok := validateContent(content, c.config.Rules.ReplyMaxLength)
	if !ok {
		return nil, fmt.Errorf(
			"%w: reply must be 1-%d characters",
			ErrValidation,
			c.config.Rules.ReplyMaxLength,
		)
	}
	if channelID == "" {
		return nil, errors.New("no channel to reply in")
	}
	msg, err := c.discord.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Embeds:          []*discordgo.MessageEmbed{replyEmbed(content)},
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error sending reply: %w", err)
	}
	logger.InfoContext(ctx, "sent anonymous reply", "channel_id", channelID, "message_id", msg.ID)
	return msg, nil
}
