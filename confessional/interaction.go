package confessional

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"runtime/debug"
	"strings"
)

// handleInteraction routes a gateway interaction to the workflow its
// custom_id (or command name) names, and responds to it
func (c *Confessional) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	defer func() {
		if rc := recover(); rc != nil {
			c.handleRecover(ctx, rc)
		}
	}()
	c.discord.metricInteractions.Add(1)

	logger := c.discord.logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	user := getDiscordUser(i)
	if user == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	if user.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user_id", user.ID)
		return
	}
	logger = logger.With("user_id", user.ID)
	ctx = WithLogger(ctx, logger)
	logger.DebugContext(ctx, "received interaction")

	var resp *discordgo.InteractionResponse
	switch i.Type {
	case discordgo.InteractionPing:
		resp = &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong}
	case discordgo.InteractionApplicationCommand:
		resp = c.responseToCommand(ctx, i)
	case discordgo.InteractionMessageComponent:
		resp = c.responseToComponent(ctx, i, user)
	case discordgo.InteractionModalSubmit:
		c.handleModalSubmit(ctx, i, user)
		return
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
		return
	}
	if resp == nil {
		return
	}
	if err := c.discord.session.InteractionRespond(i.Interaction, resp); err != nil {
		logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

func (c *Confessional) handleRecover(ctx context.Context, r any) {
	_, logger := c.getLogger(ctx)
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		tint.Err(fmt.Errorf("%v", r)),
		"stack", string(debug.Stack()),
	)
}

func (c *Confessional) responseToCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) *discordgo.InteractionResponse {
	name := i.ApplicationCommandData().Name
	if name != SlashCommandPanel {
		_, logger := c.getLogger(ctx)
		logger.WarnContext(ctx, "unknown command", "command", name)
		return ephemeralResponse(DefaultErrorMessage)
	}
	return c.roleSelectResponse()
}

func (c *Confessional) roleSelectResponse() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    roleSelectMessage,
			Components: roleSelectComponents(c.config.Roles),
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	}
}

// responseToComponent handles a button press or select menu choice.
// Post action buttons whose custom_id has no message ID yet act on the
// message they're attached to.
func (c *Confessional) responseToComponent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) *discordgo.InteractionResponse {
	_, logger := c.getLogger(ctx)
	data := i.MessageComponentData()
	customID, err := decodeCustomID(data.CustomID)
	if err != nil {
		logger.WarnContext(ctx, "unrecognized component", tint.Err(err))
		return ephemeralResponse(DefaultErrorMessage)
	}
	targetID := customID.ID
	if targetID == "" && i.Message != nil {
		targetID = i.Message.ID
	}

	rules := c.config.Rules
	switch customID.Action {
	case ActionPost:
		return c.roleSelectResponse()
	case ActionSelectRole:
		if len(data.Values) == 0 {
			return ephemeralResponse(userErrorMessage(ErrUnknownRole))
		}
		return postModal(data.Values[0], rules.MaxLength)
	case ActionReply:
		return replyModal(targetID, rules.ReplyMaxLength)
	case ActionDM:
		// checked again on submit, but this saves filling out the form
		if _, ok := c.store.Author(targetID); !ok {
			return ephemeralResponse(userErrorMessage(ErrAuthorNotFound))
		}
		return contactModal(targetID, rules.ContactMaxLength)
	case ActionReport:
		_, err = c.ReportMessage(
			ctx, ReportInput{
				Reporter:  user,
				GuildID:   i.GuildID,
				ChannelID: i.ChannelID,
				MessageID: targetID,
			},
		)
		if err != nil {
			logger.ErrorContext(ctx, "error reporting message", tint.Err(err))
			return ephemeralResponse(userErrorMessage(err))
		}
		return ephemeralResponse(reportSentMessage)
	case ActionAccept, ActionRefuse:
		decision := DecisionAccept
		if customID.Action == ActionRefuse {
			decision = DecisionRefuse
		}
		return c.responseToDecision(ctx, customID.ID, user, decision)
	default:
		logger.WarnContext(ctx, "unexpected component action", "action", customID.Action)
		return ephemeralResponse(DefaultErrorMessage)
	}
}

// responseToDecision applies a poster's accept/refuse. Once a decision
// is made, the prompt's buttons are replaced with the outcome.
func (c *Confessional) responseToDecision(
	ctx context.Context,
	requestID string,
	user *discordgo.User,
	decision Decision,
) *discordgo.InteractionResponse {
	_, err := c.DecideContact(ctx, requestID, user.ID, decision)
	switch {
	case err == nil && decision == DecisionAccept:
		return clearedMessageResponse(contactAccepted)
	case err == nil:
		return clearedMessageResponse(contactRefused)
	case errors.Is(err, ErrDeliveryFailure):
		return clearedMessageResponse(contactFailedPrompt)
	default:
		return ephemeralResponse(userErrorMessage(err))
	}
}

// handleModalSubmit acknowledges a submitted form, runs the workflow it
// belongs to, then edits the acknowledgement with the outcome
func (c *Confessional) handleModalSubmit(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	_, logger := c.getLogger(ctx)
	data := i.ModalSubmitData()
	customID, err := decodeCustomID(data.CustomID)
	if err != nil {
		logger.WarnContext(ctx, "unrecognized modal", tint.Err(err))
		if respErr := c.discord.session.InteractionRespond(
			i.Interaction,
			ephemeralResponse(DefaultErrorMessage),
		); respErr != nil {
			logger.ErrorContext(ctx, "error responding to modal", tint.Err(respErr))
		}
		return
	}
	content, _ := textInputValue(data, textInputContent)

	if err = c.discord.session.InteractionRespond(
		i.Interaction,
		deferredEphemeralResponse(),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging modal", tint.Err(err))
		return
	}

	var message string
	switch customID.Action {
	case ActionPostModal:
		message = postedMessage
		_, err = c.SubmitPost(
			ctx, PostRequest{
				User:      user,
				GuildID:   i.GuildID,
				RoleLabel: customID.ID,
				Content:   content,
			},
		)
	case ActionReplyModal:
		message = replySentMessage
		_, err = c.Reply(ctx, i.ChannelID, content)
	case ActionDMModal:
		message = contactSentMessage
		_, err = c.RequestContact(
			ctx, ContactInput{
				Requester: user,
				GuildID:   i.GuildID,
				MessageID: customID.ID,
				Content:   content,
			},
		)
	default:
		err = fmt.Errorf("unexpected modal action: %s", customID.Action)
	}
	if err != nil {
		logger.WarnContext(ctx, "modal workflow failed", tint.Err(err), "action", customID.Action)
		message = userErrorMessage(err)
	}

	if _, err = c.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &message},
	); err != nil {
		logger.ErrorContext(ctx, "error editing modal response", tint.Err(err))
	}
}

// textCommand returns the text command that posts the launcher
func (c *Confessional) textCommand() string {
	return c.config.Discord.CommandPrefix + c.config.Discord.CommandName
}

// handleMessage posts the launcher message (with the Post/Reply/DM/Report
// buttons) in response to the text command, then deletes the command
func (c *Confessional) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	defer func() {
		if rc := recover(); rc != nil {
			c.handleRecover(ctx, rc)
		}
	}()
	if m.Author == nil || m.Author.Bot {
		return
	}
	if strings.TrimSpace(m.Content) != c.textCommand() {
		return
	}
	logger := c.discord.logger.With(
		"channel_id", m.ChannelID,
		"message_id", m.ID,
		"user_id", m.Author.ID,
	)

	_, err := c.discord.session.ChannelMessageSendComplex(
		m.ChannelID,
		&discordgo.MessageSend{
			Content:    launcherMessage,
			Components: actionComponents(""),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error sending launcher", tint.Err(err))
		return
	}
	logger.InfoContext(ctx, "sent launcher")

	if c.config.Rules.DeleteCommand {
		if err = c.discord.session.ChannelMessageDelete(
			m.ChannelID,
			m.ID,
			discordgo.WithContext(ctx),
		); err != nil {
			logger.WarnContext(ctx, "error deleting command message", tint.Err(err))
		}
	}
}
