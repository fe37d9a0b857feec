package confessional

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
	"time"
)

const (
	DefaultErrorMessage = "sorry, something went wrong!"

	postEmbedColor      = 0xf33870
	postEmbedTitle      = "Anonymous"
	postEmbedFooter     = "Anonymous sent"
	avatarAttachment    = "avatar.png"
	noRolesStatus       = "No roles"
	launcherMessage     = "📝 Start an anonymous message:"
	roleSelectMessage   = "📝 Select who you're looking for:"
	roleSelectHint      = "Looking for..."
	postedMessage       = "✅ Message posted."
	replySentMessage    = "✅ Reply sent."
	reportSentMessage   = "✅ Report sent."
	contactSentMessage  = "⏳ DM request sent to the poster. Waiting for approval…"
	contactAccepted     = "✅ You accepted the DM request."
	contactRefused      = "❌ You refused the DM request."
	contactExpired      = "⌛ This DM request expired."
	contactRefusedDM    = "❌ Your DM request was refused by the user."
	contactFailedPrompt = "❌ Failed to send DM."

	// textInputContent is the custom ID of the single text input in
	// every modal
	textInputContent = "content"

	// discordModalTitleMaxLength is the maximum length of a modal title
	discordModalTitleMaxLength = 45
)

var (
	colorReply   = 0x5865f2
	colorDM      = 0x57f287
	colorRequest = 0xe67e22
	colorReport  = 0xed4245
	colorPostLog = 0x95a5a6
)

// Action identifies what a message component or modal does. It's the
// first segment of every custom_id the bot sets.
type Action string

const (
	ActionPost        Action = "post"
	ActionReply       Action = "reply"
	ActionDM          Action = "dm"
	ActionReport      Action = "report"
	ActionSelectRole  Action = "role_select"
	ActionAccept      Action = "dm_accept"
	ActionRefuse      Action = "dm_refuse"
	ActionPostModal   Action = "modal_post"
	ActionReplyModal  Action = "modal_reply"
	ActionDMModal     Action = "modal_dm"
	SlashCommandPanel        = "confess"
)

var knownActions = map[Action]bool{
	ActionPost:       true,
	ActionReply:      true,
	ActionDM:         true,
	ActionReport:     true,
	ActionSelectRole: true,
	ActionAccept:     true,
	ActionRefuse:     true,
	ActionPostModal:  true,
	ActionReplyModal: true,
	ActionDMModal:    true,
}

// CustomID is a decoded `custom_id` of a component or modal. ID is the
// action's argument: a message ID for post actions, a request ID for
// DM request decisions, a role label for the post modal. It may be empty
// (ex: buttons on a message that haven't been bound to its ID yet).
type CustomID struct {
	Action Action
	ID     string
}

func (c CustomID) String() string {
	return fmt.Sprintf("%s:%s", c.Action, c.ID)
}

// decodeCustomID parses a custom_id set by [CustomID.String]
func decodeCustomID(customID string) (CustomID, error) {
	action, id, ok := strings.Cut(customID, ":")
	if !ok {
		return CustomID{}, fmt.Errorf("invalid custom_id format: %q", customID)
	}
	if !knownActions[Action(action)] {
		return CustomID{}, fmt.Errorf("unknown action: %q", action)
	}
	return CustomID{Action: Action(action), ID: id}, nil
}

// actionComponents returns the Post/Reply/DM/Report buttons attached to
// anonymous posts, bound to the given message ID
func actionComponents(messageID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Post",
					Style:    discordgo.SuccessButton,
					CustomID: CustomID{Action: ActionPost, ID: messageID}.String(),
				},
				discordgo.Button{
					Label:    "Reply",
					Style:    discordgo.PrimaryButton,
					CustomID: CustomID{Action: ActionReply, ID: messageID}.String(),
				},
				discordgo.Button{
					Label:    "DM",
					Style:    discordgo.SecondaryButton,
					CustomID: CustomID{Action: ActionDM, ID: messageID}.String(),
				},
				discordgo.Button{
					Label:    "Report",
					Style:    discordgo.DangerButton,
					CustomID: CustomID{Action: ActionReport, ID: messageID}.String(),
				},
			},
		},
	}
}

// roleSelectComponents returns the "Looking for..." select menu
func roleSelectComponents(roles RoleMapping) []discordgo.MessageComponent {
	options := make([]discordgo.SelectMenuOption, 0, len(roles))
	for _, label := range roles.Labels() {
		if len(options) == discordMaxSelectOptions {
			break
		}
		options = append(
			options,
			discordgo.SelectMenuOption{Label: label, Value: label},
		)
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    CustomID{Action: ActionSelectRole}.String(),
					Placeholder: roleSelectHint,
					Options:     options,
				},
			},
		},
	}
}

// contactPromptComponents returns the Accept/Refuse buttons sent to a
// poster with a DM request
func contactPromptComponents(requestID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Accept DM",
					Style:    discordgo.SuccessButton,
					CustomID: CustomID{Action: ActionAccept, ID: requestID}.String(),
				},
				discordgo.Button{
					Label:    "Refuse DM",
					Style:    discordgo.DangerButton,
					CustomID: CustomID{Action: ActionRefuse, ID: requestID}.String(),
				},
			},
		},
	}
}

// textModalResponse returns an interaction response with a modal holding
// a single paragraph text input
func textModalResponse(
	customID CustomID,
	title string,
	label string,
	maxLength int,
) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID.String(),
			Title:    truncate(title, discordModalTitleMaxLength),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:  textInputContent,
							Label:     label,
							Style:     discordgo.TextInputParagraph,
							Required:  true,
							MinLength: 1,
							MaxLength: maxLength,
						},
					},
				},
			},
		},
	}
}

func postModal(roleLabel string, maxLength int) *discordgo.InteractionResponse {
	return textModalResponse(
		CustomID{Action: ActionPostModal, ID: roleLabel},
		"Anonymous Message",
		"Message",
		maxLength,
	)
}

func replyModal(messageID string, maxLength int) *discordgo.InteractionResponse {
	return textModalResponse(
		CustomID{Action: ActionReplyModal, ID: messageID},
		"Anonymous Reply",
		"Reply",
		maxLength,
	)
}

func contactModal(messageID string, maxLength int) *discordgo.InteractionResponse {
	return textModalResponse(
		CustomID{Action: ActionDMModal, ID: messageID},
		"Send DM Request",
		"Your message",
		maxLength,
	)
}

func roleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

func postEmbed(post *AnonymousPost) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: postEmbedTitle,
		Description: fmt.Sprintf(
			"%s\n\n🔎 Looking for: %s",
			post.Content,
			roleMention(post.RoleID),
		),
		Color:     postEmbedColor,
		Timestamp: post.CreatedAt.Format(time.RFC3339),
		Author:    &discordgo.MessageEmbedAuthor{Name: fmt.Sprintf("Message #%d", post.Sequence)},
		Footer:    &discordgo.MessageEmbedFooter{Text: postEmbedFooter},
	}
}

func replyEmbed(content string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "💬 Anonymous Reply",
		Description: content,
		Color:       colorReply,
	}
}

func contactPromptEmbed(
	requester *discordgo.User,
	status string,
	content string,
	now time.Time,
) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "📩 DM Request",
		Description: fmt.Sprintf(
			"%s wants to send you a DM.\n\n**Status:**\n%s",
			requester.Mention(),
			status,
		),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "💌 Message", Value: content},
		},
		Color:     colorRequest,
		Timestamp: now.Format(time.RFC3339),
	}
}

func anonymousDMEmbed(content string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "📩 Anonymous DM",
		Description: content,
		Color:       colorDM,
	}
}

func reportEmbed(link string, reporter *discordgo.User, now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:     "⚠️ Reported Message",
		Color:     colorReport,
		Timestamp: now.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "🔗 Message Link", Value: link},
			{Name: "👤 Reporter", Value: reporter.Mention()},
		},
	}
}

func postLogEmbed(post *AnonymousPost, author *discordgo.User) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("🧾 Confession #%d", post.Sequence),
		Description: fmt.Sprintf(
			"👤 Author: %s\n📨 Message ID: %s\n🔎 Looking for: %s\n🕒 Time: <t:%d:f>",
			author.Mention(),
			post.MessageID,
			post.RoleLabel,
			post.CreatedAt.Unix(),
		),
		Color: colorPostLog,
	}
}

// ephemeralResponse returns an interaction response with the given
// message, visible only to the user who triggered the interaction
func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// deferredEphemeralResponse acknowledges an interaction which will be
// answered later with an edit
func deferredEphemeralResponse() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	}
}

// clearedMessageResponse replaces the message a component is attached to
// with plain text, removing its embeds and components
func clearedMessageResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Embeds:     []*discordgo.MessageEmbed{},
			Components: []discordgo.MessageComponent{},
		},
	}
}
