package confessional

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// ReportInput identifies a reported message and who reported it
type ReportInput struct {
	Reporter  *discordgo.User
	GuildID   string
	ChannelID string
	MessageID string
}

// ReportMessage sends a permalink to the reported message, and the
// reporter, to the mod log channel. The post's author isn't revealed.
//
// When a database is configured, the report is also recorded there. That
// write is best-effort, and doesn't fail the report.
func (c *Confessional) ReportMessage(ctx context.Context, in ReportInput) (*Report, error) {
	ctx, logger := c.getLogger(ctx)

	if in.Reporter == nil || in.MessageID == "" {
		return nil, fmt.Errorf("%w: missing reporter or message", ErrValidation)
	}
	if c.config.Channels.ModLog == "" {
		return nil, fmt.Errorf("%w: no channel configured", ErrLogChannelUnavailable)
	}

	report := &Report{
		GuildID:    in.GuildID,
		ChannelID:  in.ChannelID,
		MessageID:  in.MessageID,
		ReporterID: in.Reporter.ID,
		Link:       messageLink(in.GuildID, in.ChannelID, in.MessageID),
	}

	msg, err := c.discord.session.ChannelMessageSendComplex(
		c.config.Channels.ModLog,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				reportEmbed(report.Link, in.Reporter, c.now()),
			},
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{},
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogChannelUnavailable, err)
	}
	report.LogMessageID = msg.ID
	logger.InfoContext(ctx, "reported message", "report", report)

	if c.reports != nil {
		if dbErr := c.reports.Record(context.WithoutCancel(ctx), report); dbErr != nil {
			logger.WarnContext(ctx, "report sent but not recorded", tint.Err(dbErr))
		}
	}
	return report, nil
}
