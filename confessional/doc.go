// Package confessional implements a Discord bot for anonymous posts.
//
// Members post through a launcher message (sent in response to the `!post`
// text command) or the /confess slash command: they pick who they're
// "looking for" from a role selector, then write their message in a modal.
// The bot republishes it in the configured channel under a sequence
// number, with a blurred copy of the author's avatar as its thumbnail.
//
// Key components:
//
//   - Confessional: owns the session, store and workflows, and runs the bot.
//   - Store: per-user cooldowns, the authorship ledger, the post counter.
//   - AvatarAnonymizer: fetches, blurs and caches avatar thumbnails.
//   - Discord: the discordgo session wrapper and gateway handlers.
//   - ReportLog: optional database of reports sent to moderators.
//   - API: optional status server.
//
// Every post carries Post, Reply, DM and Report buttons. A DM request is
// sent to the post's author, who can accept or refuse it without being
// identified; accepting delivers the request's message back to the
// requester as an anonymous DM.
//
// Nothing but reports is persisted. After a restart, existing posts can no
// longer be used to request a DM.
package confessional
