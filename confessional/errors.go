package confessional

import (
	"errors"
)

var (
	// ErrValidation indicates user input with a bad length or shape
	ErrValidation = errors.New("invalid input")

	// ErrCooldown indicates the user posted too recently
	ErrCooldown = errors.New("on cooldown")

	// ErrUnknownRole indicates a "looking for" label with no configured role
	ErrUnknownRole = errors.New("unknown role")

	// ErrAuthorNotFound indicates no authorship record exists for a message,
	// generally because the bot restarted since it was posted
	ErrAuthorNotFound = errors.New("author not found")

	// ErrAuthorExists is returned when recording a second author for
	// the same message
	ErrAuthorExists = errors.New("author already recorded")

	// ErrUnauthorized indicates someone other than the poster tried to
	// decide a contact request
	ErrUnauthorized = errors.New("not allowed to make this decision")

	// ErrRequestClosed indicates a contact request that's already been
	// accepted, refused, or timed out (or never existed)
	ErrRequestClosed = errors.New("contact request closed")

	// ErrAvatarUnavailable indicates the avatar couldn't be fetched,
	// decoded or stored
	ErrAvatarUnavailable = errors.New("avatar unavailable")

	// ErrDeliveryFailure indicates a private message couldn't be delivered
	ErrDeliveryFailure = errors.New("private message delivery failed")

	// ErrLogChannelUnavailable indicates the moderation channel is missing
	// or can't be written to
	ErrLogChannelUnavailable = errors.New("moderation log channel unavailable")
)

// userErrorMessages maps each user-facing error to the ephemeral message
// sent in response
var userErrorMessages = []struct {
	err     error
	message string
}{
	{ErrCooldown, "⏳ Slow down."},
	{ErrValidation, "❌ That message is empty or too long."},
	{ErrUnknownRole, "❌ That role isn't available right now."},
	{ErrAuthorNotFound, "❌ User not found."},
	{ErrUnauthorized, "❌ You are not allowed to make this decision."},
	{ErrRequestClosed, "⌛ This DM request is no longer active."},
	{ErrDeliveryFailure, "❌ Failed to send DM."},
	{ErrLogChannelUnavailable, "❌ Reports aren't available right now."},
}

// userErrorMessage returns the message shown to a user for the given error
func userErrorMessage(err error) string {
	for _, m := range userErrorMessages {
		if errors.Is(err, m.err) {
			return m.message
		}
	}
	return DefaultErrorMessage
}
