package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/floomby/charlie/internal/dispatch"
)

// RegisterStatusCommand adds a /status command reporting who the agent can
// hear and how much speech is queued for playback.
func RegisterStatusCommand(r *CommandRouter, v *Voice, s *dispatch.Scheduler) {
	cmd := &discordgo.ApplicationCommand{
		Name:        "status",
		Description: "Show who the agent is listening to and its playback queue",
	}
	r.RegisterCommand(cmd, func(sess *discordgo.Session, i *discordgo.InteractionCreate) {
		roster := v.Roster()
		listening := "nobody"
		if len(roster) > 0 {
			listening = strings.Join(roster, ", ")
		}
		RespondEphemeral(sess, i, fmt.Sprintf(
			"Listening to: %s\nQueued responses: %d", listening, s.QueueLen()))
	})
}
