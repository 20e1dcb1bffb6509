package depot

import (
	"fmt"
	"regexp"
)

// RequestOrigin identifies where a request came from. It is decided once at
// the front end boundary; the concrete types are Interactive and PassiveMessage.
type RequestOrigin interface {
	ContainerID() string
	GuildID() string
	// Private reports whether replies should be shown only to the requesting actor.
	Private() bool
	kind() string
}

// Interactive is an explicit command or context action by an actor.
type Interactive struct {
	Container string
	Guild     string
}

func (o Interactive) ContainerID() string { return o.Container }
func (o Interactive) GuildID() string     { return o.Guild }
func (o Interactive) Private() bool       { return true }
func (o Interactive) kind() string        { return "interactive" }

// PassiveMessage is a message the bot observed without being addressed.
type PassiveMessage struct {
	Container string
	Guild     string
}

func (o PassiveMessage) ContainerID() string { return o.Container }
func (o PassiveMessage) GuildID() string     { return o.Guild }
func (o PassiveMessage) Private() bool       { return false }
func (o PassiveMessage) kind() string        { return "passive" }

// originFromKind rebuilds an origin saved in a draft.
func originFromKind(kind, container, guild string) RequestOrigin {
	if kind == "passive" {
		return PassiveMessage{Container: container, Guild: guild}
	}
	return Interactive{Container: container, Guild: guild}
}

var locatorPattern = regexp.MustCompile(`^https://(?:(?:ptb|canary)\.)?discord(?:app)?\.com/channels/(\d+)/(\d+)/(\d+)/?$`)

// Locator is a parsed guild/channel/item address.
type Locator struct {
	GuildID   string
	ChannelID string
	ItemID    string
}

// ParseLocator parses a message link of the form
// https://discord.com/channels/<guild>/<channel>/<item>.
func ParseLocator(raw string) (Locator, error) {
	m := locatorPattern.FindStringSubmatch(raw)
	if m == nil {
		return Locator{}, newError(KindValidation, CodeMalformedLocator,
			"the link must point at a message: https://discord.com/channels/<server>/<channel>/<message>", nil)
	}
	return Locator{GuildID: m[1], ChannelID: m[2], ItemID: m[3]}, nil
}

// JumpLink builds a link to an item in a container.
func JumpLink(guildID, containerID, itemID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, containerID, itemID)
}

// ContainerLink builds a link to a container.
func ContainerLink(guildID, containerID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s", guildID, containerID)
}
