package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic layout:
//
//	grayaudio/state/zone/{index}/{field}      retained, one topic per field
//	grayaudio/state/client/{index}/{field}    retained, one topic per field
//	grayaudio/command/zone/{index}/{op}       inbound commands
//	grayaudio/command/client/{index}/{op}     inbound commands
//	grayaudio/system/status                   retained online/offline
//	grayaudio/system/reconcile                last reconcile pass summary
const (
	// TopicPrefix is the base for all audio core topics.
	TopicPrefix = "grayaudio"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "grayaudio/system"
)

// Topics provides builders for the core's MQTT topics. Using these
// helpers keeps topic naming consistent across publishers and bridges.
type Topics struct{}

// ZoneState returns the retained state topic for one zone field.
//
// Example: grayaudio/state/zone/1/volume
func (Topics) ZoneState(index int, field string) string {
	return fmt.Sprintf("%s/state/zone/%d/%s", TopicPrefix, index, field)
}

// ClientState returns the retained state topic for one client field.
//
// Example: grayaudio/state/client/2/connected
func (Topics) ClientState(index int, field string) string {
	return fmt.Sprintf("%s/state/client/%d/%s", TopicPrefix, index, field)
}

// ZoneCommand returns the command topic for one zone operation.
//
// Example: grayaudio/command/zone/1/set_volume
func (Topics) ZoneCommand(index int, operation string) string {
	return fmt.Sprintf("%s/command/zone/%d/%s", TopicPrefix, index, operation)
}

// ClientCommand returns the command topic for one client operation.
//
// Example: grayaudio/command/client/3/set_latency
func (Topics) ClientCommand(index int, operation string) string {
	return fmt.Sprintf("%s/command/client/%d/%s", TopicPrefix, index, operation)
}

// SystemStatus returns the retained system status topic.
//
// Example: grayaudio/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemReconcile returns the topic for reconcile pass summaries.
//
// Example: grayaudio/system/reconcile
func (Topics) SystemReconcile() string {
	return fmt.Sprintf("%s/reconcile", TopicPrefixSystem)
}

// AllZoneCommands returns a pattern matching every zone command.
//
// Pattern: grayaudio/command/zone/+/+
func (Topics) AllZoneCommands() string {
	return fmt.Sprintf("%s/command/zone/+/+", TopicPrefix)
}

// AllClientCommands returns a pattern matching every client command.
//
// Pattern: grayaudio/command/client/+/+
func (Topics) AllClientCommands() string {
	return fmt.Sprintf("%s/command/client/+/+", TopicPrefix)
}

// AllTopics returns a pattern matching all audio core topics.
// Use with caution, this receives ALL traffic.
//
// Pattern: grayaudio/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// CommandTopic is a parsed inbound command topic.
type CommandTopic struct {
	Target    string // "zone" or "client"
	Index     int
	Operation string
}

// ParseCommandTopic splits an inbound command topic into its parts.
// Returns ErrInvalidTopic for anything not of the form
// grayaudio/command/{zone|client}/{index}/{operation}.
func ParseCommandTopic(topic string) (CommandTopic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[1] != "command" {
		return CommandTopic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if parts[2] != "zone" && parts[2] != "client" {
		return CommandTopic{}, fmt.Errorf("%w: unknown target %q", ErrInvalidTopic, parts[2])
	}
	index, err := strconv.Atoi(parts[3])
	if err != nil || index < 1 {
		return CommandTopic{}, fmt.Errorf("%w: bad index %q", ErrInvalidTopic, parts[3])
	}
	if parts[4] == "" {
		return CommandTopic{}, fmt.Errorf("%w: empty operation", ErrInvalidTopic)
	}
	return CommandTopic{
		Target:    parts[2],
		Index:     index,
		Operation: parts[4],
	}, nil
}
