package mqtt

import "strings"

// Topic layout under a room prefix:
//
//	<prefix>/trigger/<source>   node → control, payload is the event name
//	<prefix>/status/<node>      node → control, payload is the status
//	<prefix>/relay/<node>       control → node, payload is the message

func TriggerTopic(prefix, source string) string { return prefix + "/trigger/" + source }

func StatusTopic(prefix, node string) string { return prefix + "/status/" + node }

func RelayTopic(prefix, node string) string { return prefix + "/relay/" + node }

// TriggerFilter matches triggers from every node.
func TriggerFilter(prefix string) string { return prefix + "/trigger/+" }

// StatusFilter matches status pushes from every node.
func StatusFilter(prefix string) string { return prefix + "/status/+" }

// lastSegment returns the node name at the end of a topic.
func lastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
