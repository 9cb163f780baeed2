package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "lwaudit"

// Topics builds the topic names under one prefix.
//
//	topics := mqtt.NewTopics("lwaudit")
//	topics.AuditRecord("10.0.0.5") // "lwaudit/audit/10.0.0.5"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders for prefix. Trailing slashes are
// dropped; an empty prefix means DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	return t.prefix
}

// AuditRecord returns the topic for one device's audit records.
// The device label is made safe for use as a single topic level.
func (t Topics) AuditRecord(device string) string {
	return t.prefix + "/audit/" + topicLevel(device)
}

// AllAuditRecords returns the wildcard matching every device's records.
func (t Topics) AllAuditRecords() string {
	return t.prefix + "/audit/#"
}

// SystemStatus returns the retained online/offline status topic.
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}

var levelReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// topicLevel replaces the separator and wildcard characters.
func topicLevel(s string) string {
	if s == "" {
		return "_"
	}
	return levelReplacer.Replace(s)
}
