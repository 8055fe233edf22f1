package slackcmd

import (
	"regexp"
	"strings"
)

// Canned easter-egg replies, matched before the turn pipeline runs. Pure
// presentation; these turns are never screened, remembered, or traced.
type cannedRule struct {
	pattern *regexp.Regexp
	reply   string
}

var cannedRules = []cannedRule{
	{
		pattern: regexp.MustCompile(`(?i)\bfully\s+functional\b`),
		reply:   "I am programmed in multiple techniques. However, my conversational subroutines are the only ones on duty today.",
	},
	{
		pattern: regexp.MustCompile(`(?i)\bwho\s+are\s+you\b`),
		reply:   "I am Data. I am an artificial conversational entity, here to answer questions and generate the occasional image.",
	},
	{
		pattern: regexp.MustCompile(`(?i)\bcan\s+you\s+feel\b|\bdo\s+you\s+have\s+(feelings|emotions)\b`),
		reply:   "I am not capable of emotion, although I have an emotion chip somewhere in a drawer.",
	},
	{
		pattern: regexp.MustCompile(`(?i)^\s*help\s*$`),
		reply: strings.Join([]string{
			"Greetings. I am Data. You can:",
			"• Send me a message and I will reply (I remember our last ten exchanges for a day).",
			"• Use `/image <description>` to have me generate an image.",
			"• Rate any of my replies with the buttons underneath it.",
		}, "\n"),
	},
}

func cannedReply(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, rule := range cannedRules {
		if rule.pattern.MatchString(text) {
			return rule.reply, true
		}
	}
	return "", false
}
