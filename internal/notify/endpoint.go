package notify

import (
	"fmt"
	"strings"
)

// Channel endpoints for some kinds are compound strings with |-separated
// segments, parsed once at adapter construction.

// ZulipEndpoint is the parsed form of "https://host/api/v1/messages|bot-email|api-key".
type ZulipEndpoint struct {
	URL   string
	Email string
	Key   string
}

// ParseZulipEndpoint splits a zulip endpoint into URL and bot credentials.
func ParseZulipEndpoint(s string) (ZulipEndpoint, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ZulipEndpoint{}, fmt.Errorf("%w: zulip endpoint wants url|email|key", ErrBadEndpoint)
	}
	return ZulipEndpoint{URL: parts[0], Email: parts[1], Key: parts[2]}, nil
}

// WhatsAppEndpoint is the parsed form of
// "https://graph.facebook.com/v18.0/NUMBER_ID|ACCESS_TOKEN".
type WhatsAppEndpoint struct {
	BaseURL string
	Token   string
}

// ParseWhatsAppEndpoint splits a WhatsApp Cloud API endpoint into base URL
// and bearer token.
func ParseWhatsAppEndpoint(s string) (WhatsAppEndpoint, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return WhatsAppEndpoint{}, fmt.Errorf("%w: whatsapp endpoint wants base-url|token", ErrBadEndpoint)
	}
	return WhatsAppEndpoint{BaseURL: parts[0], Token: parts[1]}, nil
}

// KafkaEndpoint is the parsed form of "broker1:9092,broker2:9092|topic".
type KafkaEndpoint struct {
	Brokers []string
	Topic   string
}

// ParseKafkaEndpoint splits a kafka endpoint into broker list and topic.
func ParseKafkaEndpoint(s string) (KafkaEndpoint, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return KafkaEndpoint{}, fmt.Errorf("%w: kafka endpoint wants brokers|topic", ErrBadEndpoint)
	}
	var brokers []string
	for _, b := range strings.Split(parts[0], ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return KafkaEndpoint{}, fmt.Errorf("%w: kafka endpoint has no brokers", ErrBadEndpoint)
	}
	return KafkaEndpoint{Brokers: brokers, Topic: parts[1]}, nil
}
