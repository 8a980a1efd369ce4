package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseZulipEndpoint(t *testing.T) {
	ep, err := ParseZulipEndpoint("https://chat.example.com/api/v1/messages|bot@example.com|secret")
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/api/v1/messages", ep.URL)
	assert.Equal(t, "bot@example.com", ep.Email)
	assert.Equal(t, "secret", ep.Key)

	for _, bad := range []string{"", "https://chat.example.com", "a|b", "a|b|c|d", "|b|c"} {
		_, err := ParseZulipEndpoint(bad)
		assert.ErrorIs(t, err, ErrBadEndpoint, "input %q", bad)
	}
}

func TestParseWhatsAppEndpoint(t *testing.T) {
	ep, err := ParseWhatsAppEndpoint("https://graph.facebook.com/v18.0/12345|token-abc")
	require.NoError(t, err)
	assert.Equal(t, "https://graph.facebook.com/v18.0/12345", ep.BaseURL)
	assert.Equal(t, "token-abc", ep.Token)

	for _, bad := range []string{"", "no-token", "a|b|c", "|token"} {
		_, err := ParseWhatsAppEndpoint(bad)
		assert.ErrorIs(t, err, ErrBadEndpoint, "input %q", bad)
	}
}

func TestParseKafkaEndpoint(t *testing.T) {
	ep, err := ParseKafkaEndpoint("broker1:9092, broker2:9092|quake-alerts")
	require.NoError(t, err)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, ep.Brokers)
	assert.Equal(t, "quake-alerts", ep.Topic)

	for _, bad := range []string{"", "broker1:9092", "|topic", " , |topic"} {
		_, err := ParseKafkaEndpoint(bad)
		assert.ErrorIs(t, err, ErrBadEndpoint, "input %q", bad)
	}
}
