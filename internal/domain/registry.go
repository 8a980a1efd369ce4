package domain

import "time"

// ChannelKind selects the adapter used to deliver events to a channel.
type ChannelKind string

const (
	KindDiscord  ChannelKind = "discord"
	KindZulip    ChannelKind = "zulip"
	KindWhatsApp ChannelKind = "whatsapp"
	KindGeneric  ChannelKind = "generic"
	KindKafka    ChannelKind = "kafka"
)

// ValidChannelKind reports whether k names a known adapter.
func ValidChannelKind(k ChannelKind) bool {
	switch k {
	case KindDiscord, KindZulip, KindWhatsApp, KindGeneric, KindKafka:
		return true
	}
	return false
}

// Channel is a registered delivery target. Name and Endpoint are unique.
// Only the dispatcher mutates LastDeliveredAt, and only after a confirmed send.
type Channel struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	Endpoint        string      `json:"endpoint"`
	Kind            ChannelKind `json:"kind"`
	LastDeliveredAt *time.Time  `json:"last_delivered_at"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Poll is a named cohort of templated-message recipients gated by a
// magnitude floor. Events with no resolvable magnitude are never forwarded
// to any poll.
type Poll struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Kind         string    `json:"kind"` // currently always "whatsapp"
	MinMagnitude float64   `json:"min_magnitude"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recipient is one member of at most one poll, identified by phone number.
type Recipient struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	PollName        *string    `json:"poll_name"`
	LastDeliveredAt *time.Time `json:"last_delivered_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Receipt tracks one outbound templated send for a (recipient, poll) pair.
// The retention sweep keeps only the most recently created receipt per pair.
type Receipt struct {
	ID          string    `json:"id"` // provider-assigned message id, or a local failure id
	RecipientID int64     `json:"recipient_id"`
	PollName    string    `json:"poll_name"`
	Delivered   bool      `json:"delivered"`
	Read        bool      `json:"is_read"`
	Reply       *string   `json:"reply"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
