package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the bridge. Subscribers filter by namespace
// prefix, e.g. "conn." for everything connection-related.
const (
	KindConnStatusChanged = "conn.status_changed"
	KindConnPairingCode   = "conn.pairing_code"
	KindConnLoggedOut     = "conn.logged_out"

	KindMessageForwarded = "message.forwarded"
	KindMessageDropped   = "message.dropped"
	KindMessageSent      = "message.sent"
	KindMessageSendFail  = "message.send_failed"

	KindCredsPersisted = "creds.persisted"
	KindCredsRestored  = "creds.restored"
	KindCredsWiped     = "creds.wiped"
)
