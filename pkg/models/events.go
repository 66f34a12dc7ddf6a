package models

type EventType string

const (
	EventTransactionConfirmedKey EventType = "enrollment.transaction.confirmed"
	EventTransactionFailedKey    EventType = "enrollment.transaction.failed"
	EventTransactionExpiredKey   EventType = "enrollment.transaction.expired"
	EventProfileCreatedKey       EventType = "enrollment.profile.created"
	EventProfileDeletedKey       EventType = "enrollment.profile.deleted"
)

// TransactionOutcomeEvent is the payload published when a transaction
// reaches a terminal state. Delivery is fire-and-forget from the engine's
// point of view; downstream consumers own retries.
type TransactionOutcomeEvent struct {
	TransactionID string           `json:"transaction_id"`
	Protocol      ProtocolKind     `json:"protocol"`
	ProfileName   string           `json:"profile_name"`
	Outcome       TransactionState `json:"outcome"`
}

type ProfileEvent struct {
	Name     string       `json:"name"`
	Protocol ProtocolKind `json:"protocol"`
}

// APIServiceInfo is served by the health endpoint.
type APIServiceInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"build"`
	BuildTime string `json:"build_time"`
}
