package models

import (
	"time"
)

type ProtocolKind string

const (
	ProtocolCMP  ProtocolKind = "CMP"
	ProtocolSCEP ProtocolKind = "SCEP"
	ProtocolACME ProtocolKind = "ACME"
)

// Operation identifies one enrollment protocol message type. The broker
// supports a fixed whitelist per protocol, narrower than each protocol's
// full specification.
type Operation string

const (
	// CMP (RFC 4210 subset)
	OperationCMPInitializationReq Operation = "ir"
	OperationCMPCertificationReq  Operation = "cr"
	OperationCMPKeyUpdateReq      Operation = "kur"
	OperationCMPCertConfirm       Operation = "certConf"
	OperationCMPPKIConfirm        Operation = "pkiconf"
	OperationCMPRevocationReq     Operation = "rr"

	// SCEP
	OperationSCEPGetCACert    Operation = "GetCACert"
	OperationSCEPGetCACaps    Operation = "GetCACaps"
	OperationSCEPPKIOperation Operation = "PKIOperation"

	// ACME (RFC 8555 subset)
	OperationACMENewNonce   Operation = "newNonce"
	OperationACMENewOrder   Operation = "newOrder"
	OperationACMEFinalize   Operation = "finalize"
	OperationACMERevokeCert Operation = "revokeCert"
)

type TransactionState string

const (
	TxStateStarted              TransactionState = "STARTED"
	TxStateAwaitingConfirmation TransactionState = "AWAITING_CONFIRMATION"
	TxStateConfirmed            TransactionState = "CONFIRMED"
	TxStateFailed               TransactionState = "FAILED"
	TxStateExpired              TransactionState = "EXPIRED"
)

func (s TransactionState) IsTerminal() bool {
	switch s {
	case TxStateConfirmed, TxStateFailed, TxStateExpired:
		return true
	}
	return false
}

// Transaction correlates every message belonging to one enrollment dialogue.
// A transaction id is unique within (protocol, profile). Once terminal, the
// record is immutable.
type Transaction struct {
	TransactionID string           `json:"transaction_id" gorm:"primaryKey"`
	Protocol      ProtocolKind     `json:"protocol" gorm:"primaryKey"`
	ProfileName   string           `json:"profile_name" gorm:"primaryKey"`
	State         TransactionState `json:"state"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
}

// ResponseState returns the state a transaction moves to after the broker
// emits the success response for the operation that started it. CMP requires
// an explicit confirmation round trip; SCEP and ACME dialogues complete with
// the response itself.
func (t *Transaction) ResponseState(op Operation) TransactionState {
	if t.Protocol != ProtocolCMP {
		return TxStateConfirmed
	}

	switch op {
	case OperationCMPRevocationReq, OperationCMPCertConfirm:
		return TxStateConfirmed
	case OperationCMPPKIConfirm:
		return TxStateAwaitingConfirmation
	default:
		return TxStateAwaitingConfirmation
	}
}

// OperationStartsTransaction reports whether op may open a brand new
// transaction. Confirmation-class operations only make sense against an
// existing dialogue.
func OperationStartsTransaction(op Operation) bool {
	switch op {
	case OperationCMPInitializationReq, OperationCMPCertificationReq,
		OperationCMPKeyUpdateReq, OperationCMPRevocationReq,
		OperationSCEPPKIOperation,
		OperationACMENewOrder, OperationACMEFinalize, OperationACMERevokeCert:
		return true
	}
	return false
}

// OperationAllowedInState reports whether an accepted inbound operation may
// advance a transaction currently in the given state. Terminal states accept
// nothing; replays against them must never re-trigger the business handler.
func OperationAllowedInState(state TransactionState, op Operation) bool {
	if state.IsTerminal() {
		return false
	}

	switch op {
	case OperationCMPCertConfirm, OperationCMPPKIConfirm:
		return state == TxStateAwaitingConfirmation
	default:
		return false
	}
}

// Nonce is a single-use anti-replay token. Consumption is atomic with the
// business effect it guards: the store's conditional update is the only
// mutation path.
type Nonce struct {
	Value     string       `json:"value" gorm:"primaryKey"`
	Protocol  ProtocolKind `json:"protocol"`
	IssuedFor string       `json:"issued_for"`
	ExpiresAt time.Time    `json:"expires_at"`
	Consumed  bool         `json:"consumed"`
}

func (n *Nonce) Expired(now time.Time) bool {
	return now.After(n.ExpiresAt)
}

// NonceMinEntropyBytes is the minimum random payload for a freshly issued
// nonce across all three protocols.
const NonceMinEntropyBytes = 16
