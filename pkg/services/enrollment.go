package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jakehl/goid"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/clients"
	"github.com/trustbroker/trustbroker/pkg/engines/storage"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/protocols/acme"
	"github.com/trustbroker/trustbroker/pkg/protocols/cmp"
	"github.com/trustbroker/trustbroker/pkg/protocols/scep"
	"go.mozilla.org/pkcs7"
)

var enrollValidate = validator.New()

const (
	cmpContentType  = "application/pkixcmp"
	jsonContentType = "application/json"
)

type EnrollmentServiceBackend struct {
	service             EnrollmentService
	transactionsStorage storage.TransactionRepo
	noncesStorage       storage.NonceRepo
	profilesStorage     storage.ProfileRepo
	caClient            clients.CAService
	keyClient           clients.KeyOperationsClient
	protection          *protectionEngine
	logger              *logrus.Entry
}

type EnrollmentServiceBuilder struct {
	Logger              *logrus.Entry
	TransactionsStorage storage.TransactionRepo
	NoncesStorage       storage.NonceRepo
	ProfilesStorage     storage.ProfileRepo
	CAClient            clients.CAService
	KeyClient           clients.KeyOperationsClient
}

func NewEnrollmentService(builder EnrollmentServiceBuilder) EnrollmentService {
	svc := &EnrollmentServiceBackend{
		transactionsStorage: builder.TransactionsStorage,
		noncesStorage:       builder.NoncesStorage,
		profilesStorage:     builder.ProfilesStorage,
		caClient:            builder.CAClient,
		keyClient:           builder.KeyClient,
		protection:          newProtectionEngine(builder.Logger, builder.KeyClient),
		logger:              builder.Logger,
	}

	svc.service = svc
	return svc
}

func (svc *EnrollmentServiceBackend) SetService(service EnrollmentService) {
	svc.service = service
}

func (svc *EnrollmentServiceBackend) profileByName(ctx context.Context, name string, protocol models.ProtocolKind) (*models.EnrollmentProfile, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	exists, profile, err := svc.profilesStorage.SelectExists(ctx, name)
	if err != nil {
		lFunc.Errorf("could not read profile %s: %s", name, err)
		return nil, err
	}

	// A profile bound to another protocol is indistinguishable from a
	// missing one: the endpoint reveals nothing about other configurations.
	if !exists || profile.Protocol != protocol {
		return nil, errs.ErrProfileNotFound
	}

	return profile, nil
}

func nonceKey(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// issueNonce mints, stores and returns a fresh single-use nonce bound to
// the profile.
func (svc *EnrollmentServiceBackend) issueNonce(ctx context.Context, profile *models.EnrollmentProfile) (*models.Nonce, []byte, error) {
	raw := make([]byte, models.NonceMinEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, nil, fmt.Errorf("could not gather nonce entropy: %w", err)
	}

	nonce := &models.Nonce{
		Value:     nonceKey(raw),
		Protocol:  profile.Protocol,
		IssuedFor: profile.Name,
		ExpiresAt: time.Now().Add(time.Duration(profile.NonceTTL)),
	}

	if _, err := svc.noncesStorage.Insert(ctx, nonce); err != nil {
		return nil, nil, fmt.Errorf("could not store nonce: %w", err)
	}

	return nonce, raw, nil
}

// precheckBrokerNonce rejects obvious replays before any expensive work.
// The authoritative consumption happens at release time via the CAS in the
// store; this read is only an early exit.
func (svc *EnrollmentServiceBackend) precheckBrokerNonce(ctx context.Context, value string) error {
	exists, nonce, err := svc.noncesStorage.SelectExists(ctx, value)
	if err != nil {
		return err
	}
	if !exists {
		return errs.NewProtocolError(models.FailureBadTime, "nonce was never issued or has been swept")
	}
	if nonce.Consumed {
		return errs.NewProtocolError(models.FailureBadTime, "nonce already consumed")
	}
	if nonce.Expired(time.Now()) {
		return errs.NewProtocolError(models.FailureBadTime, "nonce expired")
	}

	return nil
}

// openTransaction loads or creates the transaction the message addresses.
// A starting operation may reattach to an existing STARTED transaction:
// that state only survives a processing attempt that failed before release,
// so reattaching is the retry path after a provider outage.
func (svc *EnrollmentServiceBackend) openTransaction(ctx context.Context, profile *models.EnrollmentProfile, op models.Operation, transactionID string) (*models.Transaction, error) {
	exists, tx, err := svc.transactionsStorage.SelectExists(ctx, profile.Protocol, profile.Name, transactionID)
	if err != nil {
		return nil, err
	}

	if models.OperationStartsTransaction(op) {
		if exists {
			if tx.State == models.TxStateStarted {
				return tx, nil
			}
			return nil, errs.NewProtocolError(models.FailureTransactionIDInUse, "transaction %s already exists in state %s", transactionID, tx.State)
		}

		now := time.Now()
		tx = &models.Transaction{
			TransactionID: transactionID,
			Protocol:      profile.Protocol,
			ProfileName:   profile.Name,
			State:         models.TxStateStarted,
			CreatedAt:     now,
			ExpiresAt:     now.Add(time.Duration(profile.TransactionTTL)),
		}

		if _, err := svc.transactionsStorage.Insert(ctx, tx); err != nil {
			return nil, err
		}

		return tx, nil
	}

	if !exists {
		return nil, errs.NewProtocolError(models.FailureBadRequest, "no transaction %s for operation %s", transactionID, op)
	}

	if !models.OperationAllowedInState(tx.State, op) {
		if tx.State.IsTerminal() {
			return nil, errs.NewProtocolError(models.FailureTransactionIDInUse, "transaction %s is already %s", transactionID, tx.State)
		}
		return nil, errs.NewProtocolError(models.FailureBadRequest, "operation %s is not allowed in state %s", op, tx.State)
	}

	return tx, nil
}

// commitExchange is the release-time state change: consume the inbound
// broker nonce, then advance the transaction. Both are conditional updates;
// losing either race means a concurrent duplicate won and this response
// must not be released.
func (svc *EnrollmentServiceBackend) commitExchange(ctx context.Context, tx *models.Transaction, op models.Operation, inboundNonce string) (*models.TransactionOutcomeEvent, error) {
	if inboundNonce != "" {
		if err := consumeBrokerNonce(ctx, svc.noncesStorage, inboundNonce); err != nil {
			return nil, err
		}
	}

	next := tx.ResponseState(op)
	if next == tx.State {
		return nil, nil
	}

	advanced, err := svc.transactionsStorage.Advance(ctx, tx.Protocol, tx.ProfileName, tx.TransactionID, tx.State, next)
	if err != nil {
		return nil, err
	}
	if !advanced {
		return nil, errs.NewProtocolError(models.FailureTransactionIDInUse, "a concurrent message advanced transaction %s", tx.TransactionID)
	}

	tx.State = next
	if !next.IsTerminal() {
		return nil, nil
	}

	return &models.TransactionOutcomeEvent{
		TransactionID: tx.TransactionID,
		Protocol:      tx.Protocol,
		ProfileName:   tx.ProfileName,
		Outcome:       next,
	}, nil
}

// failTransaction drives the transaction to FAILED, best effort. Validation
// failures are terminal: the transaction id is burned.
func (svc *EnrollmentServiceBackend) failTransaction(ctx context.Context, tx *models.Transaction) *models.TransactionOutcomeEvent {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if tx == nil || tx.State.IsTerminal() {
		return nil
	}

	advanced, err := svc.transactionsStorage.Advance(ctx, tx.Protocol, tx.ProfileName, tx.TransactionID, tx.State, models.TxStateFailed)
	if err != nil || !advanced {
		lFunc.Warnf("could not mark transaction %s failed: advanced=%t err=%v", tx.TransactionID, advanced, err)
		return nil
	}

	return &models.TransactionOutcomeEvent{
		TransactionID: tx.TransactionID,
		Protocol:      tx.Protocol,
		ProfileName:   tx.ProfileName,
		Outcome:       models.TxStateFailed,
	}
}

func (svc *EnrollmentServiceBackend) IssueNonce(ctx context.Context, input IssueNonceInput) (string, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := enrollValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return "", errs.ErrValidateBadRequest
	}

	profile, err := svc.profileByName(ctx, input.ProfileName, models.ProtocolACME)
	if err != nil {
		return "", err
	}

	nonce, _, err := svc.issueNonce(ctx, profile)
	if err != nil {
		return "", err
	}

	return nonce.Value, nil
}

func (svc *EnrollmentServiceBackend) ProcessCMPMessage(ctx context.Context, input ProcessMessageInput) (*ProtocolResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := enrollValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	profile, err := svc.profileByName(ctx, input.ProfileName, models.ProtocolCMP)
	if err != nil {
		return nil, err
	}

	msg, err := cmp.DecodeRequest(input.RawMessage)
	if err != nil {
		// Undecodable bytes leave nothing to answer with.
		return nil, err
	}

	response, failOutcome, err := svc.handleCMP(ctx, profile, msg)
	if err != nil {
		if pErr, ok := errs.AsProtocolError(err); ok {
			lFunc.Warnf("rejecting CMP %s on profile %s: %s", msg.Operation(), profile.Name, pErr.Reason)
			return svc.cmpFailureResponse(ctx, profile, msg, pErr, failOutcome)
		}
		return nil, err
	}

	return response, nil
}

func (svc *EnrollmentServiceBackend) handleCMP(ctx context.Context, profile *models.EnrollmentProfile, msg *cmp.Message) (*ProtocolResponse, *models.TransactionOutcomeEvent, error) {
	if err := acceptMessage(profile, msg); err != nil {
		return nil, nil, err
	}

	if err := validateStructure(msg); err != nil {
		return nil, nil, err
	}

	strategy, err := svc.protection.strategyFor(profile.RequiredInboundProtection)
	if err != nil {
		return nil, nil, err
	}

	if err := strategy.VerifyInbound(ctx, msg, profile); err != nil {
		return nil, nil, err
	}

	meta := msg.Meta()
	inboundNonce := ""
	if len(meta.RecipNonce) > 0 {
		inboundNonce = nonceKey(meta.RecipNonce)
		if err := svc.precheckBrokerNonce(ctx, inboundNonce); err != nil {
			return nil, nil, err
		}
	}

	tx, err := svc.openTransaction(ctx, profile, msg.Operation(), meta.TransactionID)
	if err != nil {
		return nil, nil, err
	}

	payload, err := svc.cmpPayload(ctx, profile, msg)
	if err != nil {
		if _, isProtocol := errs.AsProtocolError(err); isProtocol {
			return nil, svc.failTransaction(ctx, tx), err
		}
		return nil, nil, err
	}

	_, nonceRaw, err := svc.issueNonce(ctx, profile)
	if err != nil {
		return nil, nil, err
	}

	response := cmp.NewSuccessResponse(msg, nonceRaw, profile.OutboundProtection, payload)

	full, outProt, err := svc.protectCMPResponse(ctx, &response, profile)
	if err != nil {
		return nil, nil, err
	}

	if err := validateOutbound(full, outProt, profile); err != nil {
		return nil, nil, err
	}

	outcome, err := svc.commitExchange(ctx, tx, msg.Operation(), inboundNonce)
	if err != nil {
		return nil, nil, err
	}

	return &ProtocolResponse{
		Body:        full,
		ContentType: cmpContentType,
		Outcome:     outcome,
	}, nil, nil
}

func (svc *EnrollmentServiceBackend) cmpPayload(ctx context.Context, profile *models.EnrollmentProfile, msg *cmp.Message) ([]byte, error) {
	switch msg.Operation() {
	case models.OperationCMPInitializationReq, models.OperationCMPCertificationReq, models.OperationCMPKeyUpdateReq:
		issued, err := svc.caClient.IssueCertificate(ctx, profile.Name, msg.Body())
		if err != nil {
			return nil, err
		}

		certDER, err := decodeIssuedCertificate(issued.Certificate)
		if err != nil {
			return nil, err
		}

		return cmp.NewCertRepPayload(certDER)
	case models.OperationCMPRevocationReq:
		serial, err := cmp.RevocationSerial(msg.Body())
		if err != nil {
			return nil, err
		}

		if err := svc.caClient.RevokeCertificate(ctx, serial, "unspecified"); err != nil {
			return nil, err
		}

		return cmp.NewRevRepPayload()
	case models.OperationCMPCertConfirm, models.OperationCMPPKIConfirm:
		return cmp.NewPKIConfPayload()
	default:
		return nil, errs.NewProtocolError(models.FailureBadRequest, "no handler for operation %s", msg.Operation())
	}
}

func (svc *EnrollmentServiceBackend) cmpFailureResponse(ctx context.Context, profile *models.EnrollmentProfile, msg *cmp.Message, pErr *errs.ProtocolError, outcome *models.TransactionOutcomeEvent) (*ProtocolResponse, error) {
	_, nonceRaw, err := svc.issueNonce(ctx, profile)
	if err != nil {
		return nil, err
	}

	response, err := cmp.NewFailureResponse(msg, nonceRaw, profile.OutboundProtection, pErr.Code)
	if err != nil {
		return nil, err
	}

	full, outProt, err := svc.protectCMPResponse(ctx, &response, profile)
	if err != nil {
		return nil, err
	}

	if err := validateOutbound(full, outProt, profile); err != nil {
		return nil, err
	}

	return &ProtocolResponse{
		Body:        full,
		ContentType: cmpContentType,
		Outcome:     outcome,
	}, nil
}

// protectCMPResponse applies the profile's outbound protection and returns
// the finished PKIMessage DER. Signature outbound resolves the signer first
// so the header declares the algorithm the key actually produces.
func (svc *EnrollmentServiceBackend) protectCMPResponse(ctx context.Context, response *cmp.Response, profile *models.EnrollmentProfile) ([]byte, *OutboundProtection, error) {
	outStrategy, err := svc.protection.strategyFor(profile.OutboundProtection)
	if err != nil {
		return nil, nil, err
	}

	var outProt *OutboundProtection

	if sigStrategy, ok := outStrategy.(*remoteSignatureStrategy); ok {
		signer, err := sigStrategy.resolveSigner(ctx, profile)
		if err != nil {
			return nil, nil, err
		}
		response.SetSignerKey(signer.Public())

		protected, err := response.ProtectedBytes()
		if err != nil {
			return nil, nil, err
		}

		outProt, err = sigStrategy.signWith(signer, protected)
		if err != nil {
			return nil, nil, err
		}
	} else {
		protected, err := response.ProtectedBytes()
		if err != nil {
			return nil, nil, err
		}

		outProt, err = outStrategy.ProtectOutbound(ctx, protected, profile)
		if err != nil {
			return nil, nil, err
		}
	}

	full, err := response.Finalize(outProt.Value, outProt.ChainDER)
	if err != nil {
		return nil, nil, err
	}

	return full, outProt, nil
}

func (svc *EnrollmentServiceBackend) ProcessSCEPOperation(ctx context.Context, input SCEPOperationInput) (*ProtocolResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := enrollValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	profile, err := svc.profileByName(ctx, input.ProfileName, models.ProtocolSCEP)
	if err != nil {
		return nil, err
	}

	switch input.Operation {
	case models.OperationSCEPGetCACaps:
		if !profile.SupportedOperations.Contains(models.OperationSCEPGetCACaps) {
			return nil, errs.ErrProfileNotFound
		}

		return &ProtocolResponse{
			Body:        scep.EncodeCACaps(),
			ContentType: scep.ContentTypeCACaps,
		}, nil
	case models.OperationSCEPGetCACert:
		if !profile.SupportedOperations.Contains(models.OperationSCEPGetCACert) {
			return nil, errs.ErrProfileNotFound
		}

		return svc.scepCACert(ctx, profile)
	case models.OperationSCEPPKIOperation:
		return svc.scepPKIOperation(ctx, profile, input.Message)
	default:
		return nil, errs.NewProtocolError(models.FailureBadRequest, "unknown SCEP operation %s", input.Operation)
	}
}

func (svc *EnrollmentServiceBackend) scepSigner(ctx context.Context, profile *models.EnrollmentProfile) (*RemoteSigner, error) {
	handle, err := KeyHandleFromRef(profile.SigningKeyRef)
	if err != nil {
		return nil, err
	}

	return NewRemoteSigner(ctx, svc.logger, svc.keyClient, handle)
}

func (svc *EnrollmentServiceBackend) scepCACert(ctx context.Context, profile *models.EnrollmentProfile) (*ProtocolResponse, error) {
	signer, err := svc.scepSigner(ctx, profile)
	if err != nil {
		return nil, err
	}

	chainDER := make([][]byte, 0, len(signer.Chain()))
	for _, cert := range signer.Chain() {
		chainDER = append(chainDER, cert.Raw)
	}

	body, contentType, err := scep.EncodeCACert(chainDER)
	if err != nil {
		return nil, err
	}

	return &ProtocolResponse{
		Body:        body,
		ContentType: contentType,
	}, nil
}

func (svc *EnrollmentServiceBackend) scepPKIOperation(ctx context.Context, profile *models.EnrollmentProfile, raw []byte) (*ProtocolResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	msg, err := scep.DecodeRequest(raw)
	if err != nil {
		return nil, err
	}

	response, failOutcome, err := svc.handleSCEP(ctx, profile, msg)
	if err != nil {
		if pErr, ok := errs.AsProtocolError(err); ok {
			lFunc.Warnf("rejecting SCEP PKIOperation on profile %s: %s", profile.Name, pErr.Reason)
			return svc.scepFailureResponse(ctx, profile, msg, pErr, failOutcome)
		}
		return nil, err
	}

	return response, nil
}

func (svc *EnrollmentServiceBackend) handleSCEP(ctx context.Context, profile *models.EnrollmentProfile, msg *scep.Message) (*ProtocolResponse, *models.TransactionOutcomeEvent, error) {
	if err := acceptMessage(profile, msg); err != nil {
		return nil, nil, err
	}

	if err := validateStructure(msg); err != nil {
		return nil, nil, err
	}

	strategy, err := svc.protection.strategyFor(profile.RequiredInboundProtection)
	if err != nil {
		return nil, nil, err
	}

	if err := strategy.VerifyInbound(ctx, msg, profile); err != nil {
		return nil, nil, err
	}

	meta := msg.Meta()
	tx, err := svc.openTransaction(ctx, profile, msg.Operation(), meta.TransactionID)
	if err != nil {
		return nil, nil, err
	}

	issued, err := svc.caClient.IssueCertificate(ctx, profile.Name, msg.Body())
	if err != nil {
		return nil, nil, err
	}

	certDER, err := decodeIssuedCertificate(issued.Certificate)
	if err != nil {
		return nil, nil, err
	}

	payload, err := pkcs7.DegenerateCertificate(certDER)
	if err != nil {
		return nil, nil, err
	}

	_, nonceRaw, err := svc.issueNonce(ctx, profile)
	if err != nil {
		return nil, nil, err
	}

	signer, err := svc.scepSigner(ctx, profile)
	if err != nil {
		return nil, nil, err
	}

	certRep := scep.NewSuccessCertRep(msg, nonceRaw, payload)
	body, err := certRep.Encode(signer.Certificate(), signer)
	if err != nil {
		return nil, nil, err
	}

	if err := validateOutbound(body, &OutboundProtection{Signer: signer}, profile); err != nil {
		return nil, nil, err
	}

	outcome, err := svc.commitExchange(ctx, tx, msg.Operation(), "")
	if err != nil {
		return nil, nil, err
	}

	return &ProtocolResponse{
		Body:        body,
		ContentType: scep.ContentTypePKIOp,
		Outcome:     outcome,
	}, nil, nil
}

func (svc *EnrollmentServiceBackend) scepFailureResponse(ctx context.Context, profile *models.EnrollmentProfile, msg *scep.Message, pErr *errs.ProtocolError, outcome *models.TransactionOutcomeEvent) (*ProtocolResponse, error) {
	_, nonceRaw, err := svc.issueNonce(ctx, profile)
	if err != nil {
		return nil, err
	}

	signer, err := svc.scepSigner(ctx, profile)
	if err != nil {
		return nil, err
	}

	certRep := scep.NewFailureCertRep(msg, nonceRaw, pErr.Code)
	body, err := certRep.Encode(signer.Certificate(), signer)
	if err != nil {
		return nil, err
	}

	return &ProtocolResponse{
		Body:        body,
		ContentType: scep.ContentTypePKIOp,
		Outcome:     outcome,
	}, nil
}

func (svc *EnrollmentServiceBackend) ProcessACMEMessage(ctx context.Context, input ProcessMessageInput) (*ProtocolResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := enrollValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	profile, err := svc.profileByName(ctx, input.ProfileName, models.ProtocolACME)
	if err != nil {
		return nil, err
	}

	msg, err := acme.DecodeRequest(input.RawMessage)
	if err != nil {
		return nil, err
	}

	response, failOutcome, err := svc.handleACME(ctx, profile, msg, input.OrderID)
	if err != nil {
		if pErr, ok := errs.AsProtocolError(err); ok {
			lFunc.Warnf("rejecting ACME %s on profile %s: %s", msg.Operation(), profile.Name, pErr.Reason)
			return svc.acmeFailureResponse(ctx, profile, pErr, failOutcome)
		}
		return nil, err
	}

	return response, nil
}

func (svc *EnrollmentServiceBackend) handleACME(ctx context.Context, profile *models.EnrollmentProfile, msg *acme.Message, orderID string) (*ProtocolResponse, *models.TransactionOutcomeEvent, error) {
	if err := acceptMessage(profile, msg); err != nil {
		return nil, nil, err
	}

	if err := validateStructure(msg); err != nil {
		return nil, nil, err
	}

	strategy, err := svc.protection.strategyFor(profile.RequiredInboundProtection)
	if err != nil {
		return nil, nil, err
	}

	if err := strategy.VerifyInbound(ctx, msg, profile); err != nil {
		return nil, nil, err
	}

	inboundNonce := string(msg.Meta().SenderNonce)
	if err := svc.precheckBrokerNonce(ctx, inboundNonce); err != nil {
		return nil, nil, err
	}

	// Finalize must reference an order this broker actually issued; the
	// URL segment is checked against the order's transaction record.
	if msg.Operation() == models.OperationACMEFinalize {
		exists, _, err := svc.transactionsStorage.SelectExists(ctx, models.ProtocolACME, profile.Name, orderID)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			return nil, nil, errs.NewProtocolError(models.FailureBadCertID, "unknown order %s", orderID)
		}
	}

	// ACME clients do not choose a transaction id; each accepted request
	// opens its own server-assigned transaction.
	transactionID := goid.NewV4UUID().String()
	tx, err := svc.openTransaction(ctx, profile, msg.Operation(), transactionID)
	if err != nil {
		return nil, nil, err
	}

	body, err := svc.acmePayload(ctx, profile, msg, transactionID)
	if err != nil {
		if _, isProtocol := errs.AsProtocolError(err); isProtocol {
			return nil, svc.failTransaction(ctx, tx), err
		}
		return nil, nil, err
	}

	replayNonce, _, err := svc.issueNonce(ctx, profile)
	if err != nil {
		return nil, nil, err
	}

	if err := validateOutbound(body, nil, profile); err != nil {
		return nil, nil, err
	}

	outcome, err := svc.commitExchange(ctx, tx, msg.Operation(), inboundNonce)
	if err != nil {
		return nil, nil, err
	}

	return &ProtocolResponse{
		Body:        body,
		ContentType: jsonContentType,
		ReplayNonce: replayNonce.Value,
		Outcome:     outcome,
	}, nil, nil
}

func (svc *EnrollmentServiceBackend) acmePayload(ctx context.Context, profile *models.EnrollmentProfile, msg *acme.Message, transactionID string) ([]byte, error) {
	switch msg.Operation() {
	case models.OperationACMENewOrder:
		return acme.Order{
			Status:   "ready",
			Finalize: fmt.Sprintf("/v1/acme/%s/order/%s/finalize", profile.Name, transactionID),
		}.Encode(), nil
	case models.OperationACMEFinalize:
		csrDER, err := acme.ParseFinalizeCSR(msg.Body())
		if err != nil {
			return nil, err
		}

		issued, err := svc.caClient.IssueCertificate(ctx, profile.Name, csrDER)
		if err != nil {
			return nil, err
		}

		certDER, err := decodeIssuedCertificate(issued.Certificate)
		if err != nil {
			return nil, err
		}

		return acme.Order{
			Status:      "valid",
			Certificate: base64.RawURLEncoding.EncodeToString(certDER),
		}.Encode(), nil
	case models.OperationACMERevokeCert:
		serial, _, err := acme.ParseRevocationSerial(msg.Body())
		if err != nil {
			return nil, err
		}

		if err := svc.caClient.RevokeCertificate(ctx, serial, "unspecified"); err != nil {
			return nil, err
		}

		return []byte("{}"), nil
	default:
		return nil, errs.NewProtocolError(models.FailureBadRequest, "no handler for operation %s", msg.Operation())
	}
}

func (svc *EnrollmentServiceBackend) acmeFailureResponse(ctx context.Context, profile *models.EnrollmentProfile, pErr *errs.ProtocolError, outcome *models.TransactionOutcomeEvent) (*ProtocolResponse, error) {
	problem := acme.NewProblem(pErr.Code)

	replayNonce, _, err := svc.issueNonce(ctx, profile)
	if err != nil {
		return nil, err
	}

	return &ProtocolResponse{
		Body:        problem.Encode(),
		ContentType: acme.ProblemContentType,
		ReplayNonce: replayNonce.Value,
		StatusCode:  problem.Status,
		Outcome:     outcome,
	}, nil
}

func decodeIssuedCertificate(certPEM string) ([]byte, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, fmt.Errorf("CA returned a non PEM certificate")
	}

	return block.Bytes, nil
}
