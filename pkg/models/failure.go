package models

// FailureCode is the protocol-facing failure vocabulary. The names and bit
// positions follow CMP's PKIFailureInfo; SCEP and ACME adapters map them to
// their own encodings. Only the code crosses the trust boundary; internal
// diagnostics stay in logs.
type FailureCode string

const (
	FailureBadAlg             FailureCode = "badAlg"
	FailureBadMessageCheck    FailureCode = "badMessageCheck"
	FailureBadRequest         FailureCode = "badRequest"
	FailureBadTime            FailureCode = "badTime"
	FailureBadCertID          FailureCode = "badCertId"
	FailureBadDataFormat      FailureCode = "badDataFormat"
	FailureWrongAuthority     FailureCode = "wrongAuthority"
	FailureBadPOP             FailureCode = "badPOP"
	FailureNotAuthorized      FailureCode = "notAuthorized"
	FailureTransactionIDInUse FailureCode = "transactionIdInUse"
	FailureSignerNotTrusted   FailureCode = "signerNotTrusted"
	FailureSystemUnavail      FailureCode = "systemUnavail"
	FailureSystemFailure      FailureCode = "systemFailure"
)

// CMPFailureInfoBit returns the PKIFailureInfo bit position for a code,
// per RFC 4210 appendix F.
func CMPFailureInfoBit(code FailureCode) int {
	switch code {
	case FailureBadAlg:
		return 0
	case FailureBadMessageCheck:
		return 1
	case FailureBadRequest:
		return 2
	case FailureBadTime:
		return 3
	case FailureBadCertID:
		return 4
	case FailureBadDataFormat:
		return 5
	case FailureWrongAuthority:
		return 6
	case FailureBadPOP:
		return 9
	case FailureSignerNotTrusted:
		return 18
	case FailureTransactionIDInUse:
		return 21
	case FailureNotAuthorized:
		return 23
	case FailureSystemUnavail:
		return 24
	case FailureSystemFailure:
		return 25
	default:
		return 25
	}
}

// SCEPFailInfo maps a failure code onto SCEP's failInfo vocabulary
// (RFC 8894 section 3.2.1.4).
func SCEPFailInfo(code FailureCode) string {
	switch code {
	case FailureBadAlg:
		return "badAlg"
	case FailureBadMessageCheck, FailureBadPOP, FailureSignerNotTrusted, FailureNotAuthorized:
		return "badMessageCheck"
	case FailureBadTime, FailureTransactionIDInUse:
		return "badTime"
	case FailureBadCertID:
		return "badCertId"
	default:
		return "badRequest"
	}
}

// ACMEProblemType maps a failure code onto an ACME problem document type
// (RFC 8555 section 6.7).
func ACMEProblemType(code FailureCode) string {
	const ns = "urn:ietf:params:acme:error:"
	switch code {
	case FailureBadTime, FailureTransactionIDInUse:
		return ns + "badNonce"
	case FailureBadMessageCheck, FailureBadPOP:
		return ns + "badSignatureAlgorithm"
	case FailureSignerNotTrusted, FailureNotAuthorized, FailureWrongAuthority:
		return ns + "unauthorized"
	case FailureSystemUnavail, FailureSystemFailure:
		return ns + "serverInternal"
	default:
		return ns + "malformed"
	}
}
