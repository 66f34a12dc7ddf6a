package resources

type IssueCertificateBody struct {
	ProfileName        string `json:"profile_name"`
	CertificateRequest string `json:"certificate_request"`
}

type IssueCertificateResponse struct {
	Certificate      string   `json:"certificate"`
	CertificateChain []string `json:"certificate_chain,omitempty"`
}

type RevokeCertificateBody struct {
	SerialNumber     string `json:"serial_number"`
	RevocationReason string `json:"revocation_reason"`
}

type CertificateStatusResponse struct {
	SerialNumber string `json:"serial_number"`
	Status       string `json:"status"`
}
