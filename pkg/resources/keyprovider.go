package resources

type SignatureRequest struct {
	TokenID   string `json:"token_id"`
	KeyItemID string `json:"key_item_id"`
	Algorithm string `json:"algorithm"`
	Message   []byte `json:"message"`
}

type SignatureResponse struct {
	Signature        []byte   `json:"signature"`
	CertificateChain []string `json:"certificate_chain,omitempty"`
}

type KeyChainResponse struct {
	CertificateChain []string `json:"certificate_chain"`
}
