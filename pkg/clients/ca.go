package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/resources"
)

// CAService is the upstream certificate authority the broker enrolls
// against. Issuance takes a DER encoded CSR and returns the leaf plus its
// chain as PEM blocks.
type CAService interface {
	IssueCertificate(ctx context.Context, profileName string, csrDER []byte) (*resources.IssueCertificateResponse, error)
	RevokeCertificate(ctx context.Context, serialNumber string, reason string) error
	CertificateStatus(ctx context.Context, serialNumber string) (*resources.CertificateStatusResponse, error)
}

type httpCAClient struct {
	logger     *logrus.Entry
	httpClient *http.Client
	baseURL    string
}

func NewCAClient(logger *logrus.Entry, cfg config.CAClient) CAService {
	return &httpCAClient{
		logger:     logger,
		httpClient: BuildHTTPClient(cfg.TimeoutSeconds),
		baseURL:    cfg.URL,
	}
}

func (cli *httpCAClient) IssueCertificate(ctx context.Context, profileName string, csrDER []byte) (*resources.IssueCertificateResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, cli.logger)

	response, err := Post[resources.IssueCertificateResponse](ctx, cli.httpClient, cli.baseURL+"/v1/certificates", resources.IssueCertificateBody{
		ProfileName:        profileName,
		CertificateRequest: base64.StdEncoding.EncodeToString(csrDER),
	}, map[int][]error{})
	if err != nil {
		lFunc.Errorf("could not issue certificate for profile %s: %s", profileName, err)
		return nil, err
	}

	return &response, nil
}

func (cli *httpCAClient) RevokeCertificate(ctx context.Context, serialNumber string, reason string) error {
	lFunc := helpers.ConfigureLogger(ctx, cli.logger)

	_, err := Post[struct{}](ctx, cli.httpClient, fmt.Sprintf("%s/v1/certificates/%s/revoke", cli.baseURL, serialNumber), resources.RevokeCertificateBody{
		SerialNumber:     serialNumber,
		RevocationReason: reason,
	}, map[int][]error{})
	if err != nil {
		lFunc.Errorf("could not revoke certificate %s: %s", serialNumber, err)
		return err
	}

	return nil
}

func (cli *httpCAClient) CertificateStatus(ctx context.Context, serialNumber string) (*resources.CertificateStatusResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, cli.logger)

	response, err := Get[resources.CertificateStatusResponse](ctx, cli.httpClient, fmt.Sprintf("%s/v1/certificates/%s", cli.baseURL, serialNumber), map[int][]error{})
	if err != nil {
		lFunc.Errorf("could not fetch certificate status %s: %s", serialNumber, err)
		return nil, err
	}

	return &response, nil
}
