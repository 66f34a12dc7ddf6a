package clients

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/resources"
)

// KeyOperationsClient talks to the remote key-operations provider. The
// broker never sees private key material: it hands over a handle and the
// bytes to sign, and gets the signature back.
type KeyOperationsClient interface {
	Sign(ctx context.Context, handle models.KeyHandle, algorithm string, message []byte) ([]byte, error)
	GetCertificateChain(ctx context.Context, handle models.KeyHandle) ([]string, error)
}

type httpKeyOperationsClient struct {
	logger     *logrus.Entry
	httpClient *http.Client
	baseURL    string
}

func NewKeyOperationsClient(logger *logrus.Entry, cfg config.KeyProvider) KeyOperationsClient {
	return &httpKeyOperationsClient{
		logger:     logger,
		httpClient: BuildHTTPClient(cfg.TimeoutSeconds),
		baseURL:    cfg.URL,
	}
}

func (cli *httpKeyOperationsClient) Sign(ctx context.Context, handle models.KeyHandle, algorithm string, message []byte) ([]byte, error) {
	lFunc := helpers.ConfigureLogger(ctx, cli.logger)

	response, err := Post[resources.SignatureResponse](ctx, cli.httpClient, fmt.Sprintf("%s/v1/tokens/%s/keys/%s/sign", cli.baseURL, handle.TokenID, handle.KeyItemID), resources.SignatureRequest{
		TokenID:   handle.TokenID,
		KeyItemID: handle.KeyItemID,
		Algorithm: algorithm,
		Message:   message,
	}, map[int][]error{
		404: {errs.ErrKeyRefNotFound},
	})
	if err != nil {
		lFunc.Errorf("sign request for key %s/%s failed: %s", handle.TokenID, handle.KeyItemID, err)
		return nil, classifyProviderError(err)
	}

	return response.Signature, nil
}

func (cli *httpKeyOperationsClient) GetCertificateChain(ctx context.Context, handle models.KeyHandle) ([]string, error) {
	lFunc := helpers.ConfigureLogger(ctx, cli.logger)

	response, err := Get[resources.KeyChainResponse](ctx, cli.httpClient, fmt.Sprintf("%s/v1/tokens/%s/keys/%s/chain", cli.baseURL, handle.TokenID, handle.KeyItemID), map[int][]error{
		404: {errs.ErrKeyRefNotFound},
	})
	if err != nil {
		lFunc.Errorf("chain request for key %s/%s failed: %s", handle.TokenID, handle.KeyItemID, err)
		return nil, classifyProviderError(err)
	}

	return response.CertificateChain, nil
}

// classifyProviderError separates transport failures, which the client may
// retry, from a provider that answered but could not serve the key.
func classifyProviderError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errs.NewProviderUnreachableError(err)
	}

	if errors.Is(err, errs.ErrKeyRefNotFound) {
		return errs.NewKeyUnavailableError(err)
	}

	return errs.NewProviderUnreachableError(err)
}
