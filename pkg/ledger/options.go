package ledger

import (
	"net/http"

	"go.uber.org/zap"
)

// Option configures client settings using the functional options pattern.
type Option func(*settings)

type settings struct {
	logger     *zap.Logger
	httpClient *http.Client
	signer     OperatorSigner
}

// OperatorSigner signs transaction bodies with the operator key. The node
// requires the operator signature on every fee-paying submission.
type OperatorSigner func(payload []byte) (Signature, error)

// WithLogger sets a custom logger for the ledger client.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHTTPClient sets a custom HTTP client for the ledger client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithOperatorSigner provides the operator signing function.
func WithOperatorSigner(signer OperatorSigner) Option {
	return func(s *settings) { s.signer = signer }
}

func applyOptions(opts []Option) settings {
	s := settings{
		logger:     zap.NewNop(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
