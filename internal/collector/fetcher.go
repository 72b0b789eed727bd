package collector

import "context"

// Fetcher performs one provider request and returns its decoded records.
// *transport.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, endpoint string, params map[string]string) ([]map[string]any, error)
}
