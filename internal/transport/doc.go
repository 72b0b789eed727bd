// Package transport performs provider GET requests with bounded retries.
//
// Every failure (network error, non-2xx status, undecodable body) is retried
// until the policy's attempt budget is spent. The wait before attempt n+1 grows
// linearly:
//
//	base + n*factor + rand[0,1)*jitter
//
// Exhaustion is reported as an *ExhaustedError carrying the endpoint, the query
// parameters and the last underlying error.
//
// # Usage
//
//	client := transport.NewClient(transport.DefaultOptions())
//	records, err := client.Get(ctx, "https://api.bcb.gov.br/dados/serie/bcdata.sgs.433/dados",
//	    map[string]string{"formato": "json"})
//	if errors.Is(err, transport.ErrExhausted) {
//	    // give up on this request only
//	}
package transport
