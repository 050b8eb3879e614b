package ledger

// Client combines the HTTP client for reads and submissions with the
// websocket client for notifications into a full Gateway.
type Client struct {
	*HTTPClient
	*WSClient
}

// NewClient creates a Gateway from its two transports.
func NewClient(rpc *HTTPClient, ws *WSClient) *Client {
	return &Client{HTTPClient: rpc, WSClient: ws}
}

var _ Gateway = (*Client)(nil)
