// Package marlin provides a Go SDK for the marlin-server API.
package marlin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RunConfig overrides the server's backtest defaults. Zero fields keep the
// server-side value.
type RunConfig struct {
	InitialCap float64 `json:"initialCap,omitempty"`
	Leverage   float64 `json:"leverage,omitempty"`
	AmountType string  `json:"amountType,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Slippage   float64 `json:"slippage,omitempty"`
	Fee        bool    `json:"fee,omitempty"`
	OrderLimit float64 `json:"orderLimit,omitempty"`
}

// Trade is one closed round trip from a backtest ledger.
type Trade struct {
	EntryTime time.Time `json:"entryTime"`
	ExitTime  time.Time `json:"exitTime"`
	Reason    string    `json:"type"`
	OrderQty  float64   `json:"orderQty"`
	EntryPx   float64   `json:"entryPx"`
	ExitPx    float64   `json:"exitPx"`
	Pnl       float64   `json:"pnl"`
	Fee       float64   `json:"fee"`
	Result    string    `json:"result"`
	Balance   float64   `json:"balance"`
	Drawdown  float64   `json:"drawdown"`
	TargetPx  *float64  `json:"targetPx,omitempty"`
	StopPx    *float64  `json:"stopPx,omitempty"`
}

// Summary aggregates a ledger. AvgWonPnl and AvgLostPnl are nil when the
// corresponding bucket is empty.
type Summary struct {
	TotalTrades  int      `json:"totalTrades"`
	Won          int      `json:"won"`
	Lost         int      `json:"lost"`
	NetPnl       float64  `json:"netPnl"`
	GrossWonPnl  float64  `json:"grossWonPnl"`
	GrossLostPnl float64  `json:"grossLostPnl"`
	AvgWonPnl    *float64 `json:"avgWonPnl"`
	AvgLostPnl   *float64 `json:"avgLostPnl"`
	MaxDrawdown  float64  `json:"maxDrawdown"`
	Balance      float64  `json:"balance"`
}

// BacktestRequest describes a backtest run. Start and End accept RFC 3339
// timestamps or plain dates (2006-01-02).
type BacktestRequest struct {
	Symbol       string    `json:"symbol"`
	Start        string    `json:"start"`
	End          string    `json:"end"`
	StrategyName string    `json:"strategyName"`
	Config       RunConfig `json:"config"`
}

// BacktestResult carries the ledger and its summary. Summary is nil when the
// run produced no trades.
type BacktestResult struct {
	Summary *Summary `json:"summary"`
	Trades  []Trade  `json:"trades"`
	CSVPath string   `json:"csvPath,omitempty"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marlin: server returned %d: %s", e.Status, e.Message)
}

// Client provides a Go SDK for interacting with the marlin-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new marlin API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RunBacktest runs a saved strategy over stored candles.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	var out BacktestResult
	if err := c.do(ctx, http.MethodPost, "/api/backtest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunBacktestCSV runs a backtest and asks the server to also write the
// ledger as a CSV file; the result's CSVPath names the file on the server.
func (c *Client) RunBacktestCSV(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	var out BacktestResult
	if err := c.do(ctx, http.MethodPost, "/api/backtest?csv=true", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveStrategy stores a new strategy document. The document's name field
// becomes its identifier.
func (c *Client) SaveStrategy(ctx context.Context, doc []byte) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	if err := c.doRaw(ctx, http.MethodPost, "/api/strategy", doc, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

// UpdateStrategy replaces a stored strategy document. The document's name
// field must match name.
func (c *Client) UpdateStrategy(ctx context.Context, name string, doc []byte) error {
	return c.doRaw(ctx, http.MethodPut, "/api/strategy/"+url.PathEscape(name), doc, nil)
}

// GetStrategy retrieves a stored strategy document.
func (c *Client) GetStrategy(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/strategy/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

// ListStrategies retrieves the names of all stored strategies.
func (c *Client) ListStrategies(ctx context.Context) ([]string, error) {
	var out struct {
		Strategies []string `json:"strategies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/strategy", nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// do sends body as JSON and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	return c.doRaw(ctx, method, path, raw, out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
