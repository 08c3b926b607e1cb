package mpesa

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to the Safaricom STK Push and query endpoints.
type Client struct {
	tokenService *TokenService
	cfg          Config
	client       *http.Client
}

// Config holds the Safaricom API parameters shared by all calls.
type Config struct {
	ShortCode   string
	Passkey     string
	STKPushURL  string
	QueryURL    string
	CallbackURL string
}

// NewClient creates a Safaricom API client with SSL verification enforced
func NewClient(tokenService *TokenService, cfg Config) *Client {
	return &Client{
		tokenService: tokenService,
		cfg:          cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
	}
}

// STKPushRequest represents Safaricom STK Push API request
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse represents Safaricom STK Push API response
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// PushResult is the accepted-push outcome returned to the caller, which
// persists it; the client itself never touches storage.
type PushResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	CustomerMessage   string
	RawResponse       []byte
}

// STKPush submits a push-payment request. The phone number is
// normalized and the amount truncated to whole shillings (Safaricom
// accepts integers only). Success means Safaricom accepted the request
// with ResponseCode "0"; the payment itself resolves later via query or
// callback.
func (c *Client) STKPush(ctx context.Context, phone string, amount decimal.Decimal, accountRef, desc string) (*PushResult, error) {
	token, err := c.tokenService.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := GeneratePassword(c.cfg.ShortCode, c.cfg.Passkey, time.Now())
	formattedPhone := FormatPhoneNumber(phone)

	stkReq := STKPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.Truncate(0).IntPart(),
		PartyA:            formattedPhone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       formattedPhone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   desc,
	}

	respBody, err := c.post(ctx, c.cfg.STKPushURL, token, stkReq)
	if err != nil {
		return nil, err
	}

	var stkResp STKPushResponse
	if err := json.Unmarshal(respBody, &stkResp); err != nil {
		return nil, systemError(fmt.Errorf("failed to unmarshal STK Push response: %w", err))
	}

	if stkResp.ResponseCode != "0" {
		return nil, businessError(stkResp.ResponseCode, stkResp.ResponseDescription)
	}

	return &PushResult{
		CheckoutRequestID: stkResp.CheckoutRequestID,
		MerchantRequestID: stkResp.MerchantRequestID,
		CustomerMessage:   stkResp.CustomerMessage,
		RawResponse:       respBody,
	}, nil
}

// QueryRequest represents the STK Push status query request
type QueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// ResultCode is a Safaricom result code. The API is inconsistent about
// quoting it (the query endpoint returns "0", callbacks return 0), so
// it unmarshals from either form.
type ResultCode string

func (rc *ResultCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*rc = ResultCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("result code is neither string nor number: %s", string(data))
	}
	*rc = ResultCode(n.String())
	return nil
}

// QueryResponse represents the STK Push status query response
type QueryResponse struct {
	ResponseCode string     `json:"ResponseCode"`
	ResultCode   ResultCode `json:"ResultCode"`
	ResultDesc   string     `json:"ResultDesc"`
}

// QueryResult carries the provider's verdict on a pending push.
type QueryResult struct {
	ResultCode  string
	ResultDesc  string
	RawResponse []byte
}

// Safaricom result codes shared by the query response and the callback.
const (
	ResultCodeSuccess      = "0"
	ResultCodeCancelled    = "1032"
	ResultCodeStillPending = "1037"
)

// QueryStatus asks Safaricom for the current state of a push identified
// by its checkout request ID. The password is re-derived because it is
// timestamp-bound. A failure of this call is a transient query failure,
// not a verdict on the payment.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	token, err := c.tokenService.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := GeneratePassword(c.cfg.ShortCode, c.cfg.Passkey, time.Now())

	queryReq := QueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	respBody, err := c.post(ctx, c.cfg.QueryURL, token, queryReq)
	if err != nil {
		return nil, err
	}

	var queryResp QueryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return nil, systemError(fmt.Errorf("failed to unmarshal query response: %w", err))
	}

	return &QueryResult{
		ResultCode:  string(queryResp.ResultCode),
		ResultDesc:  queryResp.ResultDesc,
		RawResponse: respBody,
	}, nil
}

// post sends an authenticated JSON request. A 401 invalidates the
// cached token and retries once with a fresh one.
func (c *Client) post(ctx context.Context, url, token string, payload interface{}) ([]byte, error) {
	body, err := c.doPost(ctx, url, token, payload)
	if err == nil {
		return body, nil
	}

	me, ok := err.(*Error)
	if !ok || me.Kind != ErrKindAuth {
		return nil, err
	}

	// Token was rejected downstream; refresh once and retry.
	c.tokenService.Invalidate()
	token, tokenErr := c.tokenService.GetToken(ctx)
	if tokenErr != nil {
		return nil, tokenErr
	}
	return c.doPost(ctx, url, token, payload)
}

func (c *Client) doPost(ctx context.Context, url, token string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, systemError(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, systemError(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, networkError(fmt.Errorf("request to %s failed: %w", url, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, authError(fmt.Errorf("request rejected with 401: %s", string(respBody)))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, systemError(fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody)))
	}

	return respBody, nil
}
