package payments

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"context"
)

// MobileMoneyClient talks to the mobile-money collection API. Requests
// are JSON bodies signed with HMAC-SHA256 over the raw payload.
type MobileMoneyClient struct {
	httpClient *http.Client
	baseURL    string
	merchantID string
	secret     string
	callback   string
}

func NewMobileMoneyClient(httpClient *http.Client, baseURL, merchantID, secret, callback string) *MobileMoneyClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &MobileMoneyClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		merchantID: merchantID,
		secret:     secret,
		callback:   callback,
	}
}

// Secret returns the shared webhook-verification secret.
func (c *MobileMoneyClient) Secret() string { return c.secret }

func (c *MobileMoneyClient) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	payload := map[string]interface{}{
		"merchant_id":  c.merchantID,
		"reference":    req.Reference,
		"amount":       req.AmountCents,
		"phone":        req.Phone,
		"callback_url": c.callback,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return InitiateResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return InitiateResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Signature", c.sign(body))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return InitiateResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return InitiateResult{}, fmt.Errorf("mobile money: unexpected status %s", resp.Status)
	}

	var apiResp struct {
		Success  bool   `json:"success"`
		PollURL  string `json:"poll_url"`
		Redirect string `json:"redirect_url"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return InitiateResult{}, err
	}
	if !apiResp.Success {
		return InitiateResult{}, fmt.Errorf("mobile money: initiate rejected: %s", apiResp.Error)
	}
	return InitiateResult{PollURL: apiResp.PollURL, RedirectURL: apiResp.Redirect}, nil
}

func (c *MobileMoneyClient) Poll(ctx context.Context, pollURL string) (PollResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return PollResult{}, err
	}
	httpReq.Header.Set("X-Signature", c.sign([]byte(pollURL)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PollResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return PollResult{}, fmt.Errorf("mobile money: unexpected status %s", resp.Status)
	}

	var apiResp struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Method    string `json:"method"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return PollResult{}, err
	}
	return PollResult{
		Reference:   apiResp.Reference,
		Status:      Status(apiResp.Status),
		AmountCents: apiResp.Amount,
		Method:      apiResp.Method,
	}, nil
}

// VerifySignature checks a webhook body against the shared secret.
func (c *MobileMoneyClient) VerifySignature(body []byte, signature string) bool {
	expected := c.sign(body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *MobileMoneyClient) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
