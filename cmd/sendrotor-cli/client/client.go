package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is an HTTP client for the sendrotor management API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// WorkItem mirrors the queue item JSON the API returns.
type WorkItem struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Tier          string    `json:"tier"`
	Kind          string    `json:"kind"`
	Target        string    `json:"target"`
	RotationGroup string    `json:"rotation_group,omitempty"`
	AttemptCount  int       `json:"attempt_count"`
	NextEligible  time.Time `json:"next_eligible"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttemptRecord is one attempt from an item's history.
type AttemptRecord struct {
	Timestamp time.Time `json:"timestamp"`
	AccountID string    `json:"account_id,omitempty"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
}

// ItemDetail is a work item with its status and attempt history.
type ItemDetail struct {
	Item     WorkItem        `json:"item"`
	Status   string          `json:"status"`
	Attempts []AttemptRecord `json:"attempts"`
}

// QueueStats summarizes queue occupancy.
type QueueStats struct {
	PendingCount      int64 `json:"pending_count"`
	InFlightCount     int64 `json:"in_flight_count"`
	CompletedCount    int64 `json:"completed_count"`
	DeadLetteredCount int64 `json:"dead_lettered_count"`
}

// AccountStatus is the health and usage view of a sending account.
type AccountStatus struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	State         string `json:"state"`
	HourlyUsed    int    `json:"hourly_used"`
	DailyUsed     int    `json:"daily_used"`
	SuspendReason string `json:"suspend_reason,omitempty"`
}

// RegisterAccountRequest creates a sending account.
type RegisterAccountRequest struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	RotationGroup string `json:"rotation_group,omitempty"`
	SkipVerify    bool   `json:"skip_verify,omitempty"`
}

// DeadLetterEntry is one terminally failed item.
type DeadLetterEntry struct {
	Item           WorkItem        `json:"item"`
	Attempts       []AttemptRecord `json:"attempts"`
	Reason         string          `json:"reason"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at"`
}

// Verdict is a deliverability check result.
type Verdict struct {
	Address  string `json:"address"`
	Domain   string `json:"domain"`
	State    string `json:"state"`
	Category string `json:"category"`
	Detail   string `json:"detail,omitempty"`
}

// DomainReport is a sender-domain posture report.
type DomainReport struct {
	Domain    string `json:"domain"`
	HasSPF    bool   `json:"has_spf"`
	HasDKIM   bool   `json:"has_dkim"`
	HasDMARC  bool   `json:"has_dmarc"`
	RiskScore int    `json:"risk_score"`
	RiskLevel string `json:"risk_level"`
}

// NewClient creates an API client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enqueue submits a new work item.
func (c *Client) Enqueue(tenantID, tier, kind, target, rotationGroup string, payload []byte) (*WorkItem, error) {
	body := map[string]interface{}{
		"tenant_id": tenantID,
		"tier":      tier,
		"kind":      kind,
		"target":    target,
	}
	if rotationGroup != "" {
		body["rotation_group"] = rotationGroup
	}
	if len(payload) > 0 {
		body["payload"] = payload
	}

	var item WorkItem
	if err := c.post("/api/queue/items", body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItem fetches one item with its attempt history.
func (c *Client) GetItem(id string) (*ItemDetail, error) {
	var detail ItemDetail
	if err := c.get("/api/queue/items/"+url.PathEscape(id), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetQueueStats returns queue occupancy counters.
func (c *Client) GetQueueStats() (*QueueStats, error) {
	var stats QueueStats
	if err := c.get("/api/queue/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// RegisterAccount creates a sending account.
func (c *Client) RegisterAccount(req RegisterAccountRequest) (*AccountStatus, error) {
	var status AccountStatus
	if err := c.post("/api/accounts", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListAccounts lists a tenant's accounts.
func (c *Client) ListAccounts(tenantID string) ([]AccountStatus, error) {
	var statuses []AccountStatus
	err := c.get("/api/accounts?tenant="+url.QueryEscape(tenantID), &statuses)
	return statuses, err
}

// GetAccount fetches one account's status.
func (c *Client) GetAccount(id string) (*AccountStatus, error) {
	var status AccountStatus
	if err := c.get("/api/accounts/"+url.PathEscape(id), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ResetAccount clears an account's suspension and failure counters.
func (c *Client) ResetAccount(id string) (*AccountStatus, error) {
	var status AccountStatus
	if err := c.post("/api/accounts/"+url.PathEscape(id)+"/reset", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListDeadLetters lists dead-lettered items, newest first.
func (c *Client) ListDeadLetters(tenantID string, limit int) ([]DeadLetterEntry, error) {
	path := "/api/dlq"
	params := url.Values{}
	if tenantID != "" {
		params.Set("tenant", tenantID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var entries []DeadLetterEntry
	err := c.get(path, &entries)
	return entries, err
}

// Requeue moves a dead-lettered item back into the queue with a fresh
// attempt budget.
func (c *Client) Requeue(id string) (*WorkItem, error) {
	var item WorkItem
	if err := c.post("/api/dlq/"+url.PathEscape(id)+"/requeue", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// PauseTenant stops dequeues for a tenant.
func (c *Client) PauseTenant(tenantID string) error {
	return c.post("/api/tenants/"+url.PathEscape(tenantID)+"/pause", nil, nil)
}

// ResumeTenant resumes dequeues for a tenant.
func (c *Client) ResumeTenant(tenantID string) error {
	return c.post("/api/tenants/"+url.PathEscape(tenantID)+"/resume", nil, nil)
}

// CheckEmail runs a synchronous deliverability check.
func (c *Client) CheckEmail(address string) (*Verdict, error) {
	var verdict Verdict
	if err := c.post("/api/checks/email", map[string]string{"address": address}, &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// CheckDomain runs a synchronous sender-domain posture check.
func (c *Client) CheckDomain(domain string) (*DomainReport, error) {
	var report DomainReport
	if err := c.post("/api/checks/domain", map[string]string{"domain": domain}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) get(path string, result interface{}) error {
	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *Client) post(path string, body, result interface{}) error {
	resp, err := c.doRequest("POST", path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *Client) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s (status code %d)", string(data), resp.StatusCode)
	}

	return resp, nil
}
