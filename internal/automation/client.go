package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrConfigInvalid     = errors.New("automation config invalid")
	ErrRemoteUnavailable = errors.New("automation server unavailable")
	ErrResponseInvalid   = errors.New("automation response invalid")
	ErrRequestRejected   = errors.New("automation request rejected")
)

// 远端接口路径
const (
	EndpointSubmitJob   = "/api/submit-job"
	EndpointStatus      = "/api/status"
	EndpointResults     = "/api/results"
	EndpointRecentQueue = "/api/recent-queue"
	EndpointDBStats     = "/api/db-stats"
)

// 调用结果标签
const (
	CallResultOK          = "ok"
	CallResultUnavailable = "unavailable"
	CallResultRejected    = "rejected"
	CallResultInvalid     = "invalid"
)

const maxResponseBytes = 4 << 20

// Config 自动化服务器客户端配置
type Config struct {
	BaseURL          string
	APIKey           string
	SubmitTimeout    time.Duration
	QueryTimeout     time.Duration
	SubmitRatePerSec float64
}

// CallObserver 远端调用观测回调
type CallObserver func(endpoint, result string, elapsed time.Duration)

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 指定 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithObserver 指定调用观测回调
func WithObserver(observer CallObserver) Option {
	return func(c *Client) {
		c.observe = observer
	}
}

// Client 自动化服务器客户端，唯一与远端交互的组件
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	observe CallObserver
}

// NewClient 创建客户端
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid base url", ErrConfigInvalid)
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
	if cfg.SubmitRatePerSec > 0 {
		burst := int(cfg.SubmitRatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSec), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubmitJob 提交自动化任务，远端异步执行并通过事件流回报进度
func (c *Client) SubmitJob(ctx context.Context, playerID, code string, metadata map[string]interface{}) (*SubmitResult, error) {
	playerID = strings.TrimSpace(playerID)
	code = strings.TrimSpace(code)
	if playerID == "" || code == "" {
		return nil, fmt.Errorf("%w: player id and code are required", ErrRequestRejected)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
	}

	var result SubmitResult
	err := c.do(ctx, c.cfg.SubmitTimeout, http.MethodPost, EndpointSubmitJob, nil, SubmitRequest{
		PlayerID: playerID,
		Code:     code,
		Metadata: metadata,
	}, &result)
	if err != nil {
		return nil, err
	}
	result.RequestID = strings.TrimSpace(result.RequestID)
	if result.RequestID == "" {
		return nil, fmt.Errorf("%w: missing requestId", ErrResponseInvalid)
	}
	return &result, nil
}

// GetStatus 查询远端状态
func (c *Client) GetStatus(ctx context.Context) (*ServerStatus, error) {
	raw := map[string]interface{}{}
	if err := c.do(ctx, c.cfg.QueryTimeout, http.MethodGet, EndpointStatus, nil, nil, &raw); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	status := &ServerStatus{}
	if err := json.Unmarshal(encoded, status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	status.Raw = raw
	return status, nil
}

// GetResults 分页查询历史结果
func (c *Client) GetResults(ctx context.Context, page, pageSize int) (*ResultPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))

	var result ResultPage
	if err := c.do(ctx, c.cfg.QueryTimeout, http.MethodGet, EndpointResults, query, nil, &result); err != nil {
		return nil, err
	}
	if result.Results == nil {
		result.Results = []JobResult{}
	}
	if result.Page == 0 {
		result.Page = page
	}
	if result.PageSize == 0 {
		result.PageSize = pageSize
	}
	return &result, nil
}

// GetRecentQueueItems 查询最近队列项
func (c *Client) GetRecentQueueItems(ctx context.Context) ([]QueueItem, error) {
	var resp struct {
		Items []QueueItem `json:"items"`
	}
	if err := c.do(ctx, c.cfg.QueryTimeout, http.MethodGet, EndpointRecentQueue, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		return []QueueItem{}, nil
	}
	return resp.Items, nil
}

// GetDatabaseStats 查询远端数据库统计
func (c *Client) GetDatabaseStats(ctx context.Context) (DatabaseStats, error) {
	stats := DatabaseStats{}
	if err := c.do(ctx, c.cfg.QueryTimeout, http.MethodGet, EndpointDBStats, nil, nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, endpoint string, query url.Values, body interface{}, out interface{}) (err error) {
	started := time.Now()
	defer func() {
		if c.observe != nil {
			c.observe(endpoint, classifyCallError(err), time.Since(started))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := c.cfg.BaseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("%w: marshal request: %v", ErrRequestRejected, marshalErr)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRequestRejected, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRemoteUnavailable, method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrRemoteUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: http status %d", ErrRemoteUnavailable, method, endpoint, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s %s: rate limited", ErrRemoteUnavailable, method, endpoint)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s %s: http status %d: %s", ErrRequestRejected, method, endpoint, resp.StatusCode, remoteErrorMessage(raw))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s %s: http status %d", ErrResponseInvalid, method, endpoint, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: %s %s: empty body", ErrResponseInvalid, method, endpoint)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrResponseInvalid, method, endpoint, err)
	}
	return nil
}

func remoteErrorMessage(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func classifyCallError(err error) string {
	switch {
	case err == nil:
		return CallResultOK
	case errors.Is(err, ErrRemoteUnavailable):
		return CallResultUnavailable
	case errors.Is(err, ErrRequestRejected):
		return CallResultRejected
	default:
		return CallResultInvalid
	}
}

// IsTimeout 判断是否为超时错误
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
