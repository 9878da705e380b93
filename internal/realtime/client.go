package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/keyrelay/internal/logger"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const (
	defaultReconnectMin = 2 * time.Second
	defaultReconnectMax = time.Minute
	defaultDialTimeout  = 10 * time.Second
	defaultPath         = "/socket.io"
)

var ErrClientClosed = errors.New("socket client closed")

// Config 实时通道配置
type Config struct {
	URL          string
	Namespace    string
	Room         string
	JoinEvent    string
	APIKey       string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	DialTimeout  time.Duration
}

// EventHandler 事件回调，须快速返回
type EventHandler func(ctx context.Context, event Event)

// Hooks 连接生命周期回调
type Hooks struct {
	OnConnect    func(ctx context.Context)
	OnDisconnect func(err error)
	OnReconnect  func(attempt int)
}

// Endpoint 服务端地址与 Engine.IO 路径
type Endpoint struct {
	Origin string
	Path   string
}

// Client Socket.IO 客户端，断线后按上限退避重连并重新加入房间
type Client struct {
	cfg      Config
	endpoint Endpoint
	handler  EventHandler
	hooks    Hooks

	sock atomic.Pointer[socket.Socket]
}

// NewClient 创建客户端
func NewClient(cfg Config, handler EventHandler, hooks Hooks) (*Client, error) {
	if handler == nil {
		return nil, errors.New("event handler is required")
	}
	endpoint, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = "/"
	}
	if strings.TrimSpace(cfg.JoinEvent) == "" {
		cfg.JoinEvent = "join-room"
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = defaultReconnectMax
		if cfg.ReconnectMax < cfg.ReconnectMin {
			cfg.ReconnectMax = cfg.ReconnectMin
		}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Client{
		cfg:      cfg,
		endpoint: endpoint,
		handler:  handler,
		hooks:    hooks,
	}, nil
}

// ParseURL 拆出 http(s) 源地址与 Engine.IO 路径，ws(s) 视同 http(s)
func ParseURL(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, errors.New("socket url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid socket url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "http"
	case "https", "wss":
		u.Scheme = "https"
	default:
		return Endpoint{}, fmt.Errorf("unsupported socket url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return Endpoint{}, errors.New("socket url host is required")
	}
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = defaultPath
	}
	return Endpoint{Origin: u.Scheme + "://" + u.Host, Path: path}, nil
}

// Connected 当前是否已连接
func (c *Client) Connected() bool {
	io := c.sock.Load()
	return io != nil && io.Connected()
}

// options 连接参数；重连退避由库按毫秒计算
func (c *Client) options() *socket.Options {
	opts := socket.DefaultOptions()
	opts.SetPath(c.endpoint.Path)
	opts.SetTransports(types.NewSet(transports.WebSocket))
	opts.SetAutoConnect(false)
	opts.SetForceNew(true)
	opts.SetReconnection(true)
	opts.SetReconnectionDelay(float64(c.cfg.ReconnectMin.Milliseconds()))
	opts.SetReconnectionDelayMax(float64(c.cfg.ReconnectMax.Milliseconds()))
	opts.SetTimeout(c.cfg.DialTimeout)
	if c.cfg.APIKey != "" {
		header := http.Header{}
		header.Set("X-API-Key", c.cfg.APIKey)
		opts.SetExtraHeaders(header)
		opts.SetAuth(map[string]any{"token": c.cfg.APIKey})
	}
	return opts
}

// Run 保持连接直到 ctx 结束
func (c *Client) Run(ctx context.Context) error {
	opts := c.options()
	manager := socket.NewManager(c.endpoint.Origin, opts)
	io := manager.Socket(c.cfg.Namespace, opts)
	c.sock.Store(io)
	defer c.sock.Store(nil)

	io.On("connect", func(...any) {
		if room := strings.TrimSpace(c.cfg.Room); room != "" {
			if err := io.Emit(c.cfg.JoinEvent, room); err != nil {
				logger.Warnw("realtime_join_room_failed", "room", room, "error", err)
			}
		}
		logger.Infow("realtime_connected", "url", c.endpoint.Origin, "sid", io.Id(), "room", c.cfg.Room)
		if c.hooks.OnConnect != nil {
			c.hooks.OnConnect(ctx)
		}
	})
	io.On("connect_error", func(args ...any) {
		logger.Warnw("realtime_connect_error", "url", c.endpoint.Origin, "error", firstError(args))
	})
	io.On("disconnect", func(args ...any) {
		reason := ""
		if len(args) > 0 {
			reason, _ = args[0].(string)
		}
		err := firstError(args)
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrClientClosed, reason)
		}
		logger.Warnw("realtime_disconnected", "url", c.endpoint.Origin, "reason", reason, "error", err)
		if c.hooks.OnDisconnect != nil {
			c.hooks.OnDisconnect(err)
		}
		// 服务端主动断开命名空间时库不会自动重连
		if reason == "io server disconnect" && ctx.Err() == nil {
			io.Connect()
		}
	})
	io.OnAny(func(args ...any) {
		event, err := eventFromArgs(c.cfg.Namespace, args)
		if err != nil {
			logger.Warnw("realtime_event_decode_failed", "error", err)
			return
		}
		c.handler(ctx, event)
	})
	manager.On("reconnect_attempt", func(args ...any) {
		attempt := 0
		if len(args) > 0 {
			if n, ok := args[0].(uint64); ok {
				attempt = int(n)
			}
		}
		logger.Debugw("realtime_reconnect_attempt", "url", c.endpoint.Origin, "attempt", attempt)
		if c.hooks.OnReconnect != nil {
			c.hooks.OnReconnect(attempt)
		}
	})
	manager.On("reconnect_error", func(args ...any) {
		logger.Debugw("realtime_reconnect_error", "url", c.endpoint.Origin, "error", firstError(args))
	})

	io.Connect()
	<-ctx.Done()
	io.Disconnect()
	return ctx.Err()
}

// Emit 发送事件
func (c *Client) Emit(name string, args ...any) error {
	io := c.sock.Load()
	if io == nil || !io.Connected() {
		return ErrClientClosed
	}
	return io.Emit(name, args...)
}

func firstError(args []any) error {
	for _, arg := range args {
		if err, ok := arg.(error); ok && err != nil {
			return err
		}
	}
	return nil
}
