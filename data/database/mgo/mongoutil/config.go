package mongoutil

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"CareLink/tools/errs"
)

const (
	defaultMaxPoolSize    = 100
	defaultMaxRetry       = 3
	defaultConnectTimeout = 10 * time.Second
)

// Config Uri 优先；没有 Uri 时用 Address 拼出连接串
type Config struct {
	Uri            string
	Address        []string
	Database       string
	Username       string
	Password       string
	AuthSource     string // 为空时用 Database
	MaxPoolSize    int
	MaxRetry       int // 首次连接的尝试次数
	ConnectTimeout time.Duration
}

// Normalize 校验并补默认值，必要时生成 Uri
func (c *Config) Normalize() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.New("mongo: either uri or address must be provided")
	}
	if c.Database == "" {
		return errs.New("mongo: database is required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.Uri == "" {
		c.Uri = c.buildURI()
	}
	return nil
}

// buildURI 用户名密码做 URL 转义
func (c *Config) buildURI() string {
	authSource := c.AuthSource
	if authSource == "" {
		authSource = c.Database
	}
	u := url.URL{
		Scheme: "mongodb",
		Host:   strings.Join(c.Address, ","),
		Path:   "/" + c.Database,
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	q := url.Values{}
	q.Set("authSource", authSource)
	q.Set("maxPoolSize", strconv.Itoa(c.MaxPoolSize))
	u.RawQuery = q.Encode()
	return u.String()
}
