// Package mongoutil 建立带重试的 MongoDB 连接。
package mongoutil

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"CareLink/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
)

type Client struct {
	cli *mongo.Client
	db  *mongo.Database
}

func (c *Client) DB() *mongo.Database { return c.db }

func (c *Client) Ping(ctx context.Context) error { return c.cli.Ping(ctx, nil) }

func (c *Client) Disconnect(ctx context.Context) error { return c.cli.Disconnect(ctx) }

func clientOptions(cfg *Config) *options.ClientOptions {
	opts := options.Client().
		ApplyURI(cfg.Uri).
		SetMaxPoolSize(uint64(cfg.MaxPoolSize)).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAppName("carelink-gateway")
	// Uri 自带认证时不覆盖
	if cfg.Username != "" && len(cfg.Address) == 0 {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}
	return opts
}

// Connect 连上并 ping 通才返回。网络错误按指数退避加抖动重试，认证失败立即返回
func Connect(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	opts := clientOptions(cfg)

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetry; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(backoff(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, errs.WrapMsg(ctx.Err(), "mongo connect cancelled", "database", cfg.Database)
			case <-t.C:
			}
		}
		cli, err := dial(ctx, opts)
		if err == nil {
			return &Client{cli: cli, db: cli.Database(cfg.Database)}, nil
		}
		lastErr = err
		if !shouldRetry(ctx, err) {
			break
		}
	}
	return nil, errs.WrapMsg(lastErr, "failed to connect to MongoDB", "database", cfg.Database)
}

func dial(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

// backoff 第 n 次重试前等待 base<<(n-1)，封顶 maxBackoff，减去至多 10% 抖动
func backoff(attempt int) time.Duration {
	d := maxBackoff
	if attempt < 6 {
		if s := baseBackoff << (attempt - 1); s < maxBackoff {
			d = s
		}
	}
	return d - time.Duration(rand.Int63n(int64(d/10)+1))
}

// shouldRetry 13 Unauthorized / 18 AuthenticationFailed 不重试
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != 13 && cmdErr.Code != 18
	}
	return true
}

func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
