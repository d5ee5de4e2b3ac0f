package chainofcustody

import (
	"log/slog"
	"time"

	"github.com/ajazfarhad/chainofcustody/custody"
)

type Client = custody.Service

type Option func(*config)

type config struct {
	now         func() time.Time
	logger      *slog.Logger
	access      AccessRecorder
	sanitizer   custody.Sanitizer
	chain       ChainMode
	permissions custody.Permissions
}

func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

func WithAccessRecorder(a AccessRecorder) Option {
	return func(c *config) { c.access = a }
}

func WithSanitizer(s custody.Sanitizer) Option {
	return func(c *config) { c.sanitizer = s }
}

func WithChainMode(m ChainMode) Option {
	return func(c *config) { c.chain = m }
}

// WithPermissions renames the permissions guarding transfers and registration.
func WithPermissions(transfer, register string) Option {
	return func(c *config) {
		c.permissions = custody.Permissions{Transfer: transfer, Register: register}
	}
}

// New returns a custody client over store, enforcing policy.
func New(store Store, policy Policy, opts ...Option) *Client {
	cfg := config{chain: ChainFromApprover}
	for _, opt := range opts {
		opt(&cfg)
	}

	custodyOpts := []custody.Option{
		custody.WithChainMode(cfg.chain),
		custody.WithPermissions(cfg.permissions),
		custody.WithLogger(cfg.logger),
		custody.WithAccessRecorder(cfg.access),
		custody.WithSanitizer(cfg.sanitizer),
	}
	if cfg.now != nil {
		custodyOpts = append(custodyOpts, custody.WithClock(cfg.now))
	}

	return custody.NewService(store, policy, custodyOpts...)
}
