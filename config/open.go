package config

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonwraymond/tokencache/auth"
	"github.com/jonwraymond/tokencache/content"
	"github.com/jonwraymond/tokencache/kv"
	"github.com/jonwraymond/tokencache/kv/boltkv"
	"github.com/jonwraymond/tokencache/kv/fskv"
	"github.com/jonwraymond/tokencache/kv/natskv"
	"github.com/jonwraymond/tokencache/kv/respkv"
	"github.com/jonwraymond/tokencache/kv/s3kv"
	"github.com/jonwraymond/tokencache/memo"
	"github.com/jonwraymond/tokencache/meta"
	"github.com/jonwraymond/tokencache/observe"
	"github.com/jonwraymond/tokencache/resilience"
	"github.com/jonwraymond/tokencache/token"
)

// Keyspaces inside the shared backend.
const (
	ContentPrefix = "c/"
	MetaPrefix    = "m/"
	TokenPrefix   = "t/"
)

// Stores are the three keyspaces of one backend.
type Stores struct {
	// Root is the backend, wrapped in kv.Resilient unless disabled.
	Root    kv.ListStore
	Content *content.Store
	Meta    *meta.Store
	Tokens  *token.KVSource

	// Raw views of each keyspace, for health checks and administration.
	ContentKV kv.ListStore
	MetaKV    kv.ListStore
	TokenKV   kv.ListStore
}

// Open connects to the configured backend and splits it into keyspaces.
// Circuit transitions are logged to logger when it is not nil.
func Open(ctx context.Context, cfg Config, logger observe.Logger) (*Stores, error) {
	backend, err := OpenBackend(ctx, cfg.Store, cfg.Content.MaxValueSize)
	if err != nil {
		return nil, err
	}
	root := backend
	if !cfg.Store.Resilience.Disabled {
		r := cfg.Store.Resilience
		root = kv.NewResilient(backend, kv.ResilientConfig{
			MaxAttempts:   r.MaxAttempts,
			InitialDelay:  r.InitialDelay,
			OpTimeout:     r.OpTimeout,
			MaxFailures:   r.MaxFailures,
			ResetTimeout:  r.ResetTimeout,
			OnStateChange: circuitLogger(logger, cfg.Store.Backend),
		})
	}

	s := &Stores{
		Root:      root,
		ContentKV: kv.NewPrefixed(root, ContentPrefix),
		MetaKV:    kv.NewPrefixed(root, MetaPrefix),
		TokenKV:   kv.NewPrefixed(root, TokenPrefix),
	}
	s.Content = content.New(s.ContentKV, cfg.ContentStore())
	s.Meta = meta.New(s.MetaKV)
	s.Tokens = token.NewKVSource(s.TokenKV)
	return s, nil
}

// Close closes the backend.
func (s *Stores) Close() error {
	return s.Root.Close()
}

// OpenBackend builds the bare backend named by cfg.Backend. maxValueSize is
// the content shard threshold, used to size server-side value limits.
func OpenBackend(ctx context.Context, cfg StoreConfig, maxValueSize int) (kv.ListStore, error) {
	switch cfg.Backend {
	case "memory":
		return kv.NewMemory(), nil
	case "bolt":
		return opened(boltkv.New(ctx, boltkv.Config{Path: cfg.URI, Bucket: cfg.Bucket, NoSync: cfg.NoSync}))
	case "fs":
		return opened(fskv.New(ctx, fskv.Config{Root: cfg.URI}))
	case "nats":
		limit := int32(0)
		if maxValueSize > 0 && maxValueSize < math.MaxInt32-64 {
			// Records carry a one byte tag.
			limit = int32(maxValueSize + 64)
		}
		return opened(natskv.New(ctx, natskv.Config{
			URL:          cfg.URI,
			Bucket:       cfg.Bucket,
			MaxValueSize: limit,
			Replicas:     cfg.Replicas,
		}))
	case "s3":
		return opened(s3kv.New(ctx, s3kv.Config{
			Endpoint:     cfg.URI,
			Bucket:       cfg.Bucket,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UseSSL:       cfg.UseSSL,
			Prefix:       cfg.Prefix,
			CreateBucket: cfg.CreateBucket,
		}))
	case "resp":
		pool, err := kv.NewPool(kv.PoolConfig{
			Size: cfg.PoolSize,
			Dial: respkv.Dialer(respkv.ClientConfig{Addr: cfg.URI, Timeout: cfg.Timeout}),
		})
		if err != nil {
			return nil, err
		}
		return pool.Store(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackend, cfg.Backend)
	}
}

// opened keeps a failed constructor from yielding a non-nil interface.
func opened[S kv.ListStore](s S, err error) (kv.ListStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

func circuitLogger(logger observe.Logger, backend string) func(from, to resilience.State) {
	if logger == nil {
		return nil
	}
	return func(from, to resilience.State) {
		fields := []observe.Field{
			{Key: "backend", Value: backend},
			{Key: "from", Value: from.String()},
			{Key: "to", Value: to.String()},
		}
		if to == resilience.StateOpen {
			logger.Warn(context.Background(), "store circuit opened", fields...)
			return
		}
		logger.Info(context.Background(), "store circuit changed", fields...)
	}
}

// NewRegistry creates the token registry over the token keyspace.
func NewRegistry(cfg Config, s *Stores) (*token.Registry, error) {
	reg, err := token.NewRegistry(s.Tokens, token.Config{RefreshInterval: cfg.Registry.RefreshInterval})
	if err != nil {
		return nil, err
	}
	reg.AddGlobal(cfg.Globals()...)
	return reg, nil
}

// NewManager creates a cache manager over s and reg.
func NewManager(cfg Config, s *Stores, reg *token.Registry, obs observe.Observer) (*memo.Manager, error) {
	return memo.New(cfg.Memo(), memo.Deps{
		Content:  s.Content,
		Meta:     s.Meta,
		Registry: reg,
		Observer: obs,
	})
}

// NewSweeper creates the reachability sweeper over s.
func NewSweeper(cfg Config, s *Stores, logger observe.Logger) (*memo.Sweeper, error) {
	return memo.NewSweeper(s.Content, s.Meta, memo.SweeperConfig{
		FalsePositiveRate: cfg.Sweeper.FalsePositiveRate,
		DeleteRate:        cfg.Sweeper.DeleteRate,
		Logger:            logger,
	})
}

// NewGuard builds the admin API guard. It returns a guard that admits every
// request when no credential is configured.
func NewGuard(cfg AuthConfig) (*auth.Guard, error) {
	var authns []auth.Authenticator
	if len(cfg.APIKeys) > 0 {
		keys := auth.NewKeySet()
		for _, k := range cfg.APIKeys {
			if err := keys.AddSecret(k.ID, k.Key, k.Principal, k.Roles...); err != nil {
				return nil, fmt.Errorf("config: api key %q: %w", k.ID, err)
			}
		}
		authns = append(authns, auth.NewAPIKeyAuthenticator("", keys))
	}
	if cfg.JWT.Secret != "" {
		j, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret:   []byte(cfg.JWT.Secret),
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			Leeway:   30 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		authns = append(authns, j)
	}
	if len(authns) == 0 {
		return auth.NewGuard(nil, nil), nil
	}
	return auth.NewGuard(auth.NewComposite(authns...), auth.NewRoleAuthorizer(nil)), nil
}
