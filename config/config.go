// Package config loads viewcache settings from a file and the environment and
// turns them into viewcache.Options.
//
// Every key can be overridden from the environment with the VIEWCACHE_ prefix,
// dots replaced by underscores: VIEWCACHE_PARK_PROVIDER=redis.
package config

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/viewcache"
	"github.com/unkn0wn-root/viewcache/codec"
	"github.com/unkn0wn-root/viewcache/epochs"
	logruslog "github.com/unkn0wn-root/viewcache/log/logrus"
	slogadapter "github.com/unkn0wn-root/viewcache/log/slog"
	zaplog "github.com/unkn0wn-root/viewcache/log/zap"
	"github.com/unkn0wn-root/viewcache/provider"
	bcprovider "github.com/unkn0wn-root/viewcache/provider/bigcache"
	redisprovider "github.com/unkn0wn-root/viewcache/provider/redis"
	rprovider "github.com/unkn0wn-root/viewcache/provider/ristretto"
)

const envPrefix = "VIEWCACHE"

type Settings struct {
	Kinds            map[string]string `mapstructure:"kinds"`
	MutationTimeout  time.Duration     `mapstructure:"mutation_timeout"`
	ReconcileWorkers int               `mapstructure:"reconcile_workers"`
	ActiveOnly       bool              `mapstructure:"active_only"`
	IdleTimeout      time.Duration     `mapstructure:"idle_timeout"`
	SweepInterval    time.Duration     `mapstructure:"sweep_interval"`

	Log    LogSettings   `mapstructure:"log"`
	Park   ParkSettings  `mapstructure:"park"`
	Epochs EpochSettings `mapstructure:"epochs"`
	Redis  RedisSettings `mapstructure:"redis"`
}

type LogSettings struct {
	Backend string `mapstructure:"backend"` // nop | logrus | zap | slog
	Level   string `mapstructure:"level"`   // debug | info | warn | error
}

type ParkSettings struct {
	Provider  string        `mapstructure:"provider"` // none | ristretto | bigcache | redis
	Codec     string        `mapstructure:"codec"`    // json | msgpack | cbor | proto
	TTL       time.Duration `mapstructure:"ttl"`
	MaxCost   int64         `mapstructure:"max_cost"`   // ristretto budget in bytes
	Shards    int           `mapstructure:"shards"`     // bigcache
	MaxDecode int           `mapstructure:"max_decode"` // reject larger payloads; 0 = off
	Prefix    string        `mapstructure:"prefix"`     // redis key prefix
}

type EpochSettings struct {
	Backend   string        `mapstructure:"backend"` // local | redis
	Namespace string        `mapstructure:"namespace"`
	TTL       time.Duration `mapstructure:"ttl"` // redis key TTL
	Cleanup   time.Duration `mapstructure:"cleanup"`
	Retention time.Duration `mapstructure:"retention"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var (
	ErrUnknownBackend = errors.New("config: unknown backend")
	ErrUnknownKind    = errors.New("config: unknown view kind")
)

// Load reads path (any format viper understands) and the environment.
// An empty path loads defaults and environment only.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	normalize(&s)
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mutation_timeout", 10*time.Second)
	v.SetDefault("reconcile_workers", 4)
	v.SetDefault("active_only", false)
	v.SetDefault("idle_timeout", 5*time.Minute)
	v.SetDefault("sweep_interval", time.Minute)

	v.SetDefault("log.backend", "nop")
	v.SetDefault("log.level", "info")

	v.SetDefault("park.provider", "none")
	v.SetDefault("park.codec", "json")
	v.SetDefault("park.ttl", 30*time.Minute)
	v.SetDefault("park.max_cost", int64(64<<20))
	v.SetDefault("park.shards", 64)
	v.SetDefault("park.max_decode", 0)
	v.SetDefault("park.prefix", "viewcache:")

	v.SetDefault("epochs.backend", "local")
	v.SetDefault("epochs.namespace", "viewcache")
	v.SetDefault("epochs.ttl", 24*time.Hour)
	v.SetDefault("epochs.cleanup", time.Hour)
	v.SetDefault("epochs.retention", 24*time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

func normalize(s *Settings) {
	s.Log.Backend = strings.ToLower(strings.TrimSpace(s.Log.Backend))
	s.Log.Level = strings.ToLower(strings.TrimSpace(s.Log.Level))
	s.Park.Provider = strings.ToLower(strings.TrimSpace(s.Park.Provider))
	s.Park.Codec = strings.ToLower(strings.TrimSpace(s.Park.Codec))
	s.Epochs.Backend = strings.ToLower(strings.TrimSpace(s.Epochs.Backend))
	if s.Park.Provider == "" {
		s.Park.Provider = "none"
	}
}

// Validate checks backend names and view kinds.
func (s *Settings) Validate() error {
	if !oneOf(s.Log.Backend, "", "nop", "logrus", "zap", "slog") {
		return fmt.Errorf("%w: log.backend=%q", ErrUnknownBackend, s.Log.Backend)
	}
	if !oneOf(s.Park.Provider, "none", "ristretto", "bigcache", "redis") {
		return fmt.Errorf("%w: park.provider=%q", ErrUnknownBackend, s.Park.Provider)
	}
	if !oneOf(s.Park.Codec, "", "json", "msgpack", "cbor", "proto") {
		return fmt.Errorf("%w: park.codec=%q", ErrUnknownBackend, s.Park.Codec)
	}
	if !oneOf(s.Epochs.Backend, "", "local", "redis") {
		return fmt.Errorf("%w: epochs.backend=%q", ErrUnknownBackend, s.Epochs.Backend)
	}
	for ns, k := range s.Kinds {
		if _, err := parseKind(k); err != nil {
			return fmt.Errorf("kinds.%s: %w", ns, err)
		}
	}
	return nil
}

// Options builds client options. The returned cleanup closes what Options
// created outside the client (the shared Redis client, logger buffers);
// call it after Client.Close.
func (s *Settings) Options(fetch viewcache.FetchFunc) (viewcache.Options, func(context.Context) error, error) {
	var closers []func() error
	cleanup := func(context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (viewcache.Options, func(context.Context) error, error) {
		_ = cleanup(context.Background())
		return viewcache.Options{}, nil, err
	}

	log, closeLog, err := s.logger()
	if err != nil {
		return fail(err)
	}
	if closeLog != nil {
		closers = append(closers, closeLog)
	}

	var rdb goredis.UniversalClient
	redisClient := func() goredis.UniversalClient {
		if rdb == nil {
			rdb = goredis.NewClient(&goredis.Options{
				Addr:     s.Redis.Addr,
				Password: s.Redis.Password,
				DB:       s.Redis.DB,
			})
			closers = append(closers, rdb.Close)
		}
		return rdb
	}

	opts := viewcache.Options{
		Fetch:            fetch,
		Logger:           log,
		MutationTimeout:  s.MutationTimeout,
		ReconcileWorkers: s.ReconcileWorkers,
		ActiveOnly:       s.ActiveOnly,
		EpochCleanup:     s.Epochs.Cleanup,
		EpochRetention:   s.Epochs.Retention,
		Store: viewcache.StoreOptions{
			IdleTimeout:   s.IdleTimeout,
			SweepInterval: s.SweepInterval,
			ParkTTL:       s.Park.TTL,
		},
	}

	if len(s.Kinds) > 0 {
		opts.Kinds = make(map[string]viewcache.ViewKind, len(s.Kinds))
		for ns, k := range s.Kinds {
			kind, err := parseKind(k)
			if err != nil {
				return fail(err)
			}
			opts.Kinds[ns] = kind
		}
	}

	if s.Epochs.Backend == "redis" {
		opts.Store.Epochs = epochs.NewRedis(redisClient(), s.Epochs.Namespace, s.Epochs.TTL)
	}

	p, err := s.provider(redisClient)
	if err != nil {
		return fail(err)
	}
	if p != nil {
		opts.Store.Provider = p
		c, err := s.codec()
		if err != nil {
			return fail(err)
		}
		opts.Store.Codec = c
	}
	return opts, cleanup, nil
}

func (s *Settings) provider(redisClient func() goredis.UniversalClient) (provider.Provider, error) {
	switch s.Park.Provider {
	case "none":
		return nil, nil
	case "ristretto":
		return rprovider.New(rprovider.Config{
			NumCounters: max(s.Park.MaxCost/100, 1000),
			MaxCost:     s.Park.MaxCost,
		})
	case "bigcache":
		return bcprovider.New(bcprovider.Config{
			LifeWindow: s.Park.TTL,
			Shards:     s.Park.Shards,
		})
	case "redis":
		return redisprovider.New(redisprovider.Config{
			Client: redisClient(),
			Prefix: s.Park.Prefix,
		})
	default:
		return nil, fmt.Errorf("%w: park.provider=%q", ErrUnknownBackend, s.Park.Provider)
	}
}

func (s *Settings) codec() (codec.Codec[viewcache.Data], error) {
	var c codec.Codec[viewcache.Data]
	switch s.Park.Codec {
	case "", "json":
		c = codec.JSON[viewcache.Data]{}
	case "msgpack":
		c = codec.Msgpack[viewcache.Data]{}
	case "cbor":
		cb, err := codec.NewCBOR[viewcache.Data](false)
		if err != nil {
			return nil, err
		}
		c = cb
	case "proto":
		c = codec.Proto[viewcache.Data]{}
	default:
		return nil, fmt.Errorf("%w: park.codec=%q", ErrUnknownBackend, s.Park.Codec)
	}
	if s.Park.MaxDecode > 0 {
		c = codec.Limit[viewcache.Data]{Inner: c, MaxDecode: s.Park.MaxDecode}
	}
	return c, nil
}

func (s *Settings) logger() (viewcache.Logger, func() error, error) {
	switch s.Log.Backend {
	case "", "nop":
		return viewcache.NopLogger{}, nil, nil
	case "logrus":
		l := logrus.New()
		lvl, err := logrus.ParseLevel(s.Log.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log.level: %w", err)
		}
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return logruslog.New(l), nil, nil
	case "zap":
		lvl, err := zapcore.ParseLevel(s.Log.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log.level: %w", err)
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		l, err := cfg.Build()
		if err != nil {
			return nil, nil, err
		}
		// Sync on stderr returns EINVAL on some platforms; not worth failing close for
		return zaplog.New(l), func() error { _ = l.Sync(); return nil }, nil
	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(s.Log.Level)); err != nil {
			return nil, nil, fmt.Errorf("log.level: %w", err)
		}
		h := stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: lvl})
		return slogadapter.Logger{L: stdslog.New(h).With("component", "viewcache")}, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: log.backend=%q", ErrUnknownBackend, s.Log.Backend)
	}
}

func parseKind(s string) (viewcache.ViewKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "detail":
		return viewcache.KindDetail, nil
	case "list", "page":
		return viewcache.KindListPage, nil
	case "infinite", "feed":
		return viewcache.KindInfinite, nil
	default:
		return viewcache.KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func oneOf(v string, opts ...string) bool {
	for _, o := range opts {
		if v == o {
			return true
		}
	}
	return false
}
