package xdlock

import (
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xlockreg/pkg/observability/xlog"
)

// =============================================================================
// 默认值
// =============================================================================

const (
	// DefaultKeyPrefix 默认注册表 key
	DefaultKeyPrefix = "lock"

	// DefaultTTL 默认租期
	DefaultTTL = 60 * time.Second

	// DefaultIdleBetweenTries spin 模式默认轮询间隔
	DefaultIdleBetweenTries = 100 * time.Millisecond

	// DefaultCacheCapacity 默认缓存的锁条目上限
	DefaultCacheCapacity = 100_000

	// asyncReleaseTimeout 异步释放远端锁的超时
	asyncReleaseTimeout = 10 * time.Second
)

// =============================================================================
// 获取模式
// =============================================================================

// Mode 远端锁的等待方式。
type Mode int

const (
	// ModeSpin 按 IdleBetweenTries 轮询
	ModeSpin Mode = iota
	// ModePubSub 订阅释放通知，被唤醒后重试
	ModePubSub
)

func (m Mode) String() string {
	switch m {
	case ModeSpin:
		return "spin"
	case ModePubSub:
		return "pubsub"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode 解析 spin / pubsub（大小写不敏感，pub-sub 与 pub_sub 同义）。
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spin":
		return ModeSpin, nil
	case "pubsub", "pub-sub", "pub_sub":
		return ModePubSub, nil
	default:
		return ModeSpin, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// 选项
// =============================================================================

// Option 注册表配置选项。
type Option func(*options)

type options struct {
	keyPrefix        string
	ttl              time.Duration
	idleBetweenTries time.Duration
	cacheCapacity    int
	mode             Mode
	clientID         string

	executor      Executor
	scheduler     RenewalScheduler
	ownsScheduler bool

	sweepSchedule string
	sweepAge      time.Duration

	logger         xlog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func defaultOptions() *options {
	return &options{
		keyPrefix:        DefaultKeyPrefix,
		ttl:              DefaultTTL,
		idleBetweenTries: DefaultIdleBetweenTries,
		cacheCapacity:    DefaultCacheCapacity,
		mode:             ModeSpin,
	}
}

func (o *options) validate() error {
	switch {
	case strings.TrimSpace(o.keyPrefix) == "":
		return fmt.Errorf("%w: key prefix is empty", ErrInvalidConfig)
	case o.ttl < time.Millisecond:
		return fmt.Errorf("%w: ttl must be at least 1ms, got %s", ErrInvalidConfig, o.ttl)
	case o.idleBetweenTries <= 0:
		return fmt.Errorf("%w: idle between tries must be positive", ErrInvalidConfig)
	case o.cacheCapacity <= 0:
		return fmt.Errorf("%w: cache capacity must be positive", ErrInvalidConfig)
	case o.mode != ModeSpin && o.mode != ModePubSub:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidConfig, o.mode)
	case o.sweepSchedule != "" && o.sweepAge <= 0:
		return fmt.Errorf("%w: sweep age must be positive", ErrInvalidConfig)
	}
	return nil
}

// WithKeyPrefix 设置注册表 key，锁 key 为 prefix + ":" + name。
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

// WithClientID 指定注册表的 clientID，默认随机 UUID。
// 相同 clientID 的注册表对远端 key 视为同一持有者，用于运维工具续期或释放他人持有的锁。
func WithClientID(id string) Option {
	return func(o *options) {
		o.clientID = strings.TrimSpace(id)
	}
}

// WithTTL 设置远端锁租期，默认 60s。
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithIdleBetweenTries 设置 spin 模式的轮询间隔，默认 100ms。
func WithIdleBetweenTries(d time.Duration) Option {
	return func(o *options) {
		o.idleBetweenTries = d
	}
}

// WithCacheCapacity 设置本地缓存的锁条目上限，默认 100000。
func WithCacheCapacity(n int) Option {
	return func(o *options) {
		o.cacheCapacity = n
	}
}

// WithMode 设置获取模式，默认 ModeSpin。
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithExecutor 使用外部执行器运行异步释放。
// 外部执行器的生命周期由调用方管理，Destroy 不会等待它。
func WithExecutor(e Executor) Option {
	return func(o *options) {
		if e != nil {
			o.executor = e
		}
	}
}

// WithRenewalScheduler 使用外部调度器自动续期，Destroy 不会停止它。
func WithRenewalScheduler(s RenewalScheduler) Option {
	return func(o *options) {
		if s != nil {
			o.scheduler = s
			o.ownsScheduler = false
		}
	}
}

// WithRenewal 启用自动续期，使用注册表自有的 TickerScheduler，Destroy 时停止。
func WithRenewal() Option {
	return func(o *options) {
		o.scheduler = NewTickerScheduler()
		o.ownsScheduler = true
	}
}

// WithEvictionSweep 按 cron 表达式周期清理 age 以前获取过且当前未持有的条目。
//
// schedule 使用 robfig/cron 语法，例如 "@every 1m"。
func WithEvictionSweep(schedule string, age time.Duration) Option {
	return func(o *options) {
		o.sweepSchedule = schedule
		o.sweepAge = age
	}
}

// WithLogger 设置日志记录器，默认丢弃。
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeterProvider 设置 MeterProvider，未设置时不记录指标。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracerProvider 设置 TracerProvider，未设置时使用全局 provider。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// =============================================================================
// 配置文件映射
// =============================================================================

// Config 注册表的文件配置，字段带 koanf 标签，可由 xconf 直接反序列化。
type Config struct {
	KeyPrefix        string        `koanf:"key_prefix"`
	TTL              time.Duration `koanf:"ttl"`
	IdleBetweenTries time.Duration `koanf:"idle_between_tries"`
	CacheCapacity    int           `koanf:"cache_capacity"`
	ClientID         string        `koanf:"client_id"`
	Mode             string        `koanf:"mode"`
	Renewal          bool          `koanf:"renewal"`
	SweepSchedule    string        `koanf:"sweep_schedule"`
	SweepAge         time.Duration `koanf:"sweep_age"`
}

// Options 把非零字段转换为选项，零值字段保留默认值。
func (c Config) Options() ([]Option, error) {
	var opts []Option
	if c.KeyPrefix != "" {
		opts = append(opts, WithKeyPrefix(c.KeyPrefix))
	}
	if c.TTL != 0 {
		opts = append(opts, WithTTL(c.TTL))
	}
	if c.IdleBetweenTries != 0 {
		opts = append(opts, WithIdleBetweenTries(c.IdleBetweenTries))
	}
	if c.CacheCapacity != 0 {
		opts = append(opts, WithCacheCapacity(c.CacheCapacity))
	}
	if c.ClientID != "" {
		opts = append(opts, WithClientID(c.ClientID))
	}
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithMode(mode))
	if c.Renewal {
		opts = append(opts, WithRenewal())
	}
	if c.SweepSchedule != "" {
		opts = append(opts, WithEvictionSweep(c.SweepSchedule, c.SweepAge))
	}
	return opts, nil
}
