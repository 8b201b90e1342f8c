package xconf

import "time"

type options struct {
	delim     string
	tag       string
	defaults  map[string]any
	envPrefix string
}

// Option 配置加载选项。
type Option func(*options)

func defaultOptions() *options {
	return &options{
		delim: ".",
		tag:   "koanf",
	}
}

// WithDelim 设置键分隔符，默认 "."。
func WithDelim(delim string) Option {
	return func(o *options) {
		if delim != "" {
			o.delim = delim
		}
	}
}

// WithTag 设置 Unmarshal 使用的结构体标签，默认 "koanf"。
func WithTag(tag string) Option {
	return func(o *options) {
		if tag != "" {
			o.tag = tag
		}
	}
}

// WithDefaults 设置默认值，键为完整路径（如 "lock.ttl"），优先级最低。
func WithDefaults(defaults map[string]any) Option {
	return func(o *options) {
		if o.defaults == nil {
			o.defaults = make(map[string]any, len(defaults))
		}
		for k, v := range defaults {
			o.defaults[k] = v
		}
	}
}

// WithEnvPrefix 启用环境变量覆盖，优先级最高。
//
// PREFIX_LOCK__KEY_PREFIX=orders 映射为 lock.key_prefix：去掉前缀后转小写，
// 双下划线表示层级。已有值为列表的键按逗号拆分。
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

type watchOptions struct {
	debounce time.Duration
}

// WatchOption 监视选项。
type WatchOption func(*watchOptions)

// WithDebounce 设置防抖时间，窗口内的多次变更只触发一次重载。默认 100ms。
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}
