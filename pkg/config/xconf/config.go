package xconf

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置文件格式。
type Format string

// 支持的配置格式。
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Config 分层加载的配置：默认值 < 文件 < 环境变量。
//
// 并发安全。Reload 整体替换底层 koanf 实例，读操作看到的总是某一次完整加载的结果。
type Config struct {
	mu      sync.RWMutex
	k       *koanf.Koanf
	path    string
	format  Format
	opts    *options
	version atomic.Uint64
}

// Load 从文件加载配置，按扩展名识别格式（.yaml/.yml/.json）。
func Load(path string, opts ...Option) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	c := &Config{path: path, format: format, opts: applyOptions(opts)}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadBytes 从字节数据加载配置，data 为空时只包含默认值与环境变量。
func LoadBytes(data []byte, format Format, opts ...Option) (*Config, error) {
	if format != FormatYAML && format != FormatJSON {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	c := &Config{format: format, opts: applyOptions(opts)}
	k, err := c.build(data)
	if err != nil {
		return nil, err
	}
	c.k = k
	c.version.Store(1)
	return c, nil
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Reload 重新读取文件并替换当前配置。失败时保留旧配置。
func (c *Config) Reload() error {
	if c.path == "" {
		return ErrNotReloadable
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	k, err := c.build(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.k = k
	c.mu.Unlock()
	c.version.Add(1)
	return nil
}

// Unmarshal 把 path 下的配置解码到 target，path 为空表示整个配置。
// 时长字段接受 "30s" 形式的字符串，实现 encoding.TextUnmarshaler 的字段按文本解码。
func (c *Config) Unmarshal(path string, target any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.k.UnmarshalWithConf(path, target, koanf.UnmarshalConf{Tag: c.opts.tag}); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	return nil
}

// Exists 判断键是否存在。
func (c *Config) Exists(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.k.Exists(key)
}

// String 返回键对应的字符串值，不存在时返回空串。
func (c *Config) String(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.k.String(key)
}

// Path 返回配置文件路径，LoadBytes 创建的配置返回空串。
func (c *Config) Path() string { return c.path }

// Format 返回配置格式。
func (c *Config) Format() Format { return c.format }

// Version 每次成功加载加一。
func (c *Config) Version() uint64 { return c.version.Load() }

// build 按 默认值 → 文件 → 环境变量 的顺序构建新的 koanf 实例
func (c *Config) build(data []byte) (*koanf.Koanf, error) {
	k := koanf.New(c.opts.delim)
	for key, v := range c.opts.defaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("%w: default %s: %w", ErrParseFailed, key, err)
		}
	}
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parserFor(c.format)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	}
	if c.opts.envPrefix != "" {
		if err := overlayEnv(k, c.opts.envPrefix, c.opts.delim, os.Environ()); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func overlayEnv(k *koanf.Koanf, prefix, delim string, environ []string) error {
	prefix = strings.TrimSuffix(prefix, "_") + "_"
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		key = strings.ReplaceAll(key, "__", delim)
		if key == "" {
			continue
		}

		var v any = value
		if existing := k.Get(key); existing != nil && reflect.TypeOf(existing).Kind() == reflect.Slice {
			parts := make([]string, 0)
			for _, p := range strings.Split(value, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
			v = parts
		}
		if err := k.Set(key, v); err != nil {
			return fmt.Errorf("%w: env %s: %w", ErrParseFailed, name, err)
		}
	}
	return nil
}

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, ext)
	}
}

func parserFor(format Format) koanf.Parser {
	if format == FormatJSON {
		return json.Parser()
	}
	return yaml.Parser()
}
