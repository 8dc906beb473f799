package nio

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"gopkg.in/yaml.v3"
)

// maxStoreSize is the spec's hard ceiling on storeSize: 2^33 bytes (8 GiB).
const maxStoreSize = 1 << 33

// SessionInitializer installs handlers into a newly accepted or connected
// session's pipeline.
type SessionInitializer func(pipeline *HandlerPipeline) error

// EventLoopListener observes coarse event loop lifecycle transitions.
type EventLoopListener interface {
	// Destroy is called exactly once, on the loop goroutine as Run
	// returns, after all pools have been closed and before Done's channel
	// is closed.
	Destroy()
}

// Config is the fully resolved, validated runtime configuration. Build it
// with Builder or LoadConfig; the zero value is not valid.
type Config struct {
	Host    string
	Port    int
	Backlog int

	Daemon bool
	Name   string

	MaxConns       int
	MaxServerConns int
	MaxClientConns int

	AutoRead     bool
	BufferDirect bool

	BufferSize int64
	PoolSize   int64
	StoreSize  int64

	MaxReadBuffers  int
	MaxWriteBuffers int
	WriteSpinCount  int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// WriteBytesPerSec bounds per-session egress throughput via a token
	// bucket. Zero (the default) bypasses shaping entirely.
	WriteBytesPerSec int

	LogLevel  string
	LogFormat string
	LogFile   string

	ServerInitializer SessionInitializer
	ClientInitializer SessionInitializer
	EventLoopListener EventLoopListener
}

// yamlConfig is the on-disk shape LoadConfig parses, with byte-size
// fields as human-readable strings before ParseByteSize resolves them.
type yamlConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Backlog int    `yaml:"backlog"`

	Daemon bool   `yaml:"daemon"`
	Name   string `yaml:"name"`

	MaxConns       int `yaml:"max_conns"`
	MaxServerConns int `yaml:"max_server_conns"`
	MaxClientConns int `yaml:"max_client_conns"`

	AutoRead     *bool `yaml:"auto_read"`
	BufferDirect *bool `yaml:"buffer_direct"`

	BufferSize string `yaml:"buffer_size"`
	PoolSize   string `yaml:"pool_size"`
	StoreSize  string `yaml:"store_size"`

	MaxReadBuffers  int `yaml:"max_read_buffers"`
	MaxWriteBuffers int `yaml:"max_write_buffers"`
	WriteSpinCount  int `yaml:"write_spin_count"`

	ConnectTimeoutMS int `yaml:"connect_timeout_ms"`
	ReadTimeoutMS    int `yaml:"read_timeout_ms"`
	WriteTimeoutMS   int `yaml:"write_timeout_ms"`

	WriteBytesPerSec int `yaml:"write_bytes_per_sec"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

// ParseByteSize converts human-readable size strings ("256mb", "2gb",
// "1024") into a byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}

// LoadConfig reads and validates a YAML configuration document, mirroring
// the teacher's LoadServerConfig/validate layering.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nio: reading config: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("nio: parsing config: %w", err)
	}

	b := NewBuilder()
	if raw.Host != "" {
		b.WithHost(raw.Host)
	}
	if raw.Port != 0 {
		b.WithPort(raw.Port)
	}
	if raw.Backlog != 0 {
		b.WithBacklog(raw.Backlog)
	}
	b.WithDaemon(raw.Daemon)
	if raw.Name != "" {
		b.WithName(raw.Name)
	}
	if raw.MaxConns != 0 {
		b.WithMaxConns(raw.MaxConns)
	}
	if raw.MaxServerConns != 0 {
		b.WithMaxServerConns(raw.MaxServerConns)
	}
	if raw.MaxClientConns != 0 {
		b.WithMaxClientConns(raw.MaxClientConns)
	}
	if raw.AutoRead != nil {
		b.WithAutoRead(*raw.AutoRead)
	}
	if raw.BufferDirect != nil {
		b.WithBufferDirect(*raw.BufferDirect)
	}
	if raw.BufferSize != "" {
		sz, err := ParseByteSize(raw.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("nio: buffer_size: %w", err)
		}
		b.WithBufferSize(sz)
	}
	if raw.PoolSize != "" {
		sz, err := ParseByteSize(raw.PoolSize)
		if err != nil {
			return nil, fmt.Errorf("nio: pool_size: %w", err)
		}
		b.WithPoolSize(sz)
	}
	if raw.StoreSize != "" {
		sz, err := ParseByteSize(raw.StoreSize)
		if err != nil {
			return nil, fmt.Errorf("nio: store_size: %w", err)
		}
		b.WithStoreSize(sz)
	}
	if raw.MaxReadBuffers != 0 {
		b.WithMaxReadBuffers(raw.MaxReadBuffers)
	}
	if raw.MaxWriteBuffers != 0 {
		b.WithMaxWriteBuffers(raw.MaxWriteBuffers)
	}
	if raw.WriteSpinCount != 0 {
		b.WithWriteSpinCount(raw.WriteSpinCount)
	}
	if raw.ConnectTimeoutMS != 0 {
		b.WithConnectTimeout(time.Duration(raw.ConnectTimeoutMS) * time.Millisecond)
	}
	if raw.ReadTimeoutMS != 0 {
		b.WithReadTimeout(time.Duration(raw.ReadTimeoutMS) * time.Millisecond)
	}
	if raw.WriteTimeoutMS != 0 {
		b.WithWriteTimeout(time.Duration(raw.WriteTimeoutMS) * time.Millisecond)
	}
	if raw.WriteBytesPerSec != 0 {
		b.WithWriteBytesPerSec(raw.WriteBytesPerSec)
	}
	if raw.Logging.Level != "" {
		b.WithLogLevel(raw.Logging.Level)
	}
	if raw.Logging.Format != "" {
		b.WithLogFormat(raw.Logging.Format)
	}
	if raw.Logging.File != "" {
		b.WithLogFile(raw.Logging.File)
	}

	return b.Build()
}

// Builder assembles a Config through a fluent With* chain, following the
// spec's "builder-style, enumerated options" configuration surface.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder seeded with the spec's documented defaults.
func NewBuilder() *Builder {
	return &Builder{cfg: Config{
		Host:            "0.0.0.0",
		Port:            9696,
		Backlog:         1024,
		Name:            "nio",
		AutoRead:        true,
		BufferDirect:    true,
		BufferSize:      4096,
		MaxReadBuffers:  8,
		MaxWriteBuffers: 64,
		WriteSpinCount:  16,
		ConnectTimeout:  30 * time.Second,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}}
}

func (b *Builder) WithHost(host string) *Builder         { b.cfg.Host = host; return b }
func (b *Builder) WithPort(port int) *Builder             { b.cfg.Port = port; return b }
func (b *Builder) WithBacklog(backlog int) *Builder       { b.cfg.Backlog = backlog; return b }
func (b *Builder) WithDaemon(daemon bool) *Builder        { b.cfg.Daemon = daemon; return b }
func (b *Builder) WithName(name string) *Builder          { b.cfg.Name = name; return b }
func (b *Builder) WithMaxConns(n int) *Builder            { b.cfg.MaxConns = n; return b }
func (b *Builder) WithMaxServerConns(n int) *Builder      { b.cfg.MaxServerConns = n; return b }
func (b *Builder) WithMaxClientConns(n int) *Builder      { b.cfg.MaxClientConns = n; return b }
func (b *Builder) WithAutoRead(v bool) *Builder           { b.cfg.AutoRead = v; return b }
func (b *Builder) WithBufferDirect(v bool) *Builder       { b.cfg.BufferDirect = v; return b }
func (b *Builder) WithBufferSize(n int64) *Builder        { b.cfg.BufferSize = n; return b }
func (b *Builder) WithPoolSize(n int64) *Builder          { b.cfg.PoolSize = n; return b }
func (b *Builder) WithStoreSize(n int64) *Builder         { b.cfg.StoreSize = n; return b }
func (b *Builder) WithMaxReadBuffers(n int) *Builder      { b.cfg.MaxReadBuffers = n; return b }
func (b *Builder) WithMaxWriteBuffers(n int) *Builder     { b.cfg.MaxWriteBuffers = n; return b }
func (b *Builder) WithWriteSpinCount(n int) *Builder      { b.cfg.WriteSpinCount = n; return b }
func (b *Builder) WithConnectTimeout(d time.Duration) *Builder { b.cfg.ConnectTimeout = d; return b }
func (b *Builder) WithReadTimeout(d time.Duration) *Builder    { b.cfg.ReadTimeout = d; return b }
func (b *Builder) WithWriteTimeout(d time.Duration) *Builder   { b.cfg.WriteTimeout = d; return b }
func (b *Builder) WithWriteBytesPerSec(n int) *Builder    { b.cfg.WriteBytesPerSec = n; return b }
func (b *Builder) WithLogLevel(level string) *Builder     { b.cfg.LogLevel = level; return b }
func (b *Builder) WithLogFormat(format string) *Builder   { b.cfg.LogFormat = format; return b }
func (b *Builder) WithLogFile(path string) *Builder       { b.cfg.LogFile = path; return b }

func (b *Builder) WithServerInitializer(init SessionInitializer) *Builder {
	b.cfg.ServerInitializer = init
	return b
}

func (b *Builder) WithClientInitializer(init SessionInitializer) *Builder {
	b.cfg.ClientInitializer = init
	return b
}

func (b *Builder) WithEventLoopListener(l EventLoopListener) *Builder {
	b.cfg.EventLoopListener = l
	return b
}

// Build validates accumulated options and resolves any size default left
// unset, returning the immutable Config the EventLoop consumes.
func (b *Builder) Build() (*Config, error) {
	cfg := b.cfg

	if cfg.ServerInitializer == nil && cfg.ClientInitializer == nil {
		return nil, fmt.Errorf("nio: at least one of ServerInitializer or ClientInitializer is required")
	}

	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("nio: BufferSize must be positive")
	}
	if cfg.BufferSize&(cfg.BufferSize-1) != 0 {
		return nil, fmt.Errorf("nio: BufferSize %d must be a power of two", cfg.BufferSize)
	}

	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 1024
	}
	if cfg.MaxServerConns <= 0 {
		cfg.MaxServerConns = cfg.MaxConns
	}
	if cfg.MaxClientConns <= 0 {
		cfg.MaxClientConns = cfg.MaxConns
	}

	totalMem, err := processMaxMemory()
	if err != nil {
		return nil, fmt.Errorf("nio: probing process max memory: %w", err)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = totalMem / 2
	}
	if cfg.StoreSize <= 0 {
		cfg.StoreSize = totalMem * 2
		if cfg.StoreSize > maxStoreSize || cfg.StoreSize <= 0 {
			cfg.StoreSize = maxStoreSize
		}
	}
	if cfg.StoreSize > maxStoreSize {
		return nil, fmt.Errorf("nio: StoreSize %d exceeds maximum %d", cfg.StoreSize, maxStoreSize)
	}

	for name, v := range map[string]int{
		"MaxReadBuffers":  cfg.MaxReadBuffers,
		"MaxWriteBuffers": cfg.MaxWriteBuffers,
		"WriteSpinCount":  cfg.WriteSpinCount,
		"Backlog":         cfg.Backlog,
		"Port":            cfg.Port,
	} {
		if v <= 0 {
			return nil, fmt.Errorf("nio: %s must be positive, got %d", name, v)
		}
	}
	for name, v := range map[string]time.Duration{
		"ConnectTimeout": cfg.ConnectTimeout,
		"ReadTimeout":    cfg.ReadTimeout,
		"WriteTimeout":   cfg.WriteTimeout,
	} {
		if v <= 0 {
			return nil, fmt.Errorf("nio: %s must be positive, got %s", name, v)
		}
	}

	return &cfg, nil
}

// processMaxMemory resolves the spec's "process max memory" sizing term
// to total system RAM, the closest reachable proxy without a cgroup-aware
// rlimit reader.
func processMaxMemory() (int64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return int64(vm.Total), nil
}
