package types

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
	File  string `ini:"file"` // 为空时只输出到 stderr
}

// UIConf 包含 shell 进程 (Web UI) 特有的配置
type UIConf struct {
	WebPort     int    `ini:"web_port"`
	WebUser     string `ini:"web_user"`
	WebPassword string `ini:"web_password"`
	LogTail     int    `ini:"log_tail"`     // GET /api/logs 默认返回的条数
	LogCapacity int    `ini:"log_capacity"` // 本地日志缓冲区容量
}

// BackendConf describes how the shell reaches the backend and how the backend listens.
type BackendConf struct {
	URL       string `ini:"url"`       // e.g. ws://127.0.0.1:7891/ipc
	Listen    string `ini:"listen"`    // backend mode only
	Heartbeat int    `ini:"heartbeat"` // long-poll heartbeat, in seconds
	GeoIPDB   string `ini:"geoip_db"`  // optional MaxMind country database
}

// ProfileConf 描述 profile 的持久化方式
type ProfileConf struct {
	Storage string `ini:"storage"` // "file" (默认) 或 "sqlite"
	Path    string `ini:"path"`
}

// Config 是 nlink 的统一配置结构体
type Config struct {
	LogConf     `ini:"log"`
	UIConf      `ini:"ui"`
	BackendConf `ini:"backend"`
	ProfileConf `ini:"profiles"`
}

// DefaultConfig returns the values used when no ini file is present.
func DefaultConfig() *Config {
	return &Config{
		LogConf: LogConf{Level: "info"},
		UIConf: UIConf{
			WebPort:     9090,
			LogTail:     100,
			LogCapacity: 10000,
		},
		BackendConf: BackendConf{
			URL:       "ws://127.0.0.1:7891/ipc",
			Listen:    "127.0.0.1:7891",
			Heartbeat: 25,
		},
		ProfileConf: ProfileConf{
			Storage: "file",
			Path:    "profiles.json",
		},
	}
}
