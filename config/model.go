package config

// Root is the main yaml config object
type Root struct {
	HTTPGlobal  *HTTPGlobal  `yaml:"http"`
	Log         *Log         `yaml:"log"`
	Downloads   *Downloads   `yaml:"downloads"`
	Monitor     *Monitor     `yaml:"monitor"`
	Qbittorrent *Qbittorrent `yaml:"qbittorrent"`
	Store       *Store       `yaml:"store"`
	History     *History     `yaml:"history"`
	Auth        *Auth        `yaml:"auth"`
	FS          *FS          `yaml:"fs"`

	Arr []*ArrInstance `yaml:"arr"`
}

type Log struct {
	Debug      bool   `yaml:"debug"`
	Level      string `yaml:"level"`
	MaxBackups int    `yaml:"max_backups"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	Path       string `yaml:"path"`
}

type HTTPGlobal struct {
	Port int    `yaml:"port"`
	IP   string `yaml:"ip"`
	// MaxConnections caps concurrently accepted connections, 0 means unlimited.
	MaxConnections int `yaml:"max_connections,omitempty"`
}

// Downloads describes where the torrent client puts its payloads.
type Downloads struct {
	Path string `yaml:"path"`
	// FallbackToRoot makes the filesystem search return Path itself when no
	// folder or file matches the download id.
	FallbackToRoot bool `yaml:"fallback_to_root,omitempty"`
}

type Monitor struct {
	IntervalSeconds     int   `yaml:"interval_seconds"`
	RetryBackoffSeconds int   `yaml:"retry_backoff_seconds"`
	MaxChecks           int   `yaml:"max_checks"`
	MinFileSize         int64 `yaml:"min_file_size"`
	Watch               bool  `yaml:"watch"`
	SettleSeconds       int   `yaml:"settle_seconds"`
	DeleteFiles         *bool `yaml:"delete_files,omitempty"`

	MediaExtensions    []string `yaml:"media_extensions,omitempty"`
	SubtitleExtensions []string `yaml:"subtitle_extensions,omitempty"`
}

type Qbittorrent struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Insecure skips TLS verification of the web UI certificate.
	Insecure bool `yaml:"insecure,omitempty"`
	// RequestsPerSecond throttles API calls shared by all sessions, 0 disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	TimeoutSeconds    int     `yaml:"timeout_seconds,omitempty"`
}

type Store struct {
	Path string `yaml:"path"`
}

// History keeps a journal of every received webhook payload.
type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Auth struct {
	Token    string `yaml:"token,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type FS struct {
	LinkCommand string `yaml:"link_command,omitempty"`
}

type ArrType string

const (
	ArrRadarr ArrType = "radarr"
	ArrSonarr ArrType = "sonarr"
)

type ArrInstance struct {
	Name    string  `yaml:"name" json:"name"`
	Type    ArrType `yaml:"type" json:"type"`
	BaseURL string  `yaml:"base_url" json:"base_url"`
	APIKey  string  `yaml:"api_key" json:"api_key"`
	// Optional: trust invalid TLS certs
	Insecure bool `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

var (
	defaultMediaExtensions    = []string{".mkv", ".mp4", ".avi", ".mov", ".m4v"}
	defaultSubtitleExtensions = []string{".srt", ".sub", ".idx", ".ass"}
)

func AddDefaults(r *Root) *Root {
	if r.HTTPGlobal == nil {
		r.HTTPGlobal = &HTTPGlobal{}
	}

	if r.HTTPGlobal.IP == "" {
		r.HTTPGlobal.IP = "0.0.0.0"
	}

	if r.HTTPGlobal.Port == 0 {
		r.HTTPGlobal.Port = 5000
	}

	if r.Log == nil {
		r.Log = &Log{}
	}

	if r.Log.MaxSize == 0 {
		r.Log.MaxSize = 10
	}

	if r.Log.MaxBackups == 0 {
		r.Log.MaxBackups = 5
	}

	if r.Log.Path == "" {
		r.Log.Path = logsFolder
	}

	if r.Downloads == nil {
		r.Downloads = &Downloads{}
	}

	if r.Downloads.Path == "" {
		r.Downloads.Path = "/mnt/downloads"
	}

	if r.Monitor == nil {
		r.Monitor = &Monitor{Watch: true}
	}

	if r.Monitor.IntervalSeconds == 0 {
		r.Monitor.IntervalSeconds = 60
	}

	if r.Monitor.RetryBackoffSeconds == 0 {
		r.Monitor.RetryBackoffSeconds = 30
	}

	if r.Monitor.MaxChecks == 0 {
		r.Monitor.MaxChecks = 100
	}

	if r.Monitor.MinFileSize == 0 {
		r.Monitor.MinFileSize = 10 * 1024 * 1024 // 10MB
	}

	if r.Monitor.SettleSeconds == 0 {
		r.Monitor.SettleSeconds = 5
	}

	if r.Monitor.DeleteFiles == nil {
		t := true
		r.Monitor.DeleteFiles = &t
	}

	if len(r.Monitor.MediaExtensions) == 0 {
		r.Monitor.MediaExtensions = defaultMediaExtensions
	}

	if len(r.Monitor.SubtitleExtensions) == 0 {
		r.Monitor.SubtitleExtensions = defaultSubtitleExtensions
	}

	if r.Qbittorrent == nil {
		r.Qbittorrent = &Qbittorrent{
			Enabled:  true,
			URL:      "http://localhost:8080",
			Username: "admin",
			Password: "adminadmin",
		}
	}

	if r.Qbittorrent.TimeoutSeconds == 0 {
		r.Qbittorrent.TimeoutSeconds = 15
	}

	if r.Store == nil {
		r.Store = &Store{}
	}

	if r.Store.Path == "" {
		r.Store.Path = storeFile
	}

	if r.History == nil {
		r.History = &History{Enabled: true}
	}

	if r.History.Path == "" {
		r.History.Path = historyFolder
	}

	if r.Auth == nil {
		r.Auth = &Auth{}
	}

	if r.FS == nil {
		r.FS = &FS{}
	}

	if r.FS.LinkCommand == "" {
		r.FS.LinkCommand = "ln"
	}

	return r
}
