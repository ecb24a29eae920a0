package common

import "github.com/spf13/viper"

// ===============================================================================
// Push Channel Related Config

// PushChannelConfig defines parameters for the server push channel
type PushChannelConfig struct {
	// WebsocketURL is the websocket end-point for the bidirectional channel
	WebsocketURL string `mapstructure:"websocket_url" json:"websocket_url" validate:"required,uri"`
	// StreamURL is the HTTP end-point for the one-way event stream channel
	StreamURL string `mapstructure:"stream_url" json:"stream_url" validate:"required,uri"`
	// HandshakeTimeout is the max duration for establishing a channel in seconds
	HandshakeTimeout int `mapstructure:"handshake_timeout_sec" json:"handshake_timeout_sec" validate:"gte=1"`
}

// ReconnectConfig defines reconnect parameters for the push channel
type ReconnectConfig struct {
	// BaseDelay is the first retry delay in milliseconds
	BaseDelay int `mapstructure:"base_delay_ms" json:"base_delay_ms" validate:"gte=1"`
	// MaxDelay caps the computed retry delay in milliseconds
	MaxDelay int `mapstructure:"max_delay_ms" json:"max_delay_ms" validate:"gte=1"`
	// MaxAttempts sets the retry ceiling per disconnection episode. Once
	// reached, the client abandons the push channel for the session.
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=1"`
}

// ===============================================================================
// Event Processing Related Config

// BatchConfig defines event batching parameters
type BatchConfig struct {
	// Window is the debounce window in milliseconds. The window restarts on
	// every accepted event.
	Window int `mapstructure:"window_ms" json:"window_ms" validate:"gte=1"`
}

// PollingConfig defines the fallback refresh loop parameters
type PollingConfig struct {
	// Interval is the duration between fallback refresh passes in seconds
	Interval int `mapstructure:"interval_sec" json:"interval_sec" validate:"gte=1"`
}

// ===============================================================================
// REST API Related Config

// RestAPIConfig defines parameters for calling the HandyConnect REST API
type RestAPIConfig struct {
	// BaseURL is the API base URL
	BaseURL string `mapstructure:"base_url" json:"base_url" validate:"required,uri"`
	// RequestTimeout is the max duration of one API call in seconds
	RequestTimeout int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"gte=1"`
	// RequestIDHeader is the HTTP header carrying the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header" validate:"required"`
}

// ===============================================================================
// Status & Diagnostics Related Config

// DiagnosticsConfig defines the status / diagnostics surface parameters
type DiagnosticsConfig struct {
	// DevMode enables the developer diagnostics surface
	DevMode bool `mapstructure:"dev_mode" json:"dev_mode"`
	// HistorySize bounds the trailing window of processed events kept for inspection
	HistorySize int `mapstructure:"history_size" json:"history_size" validate:"gte=1"`
	// DebugListenOn is the localhost address the debug end-points listen on
	// when dev mode is active
	DebugListenOn string `mapstructure:"debug_listen_on" json:"debug_listen_on"`
	// PrefsFile is the path of the persisted client preference file
	PrefsFile string `mapstructure:"prefs_file" json:"prefs_file" validate:"required"`
}

// ===============================================================================
// Simulator Server Related Config

// SimulatorServerConfig defines configuration for the development simulator server
type SimulatorServerConfig struct {
	// ListenOn is the interface the simulator HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the simulator HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// PathPrefix is the end-point path prefix for the simulator APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
	// Heartbeat is the interval between generated stats events in seconds.
	// Zero disables the generator.
	Heartbeat int `mapstructure:"heartbeat_sec" json:"heartbeat_sec" validate:"gte=0"`
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// ===============================================================================
// Complete Config

// ClientConfig defines the complete live-update client config
type ClientConfig struct {
	// PushChannel are the push channel transport parameters
	PushChannel PushChannelConfig `mapstructure:"push_channel" json:"push_channel" validate:"required,dive"`
	// Reconnect are the reconnect scheduling parameters
	Reconnect ReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
	// Batch are the event batching parameters
	Batch BatchConfig `mapstructure:"batch" json:"batch" validate:"required,dive"`
	// Polling are the fallback refresh loop parameters
	Polling PollingConfig `mapstructure:"polling" json:"polling" validate:"required,dive"`
	// API are the REST API parameters
	API RestAPIConfig `mapstructure:"api" json:"api" validate:"required,dive"`
	// Diagnostics are the status / diagnostics parameters
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" json:"diagnostics" validate:"required,dive"`
}

// SystemConfig defines the complete system config used by either the client or
// the simulator server
type SystemConfig struct {
	// Client are the live-update client configs
	Client *ClientConfig `mapstructure:"client,omitempty" json:"client,omitempty" validate:"omitempty,dive"`
	// Simulator are the development simulator server configs
	Simulator *SimulatorServerConfig `mapstructure:"simulator,omitempty" json:"simulator,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default push channel settings
	viper.SetDefault("client.push_channel.websocket_url", "ws://127.0.0.1:3000/v1/events/ws")
	viper.SetDefault("client.push_channel.stream_url", "http://127.0.0.1:3000/v1/events/stream")
	viper.SetDefault("client.push_channel.handshake_timeout_sec", 15)

	// Default reconnect settings
	viper.SetDefault("client.reconnect.base_delay_ms", 1000)
	viper.SetDefault("client.reconnect.max_delay_ms", 30000)
	viper.SetDefault("client.reconnect.max_attempts", 5)

	// Default event processing settings
	viper.SetDefault("client.batch.window_ms", 200)
	viper.SetDefault("client.polling.interval_sec", 120)

	// Default REST API settings
	viper.SetDefault("client.api.base_url", "http://127.0.0.1:3000")
	viper.SetDefault("client.api.request_timeout_sec", 30)
	viper.SetDefault("client.api.request_id_header", "Handyconnect-Request-ID")

	// Default status / diagnostics settings
	viper.SetDefault("client.diagnostics.dev_mode", false)
	viper.SetDefault("client.diagnostics.history_size", 10)
	viper.SetDefault("client.diagnostics.debug_listen_on", "127.0.0.1:3100")
	viper.SetDefault("client.diagnostics.prefs_file", ".liveupdate-prefs.json")

	// Default simulator server settings
	viper.SetDefault("simulator.listen_on", "0.0.0.0")
	viper.SetDefault("simulator.listen_port", 3000)
	viper.SetDefault("simulator.path_prefix", "/")
	viper.SetDefault("simulator.heartbeat_sec", 30)
	viper.SetDefault("simulator.request_id_header", "Handyconnect-Request-ID")
	viper.SetDefault(
		"simulator.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
