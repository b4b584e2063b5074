package config

// TransportConfig holds settings for the client-facing bidirectional JSON
// transport (§6 of the specification — the wire shape itself is external,
// but the listen address and session limits are core configuration).
type TransportConfig struct {
	ListenAddr        string `mapstructure:"LISTEN_ADDR"         json:"listen_addr"         validate:"required,wsaddr"`
	MaxSessions        int   `mapstructure:"MAX_SESSIONS"        json:"max_sessions"        validate:"required,min=1,max=100000"`
	SessionSendBuffer  int   `mapstructure:"SESSION_SEND_BUFFER" json:"session_send_buffer" validate:"required,buffer_size"`
}
