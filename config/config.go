// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package config implements the Config Loader (C3): it validates and
// resolves per-service MQTT configuration from a hierarchical YAML source,
// overlaying environment-variable overrides the way cmd/mqtt/main.go in the
// teacher project layers env.Parse on top of static defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// TopicBinding pairs a symbolic registry key with the literal pattern this
// deployment uses for it, resolved through the template substitution rules
// below.
type TopicBinding struct {
	Key     string `yaml:"key"`
	Pattern string `yaml:"pattern"`
}

// TopicSet is a service's declared subscriptions and publications.
type TopicSet struct {
	Subscribe []TopicBinding `yaml:"subscribe"`
	Publish   []TopicBinding `yaml:"publish"`
}

// Connection holds broker connectivity settings.
type Connection struct {
	Broker                string        `yaml:"broker" env:"BROKER"`
	Port                  int           `yaml:"port" env:"PORT"`
	ClientID              string        `yaml:"clientId" env:"CLIENT_ID"`
	Username              string        `yaml:"username" env:"USERNAME"`
	Password              string        `yaml:"password" env:"PASSWORD"`
	KeepAliveS            int           `yaml:"keepAliveS" env:"KEEP_ALIVE_S" envDefault:"60"`
	ConnectTimeoutS       int           `yaml:"connectTimeoutS" env:"CONNECT_TIMEOUT_S" envDefault:"10"`
	ReconnectIntervalS    int           `yaml:"reconnectIntervalS" env:"RECONNECT_INTERVAL_S" envDefault:"5"`
	MaxReconnectAttempts  int           `yaml:"maxReconnectAttempts" env:"MAX_RECONNECT_ATTEMPTS" envDefault:"10"`
	UseTLS                bool          `yaml:"useTls" env:"USE_TLS"`
	CleanSession          bool          `yaml:"cleanSession" env:"CLEAN_SESSION" envDefault:"true"`
}

// ReconnectInterval returns the configured reconnect spacing as a Duration.
func (c Connection) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalS) * time.Second
}

// ConnectTimeout returns the configured initial-connect timeout as a Duration.
func (c Connection) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutS) * time.Second
}

// KeepAlive returns the configured MQTT keep-alive interval as a Duration.
func (c Connection) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveS) * time.Second
}

// Messages holds protocol-level message handling settings.
type Messages struct {
	Version          string `yaml:"version" env:"VERSION" envDefault:"v1"`
	EnableValidation bool   `yaml:"enableValidation" env:"ENABLE_VALIDATION" envDefault:"true"`
	MaxRetries       int    `yaml:"maxRetries" env:"MAX_RETRIES" envDefault:"3"`
	TimeoutS         int    `yaml:"timeoutS" env:"TIMEOUT_S" envDefault:"30"`
}

// Timeout returns the configured message timeout as a Duration.
func (m Messages) Timeout() time.Duration {
	return time.Duration(m.TimeoutS) * time.Second
}

// CoderConfig holds the Coder Gateway's TCP listener settings (§4.9). Only
// cmd/coder reads it; every other service leaves it at its zero value.
type CoderConfig struct {
	SocketAddress     string `yaml:"socketAddress" env:"SOCKET_ADDRESS" envDefault:"0.0.0.0"`
	SocketPort        int    `yaml:"socketPort" env:"SOCKET_PORT" envDefault:"9100"`
	MaxClients        int    `yaml:"maxClients" env:"MAX_CLIENTS" envDefault:"8"`
	ReceiveBufferSize int    `yaml:"receiveBufferSize" env:"RECEIVE_BUFFER_SIZE" envDefault:"4096"`
	ClientTimeoutMS   int    `yaml:"clientTimeoutMs" env:"CLIENT_TIMEOUT_MS" envDefault:"30000"`
	ScanTimeoutMS     int    `yaml:"scanTimeoutMs" env:"SCAN_TIMEOUT_MS" envDefault:"5000"`
}

// ClientTimeout returns the configured idle-connection timeout as a Duration.
func (c CoderConfig) ClientTimeout() time.Duration {
	return time.Duration(c.ClientTimeoutMS) * time.Millisecond
}

// ScanTimeout returns the configured collect-window duration as a Duration.
func (c CoderConfig) ScanTimeout() time.Duration {
	if c.ScanTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ScanTimeoutMS) * time.Millisecond
}

// MotionConfig holds the Motion Adapter's axis bounds and timing settings
// (§4.10). Only cmd/motion reads it; every other service leaves it at its
// zero value.
type MotionConfig struct {
	MinPosition    int64 `yaml:"minPosition" env:"MIN_POSITION" envDefault:"0"`
	MaxPosition    int64 `yaml:"maxPosition" env:"MAX_POSITION" envDefault:"220000000"`
	DefaultSpeed   int   `yaml:"defaultSpeed" env:"DEFAULT_SPEED" envDefault:"1000"`
	MoveTimeoutMS  int   `yaml:"moveTimeoutMs" env:"MOVE_TIMEOUT_MS" envDefault:"30000"`
}

// MoveTimeout returns the configured per-move timeout as a Duration.
func (c MotionConfig) MoveTimeout() time.Duration {
	if c.MoveTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.MoveTimeoutMS) * time.Millisecond
}

// GeometryConfig holds the workcell's fixed station heights (§9 "configured
// geometry"), used by the workflow engine to turn a vision clearance
// reading into a target axis position. Values are in millimetres.
type GeometryConfig struct {
	HeightInit   float64 `yaml:"heightInit" env:"HEIGHT_INIT" envDefault:"2000"`
	TrayHeight   float64 `yaml:"trayHeight" env:"TRAY_HEIGHT" envDefault:"100"`
	CameraHeight float64 `yaml:"cameraHeight" env:"CAMERA_HEIGHT" envDefault:"500"`
	CoderHeight  float64 `yaml:"coderHeight" env:"CODER_HEIGHT" envDefault:"300"`
}

// ServiceConfig is the fully resolved per-service MQTT configuration (§3).
type ServiceConfig struct {
	ServiceName string         `yaml:"serviceName"`
	Connection  Connection     `yaml:"connection"`
	Topics      TopicSet       `yaml:"topics"`
	Messages    Messages       `yaml:"messages"`
	Coder       CoderConfig    `yaml:"coder"`
	Motion      MotionConfig   `yaml:"motion"`
	Geometry    GeometryConfig `yaml:"geometry"`
}

// Source is the raw hierarchical document a ServiceConfig is resolved from.
// It mirrors §6's "StandardMqtt.Connection / .Topics.Subscriptions /
// .Topics.Publications / .Messages" layout plus per-service sections.
type Source struct {
	StandardMqtt struct {
		Connection Connection `yaml:"connection"`
		Topics     TopicSet   `yaml:"topics"`
		Messages   Messages   `yaml:"messages"`
	} `yaml:"standardMqtt"`

	MotionControl MotionConfig   `yaml:"motionControl"`
	CoderService  CoderConfig    `yaml:"coderService"`
	Geometry      GeometryConfig `yaml:"geometry"`
	Sample        map[string]any `yaml:"sample"`
}

// ValidationResult accumulates errors (non-empty ⇒ caller MUST abort
// startup) and warnings (informational) discovered while resolving a
// ServiceConfig.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// OK reports whether no errors were recorded.
func (v ValidationResult) OK() bool { return len(v.Errors) == 0 }

// Error implements the error interface so a ValidationResult can be
// returned directly as the load failure.
func (v ValidationResult) Error() string {
	return strings.Join(v.Errors, "; ")
}

// LoadFile reads path as YAML into a Source and resolves it into a
// ServiceConfig for serviceName.
func LoadFile(path, serviceName string) (ServiceConfig, ValidationResult) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceConfig{}, ValidationResult{Errors: []string{fmt.Sprintf("read config file: %s", err)}}
	}
	return Load(data, serviceName)
}

// Load parses yamlDoc and resolves it into a ServiceConfig for serviceName,
// then overlays any SMQ_<SERVICE>_ prefixed environment variables matching
// the Connection, Messages, Coder, Motion and Geometry struct tags.
func Load(yamlDoc []byte, serviceName string) (ServiceConfig, ValidationResult) {
	var vr ValidationResult

	var src Source
	if err := yaml.Unmarshal(yamlDoc, &src); err != nil {
		vr.Errors = append(vr.Errors, fmt.Sprintf("parse config: %s", err))
		return ServiceConfig{}, vr
	}

	cfg := ServiceConfig{
		ServiceName: serviceName,
		Connection:  src.StandardMqtt.Connection,
		Topics:      src.StandardMqtt.Topics,
		Messages:    src.StandardMqtt.Messages,
		Coder:       src.CoderService,
		Motion:      src.MotionControl,
		Geometry:    src.Geometry,
	}

	envPrefix := "SMQ_" + strings.ToUpper(serviceName) + "_"
	if err := env.ParseWithOptions(&cfg.Connection, env.Options{Prefix: envPrefix}); err != nil {
		vr.Errors = append(vr.Errors, fmt.Sprintf("env overlay (connection): %s", err))
	}
	if err := env.ParseWithOptions(&cfg.Messages, env.Options{Prefix: envPrefix}); err != nil {
		vr.Errors = append(vr.Errors, fmt.Sprintf("env overlay (messages): %s", err))
	}
	if err := env.ParseWithOptions(&cfg.Coder, env.Options{Prefix: envPrefix}); err != nil {
		vr.Errors = append(vr.Errors, fmt.Sprintf("env overlay (coder): %s", err))
	}
	if err := env.ParseWithOptions(&cfg.Motion, env.Options{Prefix: envPrefix}); err != nil {
		vr.Errors = append(vr.Errors, fmt.Sprintf("env overlay (motion): %s", err))
	}
	if err := env.ParseWithOptions(&cfg.Geometry, env.Options{Prefix: envPrefix}); err != nil {
		vr.Errors = append(vr.Errors, fmt.Sprintf("env overlay (geometry): %s", err))
	}

	resolveTemplates(&cfg, serviceName)

	if cfg.Connection.ClientID == "" {
		cfg.Connection.ClientID = "IOS." + serviceName
	}

	validate(&cfg, &vr)

	return cfg, vr
}

// resolveTemplates substitutes {serviceName}, {version}, {timestamp}, and
// {environment} in every topic pattern.
func resolveTemplates(cfg *ServiceConfig, serviceName string) {
	environment := os.Getenv("IOS_ENVIRONMENT")
	if environment == "" {
		environment = "Production"
	}

	replacer := strings.NewReplacer(
		"{serviceName}", strings.ToLower(serviceName),
		"{version}", valueOr(cfg.Messages.Version, "v1"),
		"{timestamp}", time.Now().UTC().Format("20060102"),
		"{environment}", environment,
	)

	for i := range cfg.Topics.Subscribe {
		cfg.Topics.Subscribe[i].Pattern = replacer.Replace(cfg.Topics.Subscribe[i].Pattern)
	}
	for i := range cfg.Topics.Publish {
		cfg.Topics.Publish[i].Pattern = replacer.Replace(cfg.Topics.Publish[i].Pattern)
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func validate(cfg *ServiceConfig, vr *ValidationResult) {
	if cfg.Connection.Broker == "" {
		vr.Errors = append(vr.Errors, "connection.broker must not be empty")
	}
	if cfg.Connection.Port < 1 || cfg.Connection.Port > 65535 {
		vr.Errors = append(vr.Errors, fmt.Sprintf("connection.port %d out of range 1..65535", cfg.Connection.Port))
	}
	if cfg.Connection.ClientID == "" {
		vr.Errors = append(vr.Errors, "connection.clientId must not be empty")
	}
	if len(cfg.Topics.Subscribe) == 0 && len(cfg.Topics.Publish) == 0 {
		vr.Warnings = append(vr.Warnings, "no subscriptions or publications declared")
	}
}
