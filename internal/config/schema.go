// Package config defines the configuration schema for pushbridge.
//
// Keys use camelCase in both JSON and YAML files.
package config

import (
	"strings"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/shared/urlutils"
	"github.com/crystaldolphin/pushbridge/internal/subscription"
)

// HelperConfig configures the helper process.
type HelperConfig struct {
	ListenAddr string `json:"listenAddr" yaml:"listenAddr"`
	// Path is the websocket endpoint embedders connect to.
	Path string `json:"path" yaml:"path"`
	// Origin is the helper's own origin, checked by connecting embedders.
	Origin string `json:"origin" yaml:"origin"`
	// AllowedOrigin is the embedder origin accepted in the handshake.
	AllowedOrigin             string `json:"allowedOrigin" yaml:"allowedOrigin"`
	ClaimTimeoutSeconds       int    `json:"claimTimeoutSeconds" yaml:"claimTimeoutSeconds"`
	LegacyRegistrationReplies bool   `json:"legacyRegistrationReplies" yaml:"legacyRegistrationReplies"`
	// MetricsPath serves Prometheus metrics next to the websocket endpoint.
	// Empty disables it.
	MetricsPath string `json:"metricsPath" yaml:"metricsPath"`
}

// EmbedderConfig is what an embedding page declares about its helper.
type EmbedderConfig struct {
	HelperURL   string `json:"helperUrl" yaml:"helperUrl"`
	DialogURL   string `json:"dialogUrl" yaml:"dialogUrl"`
	Origin      string `json:"origin" yaml:"origin"`
	WorkerURL   string `json:"workerUrl" yaml:"workerUrl"`
	WorkerScope string `json:"workerScope" yaml:"workerScope"`
}

// WorkerConfig configures the simulated host the helper runs against.
type WorkerConfig struct {
	ScriptURL    string `json:"scriptUrl" yaml:"scriptUrl"`
	Permission   string `json:"permission" yaml:"permission"`
	EndpointBase string `json:"endpointBase" yaml:"endpointBase"`
}

// Config is the root configuration.
type Config struct {
	Helper   HelperConfig   `json:"helper" yaml:"helper"`
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`
	Worker   WorkerConfig   `json:"worker" yaml:"worker"`
}

func defaultHelperConfig() HelperConfig {
	return HelperConfig{
		ListenAddr:          "127.0.0.1:18791",
		Path:                "/helper",
		Origin:              "http://127.0.0.1:18791",
		AllowedOrigin:       "http://localhost:8000",
		ClaimTimeoutSeconds: 10,
		MetricsPath:         "/metrics",
	}
}

func defaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		HelperURL:   "ws://127.0.0.1:18791/helper",
		Origin:      "http://localhost:8000",
		WorkerURL:   "http://127.0.0.1:18791/sw.js",
		WorkerScope: "/",
	}
}

func defaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ScriptURL:    "http://127.0.0.1:18791/sw.js",
		Permission:   bus.PermissionDefault,
		EndpointBase: subscription.DefaultEndpointBase,
	}
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Helper:   defaultHelperConfig(),
		Embedder: defaultEmbedderConfig(),
		Worker:   defaultWorkerConfig(),
	}
}

// HelperOrigin returns the helper's origin, derived from the embedder's
// helperUrl when none is configured.
func (c *Config) HelperOrigin() string {
	if c.Helper.Origin != "" {
		return c.Helper.Origin
	}
	return urlutils.SocketOrigin(c.Embedder.HelperURL)
}

// Endpoint returns the websocket path with a leading slash.
func (h HelperConfig) Endpoint() string {
	if h.Path == "" {
		return "/"
	}
	if !strings.HasPrefix(h.Path, "/") {
		return "/" + h.Path
	}
	return h.Path
}
