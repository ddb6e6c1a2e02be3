// Package temporalclient loads Temporal client options and holds the names
// shared by the worker and the client binaries.
package temporalclient

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/contrib/envconfig"
)

// DefaultTaskQueue is the task queue conversations run on.
const DefaultTaskQueue = "agentchat"

// Settings overrides what envconfig resolves from TEMPORAL_* variables and
// the profile file.
type Settings struct {
	HostPort  string `yaml:"host_port" json:"host_port,omitempty"`
	Namespace string `yaml:"namespace" json:"namespace,omitempty"`
	TaskQueue string `yaml:"task_queue" json:"task_queue,omitempty"`
}

// Queue returns the configured task queue or DefaultTaskQueue.
func (s Settings) Queue() string {
	if s.TaskQueue == "" {
		return DefaultTaskQueue
	}
	return s.TaskQueue
}

// LoadClientOptions resolves client options through envconfig and applies
// the non-empty overrides in s.
func LoadClientOptions(s Settings) (client.Options, error) {
	opts, err := envconfig.LoadClientOptions(envconfig.LoadClientOptionsRequest{})
	if err != nil {
		return client.Options{}, fmt.Errorf("load temporal client options: %w", err)
	}
	if s.HostPort != "" {
		opts.HostPort = s.HostPort
	}
	if s.Namespace != "" {
		opts.Namespace = s.Namespace
	}
	return opts, nil
}
