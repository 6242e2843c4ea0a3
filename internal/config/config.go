// Package config loads the two fixed-name JSON configuration files named
// in §6: config.json (server address and RouteMap) and jobs.json (the
// immutable JobsConfiguration). Both may begin with a UTF-8 BOM, which
// is stripped before parsing, and both are read through viper the same
// way the teacher loads its TOML configuration.
package config

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"regexp"
	"time"

	"github.com/spf13/viper"

	"github.com/psionic-labs/psionic/internal/jobs"
	"github.com/psionic-labs/psionic/internal/route"
)

// Config holds the process-wide settings loaded from config.json: the
// server's name and bind address, the raw route specs (compiled into a
// route.RouteMap once the orchestrator's job channel exists), and the
// pool/timeout tuning knobs the spec leaves to the implementer
// (§5 back-pressure, §9 Open Question 8).
type Config struct {
	Name    string      `mapstructure:"name"`
	Address string      `mapstructure:"address"`
	Routes  []RouteSpec `mapstructure:"routes"`

	ConnectionPoolSize     int `mapstructure:"connection_pool_size"`
	ConnectionQueueSize    int `mapstructure:"connection_queue_size"`
	JobPoolSize            int `mapstructure:"job_pool_size"`
	JobQueueSize           int `mapstructure:"job_queue_size"`
	OrchestratorQueueSize  int `mapstructure:"orchestrator_queue_size"`
	MaxRequestBodyBytes    int64 `mapstructure:"max_request_body_bytes"`
	ShutdownDrainSeconds   int `mapstructure:"shutdown_drain_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// RouteSpec is the as-configured shape of one routes[] entry; fields
// irrelevant to the entry's Type are left zero, matching the source's
// tolerant get_string-on-missing-field behavior.
type RouteSpec struct {
	Regex       string   `mapstructure:"regex"`
	Type        string   `mapstructure:"type"`
	ContentPath string   `mapstructure:"content_path"`
	ContentType string   `mapstructure:"content_type"`
	CommandName string   `mapstructure:"command_name"`
	Args        []string `mapstructure:"args"`
	Name        string   `mapstructure:"name"`
}

// actionSpec/jobSpec/jobsFile mirror jobs.json's shape.
type actionSpec struct {
	Type        string   `mapstructure:"type"`
	CommandName string   `mapstructure:"command_name"`
	Args        []string `mapstructure:"args"`
	WaitTime    int64    `mapstructure:"wait_time"`
}

type jobSpec struct {
	Name    string       `mapstructure:"name"`
	Actions []actionSpec `mapstructure:"actions"`
}

type jobsFile struct {
	Jobs []jobSpec `mapstructure:"jobs"`
}

// LoadConfig reads path (normally "config.json") and applies defaults
// for the pool-sizing knobs the spec leaves unspecified.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := readJSON(path, &cfg); err != nil {
		return nil, err
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("config: %s: address is required", path)
	}

	if cfg.ConnectionPoolSize <= 0 {
		cfg.ConnectionPoolSize = 4
	}
	if cfg.ConnectionQueueSize <= 0 {
		cfg.ConnectionQueueSize = 64
	}
	if cfg.JobPoolSize <= 0 {
		cfg.JobPoolSize = 4
	}
	if cfg.JobQueueSize <= 0 {
		cfg.JobQueueSize = 64
	}
	if cfg.OrchestratorQueueSize <= 0 {
		cfg.OrchestratorQueueSize = 256
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 4096
	}
	if cfg.ShutdownDrainSeconds <= 0 {
		cfg.ShutdownDrainSeconds = 2
	}
	if cfg.ShutdownTimeoutSeconds <= 0 {
		cfg.ShutdownTimeoutSeconds = 10
	}

	log.Printf("INFO:  configuration loaded from %s", path)
	log.Printf("INFO:    name: %s", cfg.Name)
	log.Printf("INFO:    address: %s", cfg.Address)
	log.Printf("INFO:    routes: %d", len(cfg.Routes))
	log.Printf("INFO:    connection_pool_size: %d, connection_queue_size: %d", cfg.ConnectionPoolSize, cfg.ConnectionQueueSize)
	log.Printf("INFO:    job_pool_size: %d, job_queue_size: %d", cfg.JobPoolSize, cfg.JobQueueSize)

	return &cfg, nil
}

// BuildRoutes compiles the loaded RouteSpecs into route.Route values.
// The routes carry no job channel of their own; route.New binds them to
// the orchestrator's job-command channel.
func (c *Config) BuildRoutes() ([]route.Route, error) {
	routes := make([]route.Route, 0, len(c.Routes))
	for i, spec := range c.Routes {
		r, err := spec.compile()
		if err != nil {
			return nil, fmt.Errorf("config: route[%d]: %w", i, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (s RouteSpec) compile() (route.Route, error) {
	if s.Regex == "" {
		return route.Route{}, fmt.Errorf("missing route regex")
	}
	re, err := regexp.Compile(s.Regex)
	if err != nil {
		return route.Route{}, fmt.Errorf("invalid regex %q: %w", s.Regex, err)
	}

	switch s.Type {
	case "static":
		if s.ContentPath == "" {
			return route.Route{}, fmt.Errorf("missing content_path")
		}
		if s.ContentType == "" {
			return route.Route{}, fmt.Errorf("missing content_type")
		}
		return route.Route{
			Regex: re,
			Handler: route.RouteHandler{
				Kind:   route.HandlerStatic,
				Static: route.StaticRoute{ContentPath: s.ContentPath, ContentType: s.ContentType},
			},
		}, nil
	case "command":
		if s.CommandName == "" {
			return route.Route{}, fmt.Errorf("missing command_name")
		}
		return route.Route{
			Regex: re,
			Handler: route.RouteHandler{
				Kind:    route.HandlerCommand,
				Command: route.CommandRoute{CommandName: s.CommandName, Args: s.Args},
			},
		}, nil
	case "job":
		if s.Name == "" {
			return route.Route{}, fmt.Errorf("missing job name")
		}
		return route.Route{
			Regex: re,
			Handler: route.RouteHandler{
				Kind: route.HandlerJob,
				Job:  route.JobRoute{Name: s.Name, Args: s.Args},
			},
		}, nil
	default:
		return route.Route{}, fmt.Errorf("unknown route type %q", s.Type)
	}
}

// LoadJobs reads path (normally "jobs.json") into a jobs.JobsConfiguration.
func LoadJobs(path string) (jobs.JobsConfiguration, error) {
	var file jobsFile
	if err := readJSON(path, &file); err != nil {
		return jobs.JobsConfiguration{}, err
	}

	configs := make(map[string]jobs.JobConfiguration, len(file.Jobs))
	for _, js := range file.Jobs {
		if js.Name == "" {
			return jobs.JobsConfiguration{}, fmt.Errorf("config: %s: job with empty name", path)
		}
		actions := make([]jobs.Action, 0, len(js.Actions))
		for i, as := range js.Actions {
			action, err := as.toAction()
			if err != nil {
				return jobs.JobsConfiguration{}, fmt.Errorf("config: %s: job %q action[%d]: %w", path, js.Name, i, err)
			}
			actions = append(actions, action)
		}
		configs[js.Name] = jobs.JobConfiguration{Name: js.Name, Actions: actions}
	}

	log.Printf("INFO:  jobs configuration loaded from %s: %d job(s)", path, len(configs))

	return jobs.JobsConfiguration{Jobs: configs}, nil
}

func (a actionSpec) toAction() (jobs.Action, error) {
	switch a.Type {
	case "command":
		if a.CommandName == "" {
			return jobs.Action{}, fmt.Errorf("missing command_name")
		}
		return jobs.Action{Kind: jobs.ActionCommand, CommandName: a.CommandName, Args: a.Args}, nil
	case "test":
		return jobs.Action{Kind: jobs.ActionTest, WaitMS: a.WaitTime}, nil
	default:
		return jobs.Action{}, fmt.Errorf("unknown action type %q", a.Type)
	}
}

// readJSON loads path into out via a fresh viper instance (one per call
// so loading config.json and jobs.json never share global state),
// stripping a leading UTF-8 BOM before parsing, per §6.
func readJSON(path string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return nil
}

// DrainDuration and ShutdownTimeout convert the configured seconds into
// time.Duration for the app's shutdown sequence.
func (c *Config) DrainDuration() time.Duration {
	return time.Duration(c.ShutdownDrainSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
