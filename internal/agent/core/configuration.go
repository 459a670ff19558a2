package core

import (
	"fmt"
	"maps"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mohammad-safakhou/deeres/config"
)

// Configuration is the per-run view of the workflow settings. Request
// overrides are decoded onto a copy of the server defaults.
type Configuration struct {
	ReportStructure string         `mapstructure:"report_structure"`
	NumberOfQueries int            `mapstructure:"number_of_queries"`
	MaxSearchDepth  int            `mapstructure:"max_search_depth"`
	PlannerProvider string         `mapstructure:"planner_provider"`
	PlannerModel    string         `mapstructure:"planner_model"`
	WriterProvider  string         `mapstructure:"writer_provider"`
	WriterModel     string         `mapstructure:"writer_model"`
	SearchAPI       string         `mapstructure:"search_api"`
	SearchAPIConfig map[string]any `mapstructure:"search_api_config"`
	Feedback        string         `mapstructure:"feedback_on_report_plan"`

	StageTimeout time.Duration `mapstructure:"-"`

	planner config.RoleConfig
	writer  config.RoleConfig
}

// NewConfiguration derives run defaults from the service configuration.
func NewConfiguration(cfg *config.Config) Configuration {
	return Configuration{
		ReportStructure: cfg.Workflow.ReportStructure,
		NumberOfQueries: cfg.Workflow.NumberOfQueries,
		MaxSearchDepth:  cfg.Workflow.MaxSearchDepth,
		PlannerProvider: cfg.LLM.Planner.Provider,
		PlannerModel:    cfg.LLM.Planner.Model,
		WriterProvider:  cfg.LLM.Writer.Provider,
		WriterModel:     cfg.LLM.Writer.Model,
		SearchAPI:       cfg.Search.API,
		SearchAPIConfig: cfg.Search.APIConfig,
		StageTimeout:    cfg.Workflow.StageTimeout,
		planner:         cfg.LLM.Planner,
		writer:          cfg.LLM.Writer,
	}
}

// WithOverrides returns a copy with overrides applied. Unknown keys are
// ignored; values of the wrong shape are a validation error.
func (c Configuration) WithOverrides(overrides map[string]any) (Configuration, error) {
	out := c
	out.SearchAPIConfig = maps.Clone(c.SearchAPIConfig)
	if len(overrides) == 0 {
		return out, out.validate()
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return c, err
	}
	if err := dec.Decode(overrides); err != nil {
		return c, fmt.Errorf("%w: config_overrides: %v", ErrValidation, err)
	}
	return out, out.validate()
}

func (c Configuration) validate() error {
	if c.MaxSearchDepth < 0 {
		return fmt.Errorf("%w: max_search_depth cannot be negative", ErrValidation)
	}
	return nil
}

// PlannerRole is the model used for planning and grading.
func (c Configuration) PlannerRole() config.RoleConfig {
	r := c.planner
	r.Provider, r.Model = c.PlannerProvider, c.PlannerModel
	return r
}

// WriterRole is the model used for queries and section text.
func (c Configuration) WriterRole() config.RoleConfig {
	r := c.writer
	r.Provider, r.Model = c.WriterProvider, c.WriterModel
	return r
}
