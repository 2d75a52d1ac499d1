package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tablepilot/tablepilot/pkg/model/gemini"
)

// config is the resolved runtime configuration. Precedence is flags over
// TABLEPILOT_* environment variables over the config file over defaults.
type config struct {
	Addr         string `mapstructure:"addr"`
	DBPath       string `mapstructure:"db_path"`
	DataDir      string `mapstructure:"data_dir"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api_key"`
	StepBudget   int    `mapstructure:"step_budget"`
	ParseRetries int    `mapstructure:"parse_retries"`
	Executor     string `mapstructure:"executor"`
}

// flagKeys maps command flag names to config keys so a flag set on the
// command line overrides the corresponding env or file value.
var flagKeys = map[string]string{
	"addr":          "addr",
	"db":            "db_path",
	"data-dir":      "data_dir",
	"model":         "model",
	"executor":      "executor",
	"step-budget":   "step_budget",
	"parse-retries": "parse_retries",
}

func loadConfig(flags *pflag.FlagSet) (*config, error) {
	v := viper.New()
	v.SetEnvPrefix("TABLEPILOT")
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "data/tablepilot.db")
	v.SetDefault("data_dir", "data/datasets")
	v.SetDefault("model", gemini.DefaultModel)
	v.SetDefault("step_budget", 0)
	v.SetDefault("parse_retries", 0)
	v.SetDefault("executor", "script")

	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("tablepilot")
		v.SetConfigType("yaml")
		// The default config file is optional.
		_ = v.ReadInConfig()
	}

	var c config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Executor != "script" && c.Executor != "docker" {
		return nil, fmt.Errorf("unknown executor %q (want script or docker)", c.Executor)
	}
	return &c, nil
}
