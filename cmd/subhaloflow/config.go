package main

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Noofbiz/subhaloflow/flow"
	"github.com/Noofbiz/subhaloflow/galacticus"
)

const envPrefix = "SUBHALOFLOW"

// cliConfig is everything a command needs, merged from defaults, the YAML
// config file, SUBHALOFLOW_* environment variables and flags, in increasing
// precedence.
type cliConfig struct {
	// Fields is a glob of raw node-field CSV files.
	Fields string `mapstructure:"fields"`
	// Features is the derived feature CSV (weighted).
	Features string `mapstructure:"features"`
	Snapshot string `mapstructure:"snapshot"`
	OutDir   string `mapstructure:"out_dir"`

	// Samples is the number of emulated subhalos drawn by sample and compare.
	Samples int   `mapstructure:"samples"`
	Seed    int64 `mapstructure:"seed"`

	// Engine selects the trainer: "native", or "gomlx" in builds tagged gomlx.
	Engine      string `mapstructure:"engine"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Galacticus galacticus.Attributes `mapstructure:"galacticus"`
	Flow       flow.Config           `mapstructure:"flow"`
}

func (c cliConfig) out(name string) string {
	return filepath.Join(c.OutDir, name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fields", "")
	v.SetDefault("features", "output/features.csv")
	v.SetDefault("snapshot", "output/flow.gob")
	v.SetDefault("out_dir", "output")
	v.SetDefault("samples", 3000)
	v.SetDefault("seed", 0)
	v.SetDefault("engine", "native")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("galacticus.mass_resolution", 0.0)
	v.SetDefault("galacticus.mass_tree", 0.0)
	v.SetDefault("galacticus.tree_count", 0)

	fc := flow.DefaultConfig()
	v.SetDefault("flow.layers", fc.Layers)
	v.SetDefault("flow.hidden_layers", fc.HiddenLayers)
	v.SetDefault("flow.width", fc.Width)
	v.SetDefault("flow.l2", fc.L2)
	v.SetDefault("flow.learning_rate", fc.LearningRate)
	v.SetDefault("flow.adam_beta1", fc.Beta1)
	v.SetDefault("flow.adam_beta2", fc.Beta2)
	v.SetDefault("flow.adam_eps", fc.Epsilon)
	v.SetDefault("flow.clip_norm", fc.ClipNorm)
	v.SetDefault("flow.epochs", fc.Epochs)
	v.SetDefault("flow.batch_size", fc.BatchSize)
	v.SetDefault("flow.validation_split", fc.ValidationSplit)
	v.SetDefault("flow.seed", 0)
	v.SetDefault("flow.gomlx_backend", "")
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"fields":        "fields",
	"features":      "features",
	"snapshot":      "snapshot",
	"out-dir":       "out_dir",
	"samples":       "samples",
	"seed":          "seed",
	"engine":        "engine",
	"metrics-addr":  "metrics_addr",
	"epochs":        "flow.epochs",
	"batch-size":    "flow.batch_size",
	"learning-rate": "flow.learning_rate",
	"layers":        "flow.layers",
	"width":         "flow.width",
}

func addFlags(fs *pflag.FlagSet) {
	fc := flow.DefaultConfig()
	fs.String("fields", "", "glob of raw node-field CSV files")
	fs.String("features", "output/features.csv", "derived feature CSV")
	fs.String("snapshot", "output/flow.gob", "trained flow snapshot")
	fs.String("out-dir", "output", "directory for samples and plots")
	fs.Int("samples", 3000, "number of emulated subhalos to draw")
	fs.Int64("seed", 0, "sampling seed (0 = time based)")
	fs.String("engine", "native", "training engine")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address while training")
	fs.Int("epochs", fc.Epochs, "training epochs")
	fs.Int("batch-size", fc.BatchSize, "mini-batch size")
	fs.Float64("learning-rate", fc.LearningRate, "Adam learning rate")
	fs.Int("layers", fc.Layers, "coupling layers")
	fs.Int("width", fc.Width, "hidden width of the coupling sub-networks")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return errors.Wrapf(err, "binding --%s", name)
		}
	}
	return nil
}

// readConfig reads path, or .subhaloflow.yaml from the working directory if
// path is empty and such a file exists.
func readConfig(v *viper.Viper, path string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".subhaloflow")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "reading config")
	}
	return nil
}

func loadConfig(v *viper.Viper) (cliConfig, error) {
	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decoding config")
	}
	if cfg.Samples < 1 {
		return cfg, errors.Errorf("samples must be positive, got %d", cfg.Samples)
	}
	if _, ok := engines[cfg.Engine]; !ok {
		return cfg, errors.Errorf("unknown training engine %q (available: %s)", cfg.Engine, strings.Join(engineNames(), ", "))
	}
	return cfg, nil
}
