package flow

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Config holds the architecture and training hyperparameters of a Flow.
type Config struct {
	// Layers is the number of coupling layers. Must be even so that both
	// mask parities appear equally often. Default 12.
	Layers int `mapstructure:"layers"`

	// HiddenLayers is the number of ReLU layers in each scale/translate
	// sub-network, before the tanh output layer. Default 4.
	HiddenLayers int `mapstructure:"hidden_layers"`

	// Width of every hidden layer. Default 256.
	Width int `mapstructure:"width"`

	// L2 is the kernel regularization coefficient added to the training
	// objective as L2*sum(w^2). Default DefaultL2; NoL2 (any negative
	// value) disables the penalty.
	L2 float64 `mapstructure:"l2"`

	// LearningRate used by Adam. Default 1e-4.
	LearningRate float64 `mapstructure:"learning_rate"`

	// Adam hyperparameters (defaults 0.9, 0.999, 1e-7 if zero).
	Beta1   float64 `mapstructure:"adam_beta1"`
	Beta2   float64 `mapstructure:"adam_beta2"`
	Epsilon float64 `mapstructure:"adam_eps"`

	// ClipNorm rescales the gradient when its global L2 norm exceeds this
	// value. Zero disables clipping.
	ClipNorm float64 `mapstructure:"clip_norm"`

	// Epochs to train for. Default 100.
	Epochs int `mapstructure:"epochs"`

	// BatchSize for mini-batch updates. Default 256.
	BatchSize int `mapstructure:"batch_size"`

	// ValidationSplit is the fraction of rows, taken from the end of the
	// dataset, held out for validation. Default 0.2; a negative value
	// disables validation.
	ValidationSplit float64 `mapstructure:"validation_split"`

	// Seed controls weight initialization and shuffling. If zero, a
	// time-based seed is used.
	Seed int64 `mapstructure:"seed"`

	// GomlxBackend is the simplego backend configuration used by TrainGomlx,
	// e.g. "ops_sequential". Empty picks one for the host.
	GomlxBackend string `mapstructure:"gomlx_backend"`
}

// DefaultL2 is the kernel regularization coefficient of the reference
// architecture.
const DefaultL2 = 0.01

// NoL2 disables kernel regularization.
const NoL2 = -1.0

// DefaultConfig returns the reference architecture: 12 coupling layers with
// 4x256 sub-networks, L2 0.01, Adam at 1e-4, batch 256 for 100 epochs and a
// 20% validation split.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// withDefaults fills zero fields with defaults. ClipNorm is left alone
// since zero disables clipping.
func (c Config) withDefaults() Config {
	if c.L2 == 0 {
		c.L2 = DefaultL2
	}
	if c.Layers == 0 {
		c.Layers = 12
	}
	if c.HiddenLayers == 0 {
		c.HiddenLayers = 4
	}
	if c.Width == 0 {
		c.Width = 256
	}
	if c.LearningRate == 0 {
		c.LearningRate = 1e-4
	}
	if c.Beta1 == 0 {
		c.Beta1 = 0.9
	}
	if c.Beta2 == 0 {
		c.Beta2 = 0.999
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-7
	}
	if c.Epochs == 0 {
		c.Epochs = 100
	}
	if c.BatchSize == 0 {
		c.BatchSize = 256
	}
	if c.ValidationSplit == 0 {
		c.ValidationSplit = 0.2
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Validate reports configuration errors after defaults are applied.
func (c Config) Validate() error {
	switch {
	case c.Layers <= 0 || c.Layers%2 != 0:
		return errors.Errorf("flow: layer count must be positive and even, got %d", c.Layers)
	case c.HiddenLayers < 1:
		return errors.Errorf("flow: need at least one hidden layer, got %d", c.HiddenLayers)
	case c.Width < 1:
		return errors.Errorf("flow: hidden width must be positive, got %d", c.Width)
	case math.IsNaN(c.L2) || math.IsInf(c.L2, 0):
		return errors.Errorf("flow: L2 coefficient must be finite, got %v", c.L2)
	case c.LearningRate <= 0:
		return errors.Errorf("flow: learning rate must be positive, got %v", c.LearningRate)
	case c.Beta1 <= 0 || c.Beta1 >= 1 || c.Beta2 <= 0 || c.Beta2 >= 1:
		return errors.Errorf("flow: Adam betas must be in (0,1), got %v, %v", c.Beta1, c.Beta2)
	case c.Epsilon <= 0:
		return errors.Errorf("flow: Adam epsilon must be positive, got %v", c.Epsilon)
	case c.ClipNorm < 0:
		return errors.Errorf("flow: negative clip norm %v", c.ClipNorm)
	case c.Epochs < 1:
		return errors.Errorf("flow: epochs must be positive, got %d", c.Epochs)
	case c.BatchSize < 1:
		return errors.Errorf("flow: batch size must be positive, got %d", c.BatchSize)
	case c.ValidationSplit >= 1:
		return errors.Errorf("flow: validation split must be below 1, got %v", c.ValidationSplit)
	}
	return nil
}
