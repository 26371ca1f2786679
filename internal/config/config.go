package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all Canopy configuration.
type Config struct {
	Data    DataConfig
	Model   ModelConfig
	Encoder EncoderConfig
	Train   TrainConfig
	Output  OutputConfig

	LogLevel    string
	MetricsAddr string // empty disables the metrics endpoint
}

// DataConfig locates the corpus splits.
type DataConfig struct {
	TrainPath      string
	ValidationPath string
	TestPath       string
	AutoComplete   bool // fill unseen class indices as leaf placeholders
}

// ModelConfig holds model file locations and head settings.
type ModelConfig struct {
	Path           string
	LabelsPath     string
	AttentionWidth int
	Cell           string // "tanh" or "none"
	Dropout        float64
	Seed           uint64
}

// EncoderConfig selects and configures the token encoder.
type EncoderConfig struct {
	Kind     string // "table" or "onnx"
	Dim      int    // embedding table width
	MinCount int    // minimum token frequency for the table vocabulary

	ONNXModelPath  string
	VocabPath      string
	ProjectionPath string
	LibraryPath    string
	Threads        int
	Pooled         bool
}

// TrainConfig holds the training loop and optimizer settings.
type TrainConfig struct {
	Epochs         int
	BatchSize      int
	PropagateInput bool
	Optimizer      string // "sgd" or "adamw"
	LearningRate   float64
	Decay          float64
	Momentum       float64
	WeightDecay    float64
}

// OutputConfig holds prediction output settings.
type OutputConfig struct {
	Format    string // "stdout" or "file"
	Path      string // file output path
	Tee       bool   // also write file output to stdout
	Pretty    bool
	Verbosity string // "minimal", "standard", "full"
	MaxSize   int64  // file rotation size in bytes, 0 disables rotation
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		Data: DataConfig{
			TrainPath:      os.Getenv("CANOPY_TRAIN_PATH"),
			ValidationPath: os.Getenv("CANOPY_VALIDATION_PATH"),
			TestPath:       os.Getenv("CANOPY_TEST_PATH"),
			AutoComplete:   getenvBool("CANOPY_AUTO_COMPLETE", false),
		},
		Model: ModelConfig{
			Path:           getenv("CANOPY_MODEL_PATH", "models/canopy.json"),
			LabelsPath:     os.Getenv("CANOPY_LABELS_PATH"),
			AttentionWidth: getenvInt("CANOPY_ATTENTION_WIDTH", 32),
			Cell:           getenv("CANOPY_CELL", "tanh"),
			Dropout:        getenvFloat("CANOPY_DROPOUT", 0),
			Seed:           uint64(getenvInt("CANOPY_SEED", 1)),
		},
		Encoder: EncoderConfig{
			Kind:           getenv("CANOPY_ENCODER", "table"),
			Dim:            getenvInt("CANOPY_EMBEDDING_DIM", 64),
			MinCount:       getenvInt("CANOPY_MIN_COUNT", 1),
			ONNXModelPath:  getenv("CANOPY_ONNX_MODEL_PATH", "models/model_quantized.onnx"),
			VocabPath:      getenv("CANOPY_VOCAB_PATH", "models/vocab.txt"),
			ProjectionPath: os.Getenv("CANOPY_PROJECTION_PATH"),
			LibraryPath:    os.Getenv("CANOPY_ONNX_LIBRARY"),
			Threads:        getenvInt("CANOPY_ONNX_THREADS", 1),
			Pooled:         getenvBool("CANOPY_ONNX_POOLED", false),
		},
		Train: TrainConfig{
			Epochs:         getenvInt("CANOPY_EPOCHS", 10),
			BatchSize:      getenvInt("CANOPY_BATCH_SIZE", 16),
			PropagateInput: getenvBool("CANOPY_PROPAGATE_INPUT", true),
			Optimizer:      getenv("CANOPY_OPTIMIZER", "sgd"),
			LearningRate:   getenvFloat("CANOPY_LEARNING_RATE", 0.1),
			Decay:          getenvFloat("CANOPY_LR_DECAY", 0),
			Momentum:       getenvFloat("CANOPY_MOMENTUM", 0),
			WeightDecay:    getenvFloat("CANOPY_WEIGHT_DECAY", 0.01),
		},
		Output: OutputConfig{
			Format:    getenv("CANOPY_OUTPUT", "stdout"),
			Path:      getenv("CANOPY_OUTPUT_PATH", "predictions.jsonl"),
			Tee:       getenvBool("CANOPY_OUTPUT_TEE", false),
			Pretty:    getenvBool("CANOPY_OUTPUT_PRETTY", false),
			Verbosity: getenv("CANOPY_VERBOSITY", "standard"),
			MaxSize:   int64(getenvInt("CANOPY_OUTPUT_MAX_SIZE", 0)),
		},
		LogLevel:    getenv("CANOPY_LOG_LEVEL", "info"),
		MetricsAddr: os.Getenv("CANOPY_METRICS_ADDR"),
	}
}

// Validate checks the configuration for values no command can run with.
func (c Config) Validate() error {
	var problems []string
	if c.Model.AttentionWidth <= 0 {
		problems = append(problems, "CANOPY_ATTENTION_WIDTH must be positive")
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		problems = append(problems, "CANOPY_DROPOUT must be in [0, 1)")
	}
	switch c.Encoder.Kind {
	case "table":
		if c.Encoder.Dim <= 0 {
			problems = append(problems, "CANOPY_EMBEDDING_DIM must be positive")
		}
	case "onnx":
	default:
		problems = append(problems, fmt.Sprintf("unknown CANOPY_ENCODER %q", c.Encoder.Kind))
	}
	if c.Train.Epochs < 0 {
		problems = append(problems, "CANOPY_EPOCHS must not be negative")
	}
	if c.Train.BatchSize <= 0 {
		problems = append(problems, "CANOPY_BATCH_SIZE must be positive")
	}
	if c.Train.LearningRate <= 0 {
		problems = append(problems, "CANOPY_LEARNING_RATE must be positive")
	}
	switch c.Output.Format {
	case "stdout", "file":
	default:
		problems = append(problems, fmt.Sprintf("unknown CANOPY_OUTPUT %q", c.Output.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
