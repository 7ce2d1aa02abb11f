package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Inference InferenceConfig `mapstructure:"inference"`
	LogLevel  string          `mapstructure:"log_level"`
	Verbose   bool            `mapstructure:"verbose"`
}

type PathsConfig struct {
	Model          string   `mapstructure:"model"`
	Image          string   `mapstructure:"image"`
	Reference      string   `mapstructure:"reference"`
	Ranges         string   `mapstructure:"ranges"`
	NetworkTensors string   `mapstructure:"network_tensors"`
	DataDirs       []string `mapstructure:"data_dirs"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	APIVersion     uint32 `mapstructure:"api_version"`
}

type InferenceConfig struct {
	TopBottomK   int     `mapstructure:"top_bottom_k"`
	FP32         bool    `mapstructure:"fp32"`
	DLACore      int     `mapstructure:"dla_core"`
	SafeGPUInt8  bool    `mapstructure:"safe_gpu_int8"`
	DefaultRange float64 `mapstructure:"default_range"`
	BatchSize    int     `mapstructure:"batch_size"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// ErrInvalidOptions is returned by Validate for conflicting settings.
var ErrInvalidOptions = errors.New("invalid options")

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			Model:          "mobilenet_quantized_opt.onnx",
			Image:          "airliner.ppm",
			Reference:      "reference_labels.txt",
			Ranges:         "mobilenet_last_dynamic_range.txt",
			NetworkTensors: "network_tensors.txt",
			DataDirs:       []string{"data/samples/int8_api/", "data/int8_api/"},
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTVersion:     "",
			APIVersion:     23,
		},
		Inference: InferenceConfig{
			TopBottomK:   5,
			FP32:         false,
			DLACore:      -1,
			SafeGPUInt8:  false,
			DefaultRange: 127,
			BatchSize:    1,
		},
		LogLevel: "info",
		Verbose:  false,
	}
}

// flagKeys maps each command line flag to its config key.
var flagKeys = []struct {
	flag string
	key  string
}{
	{"model", "paths.model"},
	{"image", "paths.image"},
	{"reference", "paths.reference"},
	{"ranges", "paths.ranges"},
	{"network-tensors-file", "paths.network_tensors"},
	{"data", "paths.data_dirs"},
	{"ort-lib", "runtime.ort_library_path"},
	{"ort-version", "runtime.ort_version"},
	{"ort-api-version", "runtime.api_version"},
	{"top-bottom-k", "inference.top_bottom_k"},
	{"fp32", "inference.fp32"},
	{"use-dla-core", "inference.dla_core"},
	{"safe-gpu-int8", "inference.safe_gpu_int8"},
	{"default-range", "inference.default_range"},
	{"batch-size", "inference.batch_size"},
	{"log-level", "log_level"},
	{"verbose", "verbose"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("model", defaults.Paths.Model, "ONNX model file (absolute, or relative to a data dir)")
	fs.String("image", defaults.Paths.Image, "PPM image to classify")
	fs.String("reference", defaults.Paths.Reference, "Reference labels file, one class per line")
	fs.String("ranges", defaults.Paths.Ranges, "Per tensor dynamic range file (name:value per line)")
	fs.String("network-tensors-file", defaults.Paths.NetworkTensors, "Output path for the network tensor names listing")
	fs.StringSlice("data", defaults.Paths.DataDirs, "Data directories searched for relative input files")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Uint32("ort-api-version", defaults.Runtime.APIVersion, "ONNX Runtime C API version expected by the purego binding")
	fs.Int("top-bottom-k", defaults.Inference.TopBottomK, "Number of Top-K and Bottom-K predictions to report")
	fs.Bool("fp32", defaults.Inference.FP32, "Run at FP32 precision instead of INT8")
	fs.Int("use-dla-core", defaults.Inference.DLACore, "DLA core to run on (-1 selects the GPU)")
	fs.Bool("safe-gpu-int8", defaults.Inference.SafeGPUInt8, "Run INT8 inference in safe GPU mode")
	fs.Float64("default-range", defaults.Inference.DefaultRange, "Dynamic range for tensors missing from the range file")
	fs.Int("batch-size", defaults.Inference.BatchSize, "Inference batch size")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.BoolP("verbose", "v", defaults.Verbose, "Log per tensor dynamic ranges and binding details")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("INT8API")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	if err := v.BindEnv("runtime.ort_library_path", "INT8API_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("int8api")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate rejects option combinations the engine cannot honor.
func (c Config) Validate() error {
	in := c.Inference
	switch {
	case in.DLACore >= 0 && in.FP32:
		return fmt.Errorf("%w: cannot use a DLA core together with fp32", ErrInvalidOptions)
	case in.SafeGPUInt8 && (in.FP32 || in.DLACore >= 0):
		return fmt.Errorf("%w: safe-gpu-int8 cannot be combined with fp32 or a DLA core", ErrInvalidOptions)
	case in.TopBottomK < 0:
		return fmt.Errorf("%w: top-bottom-k must be >= 0, got %d", ErrInvalidOptions, in.TopBottomK)
	case !(in.DefaultRange > 0):
		return fmt.Errorf("%w: default-range must be positive, got %v", ErrInvalidOptions, in.DefaultRange)
	case in.BatchSize != 1:
		return fmt.Errorf("%w: only batch size 1 is supported, got %d", ErrInvalidOptions, in.BatchSize)
	}
	return nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", fk.flag, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model", c.Paths.Model)
	v.SetDefault("paths.image", c.Paths.Image)
	v.SetDefault("paths.reference", c.Paths.Reference)
	v.SetDefault("paths.ranges", c.Paths.Ranges)
	v.SetDefault("paths.network_tensors", c.Paths.NetworkTensors)
	v.SetDefault("paths.data_dirs", c.Paths.DataDirs)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.api_version", c.Runtime.APIVersion)
	v.SetDefault("inference.top_bottom_k", c.Inference.TopBottomK)
	v.SetDefault("inference.fp32", c.Inference.FP32)
	v.SetDefault("inference.dla_core", c.Inference.DLACore)
	v.SetDefault("inference.safe_gpu_int8", c.Inference.SafeGPUInt8)
	v.SetDefault("inference.default_range", c.Inference.DefaultRange)
	v.SetDefault("inference.batch_size", c.Inference.BatchSize)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("verbose", c.Verbose)
}
