package config

import "fmt"

// Precision is the numeric precision the engine runs at.
type Precision string

const (
	PrecisionINT8 Precision = "INT8"
	PrecisionFP32 Precision = "FP32"
)

// Precision reports the configured run precision.
func (in InferenceConfig) Precision() Precision {
	if in.FP32 {
		return PrecisionFP32
	}
	return PrecisionINT8
}

// Device names the accelerator selected by the configuration.
func (in InferenceConfig) Device() string {
	if in.DLACore >= 0 {
		return fmt.Sprintf("DLA:%d", in.DLACore)
	}
	return "GPU"
}
