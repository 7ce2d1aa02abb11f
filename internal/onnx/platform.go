package onnx

import "github.com/klauspost/cpuid/v2"

// PlatformHasFastInt8 reports whether the host CPU has 8-bit dot product
// instructions that runtimes use for quantized kernels.
func PlatformHasFastInt8() bool {
	return cpuid.CPU.Supports(cpuid.AVX512VNNI) ||
		cpuid.CPU.Supports(cpuid.AVXVNNI) ||
		cpuid.CPU.Supports(cpuid.ASIMDDP)
}

// CPUDescription names the host CPU for diagnostics.
func CPUDescription() string {
	name := cpuid.CPU.BrandName
	if name == "" {
		name = cpuid.CPU.VendorString
	}
	if name == "" {
		name = "unknown cpu"
	}
	return name
}
