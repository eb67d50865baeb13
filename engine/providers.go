package engine

import (
	"fmt"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	ProviderTensorRT = "TensorRT"
	ProviderCUDA     = "CUDA"
	ProviderDirectML = "DirectML"
	ProviderCoreML   = "CoreML"
	ProviderCPU      = "CPU"
)

// providerSink is the part of *ort.SessionOptions the provider table needs.
type providerSink interface {
	AppendTensorRT(deviceID int) error
	AppendCUDA(deviceID int) error
	AppendDirectML(deviceID int) error
	AppendCoreML() error
}

type providerEntry struct {
	name    string
	enabled func(o Options) bool
	attach  func(s providerSink, deviceID int) error
}

// providerTable is ordered by preference. CPU is always appended last by
// onnxruntime itself and never needs attaching.
var providerTable = []providerEntry{
	{
		name:    ProviderTensorRT,
		enabled: func(o Options) bool { return o.UseTensorRT },
		attach:  func(s providerSink, id int) error { return s.AppendTensorRT(id) },
	},
	{
		name:    ProviderCUDA,
		enabled: func(o Options) bool { return o.UseCUDA },
		attach:  func(s providerSink, id int) error { return s.AppendCUDA(id) },
	},
	{
		name:    ProviderDirectML,
		enabled: func(o Options) bool { return o.UseDirectML },
		attach:  func(s providerSink, id int) error { return s.AppendDirectML(id) },
	},
	{
		name:    ProviderCoreML,
		enabled: func(o Options) bool { return o.UseCoreML },
		attach:  func(s providerSink, _ int) error { return s.AppendCoreML() },
	},
}

// applyProviders attaches every requested provider and returns the active
// list, CPU included.
func applyProviders(sink providerSink, o Options, log *zap.Logger) ([]string, error) {
	active := make([]string, 0, len(providerTable)+1)
	for _, p := range providerTable {
		if !p.enabled(o) {
			continue
		}
		if err := p.attach(sink, o.DeviceID); err != nil {
			if o.Strict {
				return nil, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, p.name, err)
			}
			log.Warn("Execution provider unavailable, falling back",
				zap.String("provider", p.name), zap.Int("deviceId", o.DeviceID), zap.Error(err))
			continue
		}
		log.Info("Execution provider attached", zap.String("provider", p.name), zap.Int("deviceId", o.DeviceID))
		active = append(active, p.name)
	}
	return append(active, ProviderCPU), nil
}

type ortSink struct {
	opts *ort.SessionOptions
}

func (s ortSink) AppendTensorRT(deviceID int) error {
	trt, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		return err
	}
	defer trt.Destroy()
	if err := trt.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
		return err
	}
	return s.opts.AppendExecutionProviderTensorRT(trt)
}

func (s ortSink) AppendCUDA(deviceID int) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()
	if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
		return err
	}
	return s.opts.AppendExecutionProviderCUDA(cuda)
}

func (s ortSink) AppendDirectML(deviceID int) error {
	return s.opts.AppendExecutionProviderDirectML(deviceID)
}

func (s ortSink) AppendCoreML() error {
	return s.opts.AppendExecutionProviderCoreML(0)
}
