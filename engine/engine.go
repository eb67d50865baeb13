package engine

import (
	iface "OnnxDepth/interface"
	"OnnxDepth/logger"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var _ iface.Backend = (*Session)(nil)

// Session is a single onnxruntime session for a one-input depth model.
// Run calls are serialized; the session is not safe for parallel inference.
type Session struct {
	mu         sync.RWMutex
	runMu      sync.Mutex
	opts       Options
	ModelPath  string
	InputName  string
	OutputName string
	Providers  []string
	State      int
	session    *ort.DynamicAdvancedSession
	log        *zap.Logger
}

func New(opts Options, log *zap.Logger) *Session {
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if log == nil {
		log = logger.Log()
	}
	return &Session{
		opts:  opts,
		log:   log,
		State: REGISTERED,
	}
}

func ioNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// LoadModel reads the model signature and builds the session with the
// configured thread count and execution providers.
func (s *Session) LoadModel(modelPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != REGISTERED && s.State != IDLE {
		return ErrNotRegistered
	}
	if !strings.EqualFold(filepath.Ext(modelPath), ".onnx") {
		return fmt.Errorf("%w: LoadModel only supports .onnx, got %s", ErrBadModel, modelPath)
	}
	if !ort.IsInitialized() {
		return ErrEngineNotLoaded
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load ONNX model %s: %w", modelPath, err)
	}
	s.log.Info("Model signature",
		zap.String("model", modelPath),
		zap.Strings("inputs", ioNames(inputs)),
		zap.Strings("outputs", ioNames(outputs)))
	if len(inputs) != 1 || len(outputs) == 0 {
		return fmt.Errorf("%w: %d inputs, %d outputs (expected 1 image input)", ErrBadModel, len(inputs), len(outputs))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(s.opts.Threads); err != nil {
		return fmt.Errorf("set intra-op threads: %w", err)
	}
	providers, err := applyProviders(ortSink{opts: options}, s.opts, s.log)
	if err != nil {
		return err
	}

	inputName, outputName := inputs[0].Name, outputs[0].Name
	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, []string{outputName}, options)
	if err != nil {
		return fmt.Errorf("failed to load ONNX model %s: %w", modelPath, err)
	}
	if s.session != nil {
		_ = s.session.Destroy()
	}
	s.session = session
	s.ModelPath = modelPath
	s.InputName = inputName
	s.OutputName = outputName
	s.Providers = providers
	s.State = IDLE
	s.log.Info("Model loaded",
		zap.String("model", modelPath),
		zap.Strings("providers", providers),
		zap.Int("threads", s.opts.Threads))
	return nil
}

// Run performs one forward pass. The returned tensor owns its data.
func (s *Session) Run(input iface.Tensor) (iface.Tensor, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	switch s.State {
	case IDLE:
	case REGISTERED:
		s.mu.Unlock()
		return iface.Tensor{}, ErrModelNotLoaded
	default:
		s.mu.Unlock()
		return iface.Tensor{}, ErrNotRegistered
	}
	s.State = BUSY
	session := s.session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.State = IDLE
		s.mu.Unlock()
	}()
	return runSession(session, input)
}

func runSession(session *ort.DynamicAdvancedSession, input iface.Tensor) (iface.Tensor, error) {
	if size := input.Size(); size == 0 || int64(len(input.Data)) != size {
		return iface.Tensor{}, fmt.Errorf("input shape %v does not match %d values", input.Shape, len(input.Data))
	}
	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return iface.Tensor{}, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()

	// nil output: onnxruntime allocates it with the real (dynamic) shape
	outs := []ort.Value{nil}
	if err := session.Run([]ort.Value{in}, outs); err != nil {
		return iface.Tensor{}, fmt.Errorf("ORT inference failed: %w", err)
	}
	if outs[0] == nil {
		return iface.Tensor{}, fmt.Errorf("%w: no output from model", ErrBadModel)
	}
	defer outs[0].Destroy()

	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return iface.Tensor{}, fmt.Errorf("%w: output is not a float32 tensor", ErrBadModel)
	}
	src := t.GetData()
	data := make([]float32, len(src))
	copy(data, src)
	return iface.Tensor{
		Shape: append([]int64(nil), t.GetShape()...),
		Data:  data,
	}, nil
}

func (s *Session) CheckConfig() iface.EngineConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	retConfig := iface.EngineConfig{}
	retConfig.ModelPath = s.ModelPath
	retConfig.InputName = s.InputName
	retConfig.OutputName = s.OutputName
	retConfig.Threads = s.opts.Threads
	retConfig.DeviceID = s.opts.DeviceID
	retConfig.Providers = append([]string(nil), s.Providers...)
	retConfig.State = s.State
	retConfig.Description = fmt.Sprintf("onnxruntime session (%s)", StateName(s.State))
	return retConfig
}

// Destroy waits for a running inference and releases the session.
func (s *Session) Destroy() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			s.log.Warn("Destroy session failed", zap.Error(err))
		}
	}
	s.session = nil
	s.ModelPath = ""
	s.InputName = ""
	s.OutputName = ""
	s.Providers = nil
	s.State = UNREGISTERED
}
