package main

import (
	adhoc "OnnxDepth/Adhoc"
	"OnnxDepth/config"
	"OnnxDepth/depth"
	"OnnxDepth/engine"
	"OnnxDepth/imageio"
	"OnnxDepth/imageio/cv"
	"OnnxDepth/logger"
	"OnnxDepth/monitor"
	"OnnxDepth/server"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/akamensky/argparse"
	"go.uber.org/zap"
)

// cliArgs holds the parsed flags. Zero values mean "use the config file".
type cliArgs struct {
	input         string
	output        string
	modelType     string
	keepModelSize bool
	threads       int
	useCUDA       bool
	useTensorRT   bool
	useDirectML   bool
	useCoreML     bool
	strict        bool
	deviceID      int
	modelDir      string
	ortLib        string
	codec         string
	configPath    string
	serve         bool
	dev           bool
}

func applyArgs(cfg *config.Config, a cliArgs) {
	if a.modelType != "" {
		cfg.ModelType = a.modelType
	}
	if a.keepModelSize {
		cfg.ResizeToInput = false
	}
	if a.threads > 0 {
		cfg.Threads = a.threads
	}
	cfg.UseCUDA = cfg.UseCUDA || a.useCUDA
	cfg.UseTensorRT = cfg.UseTensorRT || a.useTensorRT
	cfg.UseDirectML = cfg.UseDirectML || a.useDirectML
	cfg.UseCoreML = cfg.UseCoreML || a.useCoreML
	cfg.StrictProviders = cfg.StrictProviders || a.strict
	if a.deviceID >= 0 {
		cfg.DeviceID = a.deviceID
	}
	if a.modelDir != "" {
		cfg.ModelDir = a.modelDir
	}
	if a.ortLib != "" {
		cfg.OrtLib = a.ortLib
	}
	if a.codec != "" {
		cfg.Codec = a.codec
	}
	if a.dev {
		cfg.LogMode = logger.ModeDevelopment
	}
}

func newCodec(name string) (imageio.Codec, error) {
	switch name {
	case imageio.CodecOpenCV:
		return cv.OpenCV{}, nil
	case imageio.CodecImaging:
		return imageio.Imaging{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

func engineOptions(cfg config.Config) engine.Options {
	return engine.Options{
		Threads:     cfg.Threads,
		DeviceID:    cfg.DeviceID,
		UseTensorRT: cfg.UseTensorRT,
		UseCUDA:     cfg.UseCUDA,
		UseDirectML: cfg.UseDirectML,
		UseCoreML:   cfg.UseCoreML,
		Strict:      cfg.StrictProviders,
	}
}

func main() {
	parser := argparse.NewParser("onnxdepth", "Monocular depth estimation with Depth Anything v2 on ONNX Runtime")
	input := parser.String("i", "input", &argparse.Options{Help: "Input image"})
	output := parser.String("o", "output", &argparse.Options{Help: "Output 16-bit depth map (.png or .tiff)", Default: "depth.png"})
	modelType := parser.String("m", "model-type", &argparse.Options{Help: "Model variant: static (518x518) or dynamic (aspect preserving)"})
	keepModelSize := parser.Flag("", "keep-model-size", &argparse.Options{Help: "Keep the network output resolution instead of resizing back to the input size"})
	threads := parser.Int("t", "threads", &argparse.Options{Help: "Intra-op threads", Default: 0})
	useCUDA := parser.Flag("", "use-cuda", &argparse.Options{Help: "Use the CUDA execution provider"})
	useTensorRT := parser.Flag("", "use-tensorrt", &argparse.Options{Help: "Use the TensorRT execution provider"})
	useDirectML := parser.Flag("", "use-directml", &argparse.Options{Help: "Use the DirectML execution provider"})
	useCoreML := parser.Flag("", "use-coreml", &argparse.Options{Help: "Use the CoreML execution provider"})
	strict := parser.Flag("", "strict-providers", &argparse.Options{Help: "Fail instead of falling back when a provider cannot be attached"})
	deviceID := parser.Int("", "device-id", &argparse.Options{Help: "GPU device id", Default: -1})
	modelDir := parser.String("", "model-dir", &argparse.Options{Help: "Extra directory searched for model files"})
	ortLib := parser.String("", "ort-lib", &argparse.Options{Help: "Path to the onnxruntime shared library"})
	codec := parser.String("", "codec", &argparse.Options{Help: "Image codec: opencv or imaging"})
	configPath := parser.String("c", "config", &argparse.Options{Help: "YAML config file", Default: "config.yaml"})
	serve := parser.Flag("", "serve", &argparse.Options{Help: "Run the HTTP server instead of a single image"})
	dev := parser.Flag("", "dev", &argparse.Options{Help: "Development logging (debug level, per-stage timings)"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}
	a := cliArgs{
		input:         *input,
		output:        *output,
		modelType:     *modelType,
		keepModelSize: *keepModelSize,
		threads:       *threads,
		useCUDA:       *useCUDA,
		useTensorRT:   *useTensorRT,
		useDirectML:   *useDirectML,
		useCoreML:     *useCoreML,
		strict:        *strict,
		deviceID:      *deviceID,
		modelDir:      *modelDir,
		ortLib:        *ortLib,
		codec:         *codec,
		configPath:    *configPath,
		serve:         *serve,
		dev:           *dev,
	}
	if err := run(a); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(a cliArgs) error {
	if !a.serve && a.input == "" {
		return errors.New("one of -i/--input or --serve is required")
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	applyArgs(&cfg, a)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Log()

	variant, err := depth.VariantFor(cfg.ModelType)
	if err != nil {
		return err
	}
	if !a.serve {
		if _, err := imageio.OutputExt(a.output); err != nil {
			return err
		}
	}
	codec, err := newCodec(cfg.Codec)
	if err != nil {
		return err
	}

	if err := engine.LoadEngine(cfg.OrtLib); err != nil {
		return err
	}
	defer func() {
		if err := engine.Shutdown(); err != nil {
			log.Warn("onnxruntime shutdown failed", zap.Error(err))
		}
	}()
	modelPath, err := engine.FindModelPath(variant.ModelFile, cfg.ModelDir)
	if err != nil {
		return err
	}
	if cfg.Threads > runtime.NumCPU() {
		log.Warn("threads exceeds CPU cores, which may lead to performance degradation",
			zap.Int("threads", cfg.Threads), zap.Int("cpus", runtime.NumCPU()))
	}
	session := engine.New(engineOptions(cfg), log)
	defer session.Destroy()
	if err := session.LoadModel(modelPath); err != nil {
		return err
	}

	pipeline := depth.New(session, codec, depth.Options{
		Variant:       variant,
		ResizeToInput: cfg.ResizeToInput,
		Logger:        log,
		Observer:      monitor.ObserveStage,
	})
	log.Info("Pipeline ready",
		zap.String("variant", variant.Name),
		zap.String("policy", variant.Policy.String()),
		zap.String("model", modelPath),
		zap.String("codec", codec.Name()),
		zap.Bool("resizeToInput", cfg.ResizeToInput))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case a.serve:
		return serveMode(ctx, cfg, pipeline, session, codec)
	default:
		res, err := pipeline.Run(ctx, a.input, a.output)
		if err != nil {
			return err
		}
		printResult(a.output, res)
		return nil
	}
}

func printResult(path string, res *depth.Result) {
	b := res.Image.Bounds()
	fmt.Printf("Saved depth map: %s (%dx%d, 16-bit)\n", path, b.Dx(), b.Dy())
	logger.Log().Info("Depth statistics",
		zap.Float64("min", res.Stats.Min),
		zap.Float64("max", res.Stats.Max),
		zap.Float64("mean", res.Stats.Mean),
		zap.Float64("stddev", res.Stats.StdDev),
		zap.Int("nonFinite", res.Stats.NonFinite),
		zap.Int64s("outputShape", res.OutputShape))
}

func serveMode(ctx context.Context, cfg config.Config, pipeline *depth.Pipeline, session *engine.Session, codec imageio.Codec) error {
	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	fmt.Println(" HTTP    Port:", cfg.Server.HTTPPort)
	fmt.Println(" Monitor Port:", cfg.Server.MonitorPort)
	fmt.Println(" Providers:", strings.Join(session.CheckConfig().Providers, ", "))
	fmt.Println(strings.Repeat("#", 64))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	log := logger.Log()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.StartMon(ctx, cfg.Server.MonitorPort); err != nil {
			log.Error("monitor stopped", zap.Error(err))
		}
	}()

	if cfg.Server.UseRegServer {
		ip, err := adhoc.OutboundIP()
		if err != nil {
			log.Warn("Failed to get outbound IP, skipping registration", zap.Error(err))
		} else {
			fmt.Println("Outbound IP:", ip)
			adhoc.RegServerCfg.SetAddress(cfg.Server.RegServerHost, cfg.Server.RegServerPort)
			wg.Add(1)
			go adhoc.SendAliveMessage(ctx, &wg, ip, cfg.Server.HTTPPort, adhoc.InstanceClassFor(session.CheckConfig().Providers))
		}
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
	}

	srv := server.New(pipeline, session, codec, server.Options{
		ResizeToInput:  cfg.ResizeToInput,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) * 1024 * 1024,
		Logger:         log,
	})
	err := srv.Run(ctx, cfg.Server.HTTPPort)
	cancel()
	fmt.Println("Done")
	wg.Wait()
	fmt.Println("Safely exited")
	return err
}
