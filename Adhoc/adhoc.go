package Adhoc

import (
	"OnnxDepth/engine"
	"OnnxDepth/logger"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DmlInstance      = 0x2001
	CpuInstance      = 0x2002
	CudaInstance     = 0x2003
	TensorRTInstance = 0x2005
	CoreMLInstance   = 0x2006
	TimeOutSeconds   = 5
)

// Interval between two heartbeats.
var Interval = TimeOutSeconds * time.Second

type RegisterRequest struct {
	Id            string `json:"id"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	InstanceClass int    `json:"instanceClass"`
	TimeStamp     int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

var RegServerCfg RegServerConfig

// InstanceClassFor 按第一个生效的 execution provider 决定实例类型
func InstanceClassFor(providers []string) int {
	if len(providers) == 0 {
		return CpuInstance
	}
	switch providers[0] {
	case engine.ProviderTensorRT:
		return TensorRTInstance
	case engine.ProviderCUDA:
		return CudaInstance
	case engine.ProviderDirectML:
		return DmlInstance
	case engine.ProviderCoreML:
		return CoreMLInstance
	default:
		return CpuInstance
	}
}

// OutboundIP 只是借 UDP 路由拿到本机出口 IP，不会真的发包
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

// SendAliveMessage registers this instance every Interval until ctx ends.
// Failures are logged and retried on the next tick.
func SendAliveMessage(ctx context.Context, wg *sync.WaitGroup, ip string, port int, instanceClass int) {
	defer wg.Done()
	addr := fmt.Sprintf("%s:%d", RegServerCfg.Addr, RegServerCfg.Port)
	url := fmt.Sprintf("http://%s/api/register", addr)
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second) // 总超时
	id := uuid.NewString()
	log := logger.Log().With(zap.String("id", id), zap.String("registry", url))

	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("SendAliveMessage panic recovered", zap.Any("panic", r))
			}
		}()
		var respBody RegisterResponse
		reqBody := RegisterRequest{
			Id:            id,
			IP:            ip,
			Port:          port,
			InstanceClass: instanceClass,
			TimeStamp:     time.Now().Unix(),
		}
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).     // 直接传 struct，resty 会 JSON 编码
			SetResult(&respBody). // 2xx 自动反序列化到 respBody
			Post(url)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("request error", zap.Error(err))
			}
			return
		}
		// 检查 HTTP 状态码
		if resp.IsError() {
			log.Error("server returned error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
			return
		}
		if !respBody.Success {
			log.Warn("registration rejected")
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			log.Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
