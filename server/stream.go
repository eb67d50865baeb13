package server

import (
	"OnnxDepth/monitor"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamReply is sent for every frame received on /ws/depth.
type StreamReply struct {
	RequestID string `json:"requestId"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Depth     string `json:"depth,omitempty"`
	Error     string `json:"error,omitempty"`
}

// decodeBase64 accepts plain base64 or a data:image/...;base64, URL.
func decodeBase64(b64 string) ([]byte, error) {
	// 去掉可能的 data URL 前缀
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
}

func (s *Server) streamFrame(ctx context.Context, msg []byte) StreamReply {
	monitor.RequestsTotal.Inc()
	reply := StreamReply{RequestID: uuid.NewString()}
	fail := func(reason string, err error) StreamReply {
		monitor.FailuresTotal.WithLabelValues(reason).Inc()
		reply.Error = err.Error()
		return reply
	}

	data, err := decodeBase64(string(msg))
	if err != nil {
		return fail("decode", fmt.Errorf("invalid image: %w", err))
	}
	img, err := s.codec.Decode(data)
	if err != nil {
		return fail("decode", fmt.Errorf("invalid image: %w", err))
	}
	res, err := s.estimate(ctx, img, s.opts.ResizeToInput)
	if err != nil {
		_, reason := failure(err)
		return fail(reason, fmt.Errorf("inference error: %w", err))
	}
	out, err := s.codec.Encode(res.Image, ".png")
	if err != nil {
		return fail("encode", err)
	}
	reply.Width = res.Image.Bounds().Dx()
	reply.Height = res.Image.Bounds().Dy()
	reply.Depth = base64.StdEncoding.EncodeToString(out)
	return reply
}

// handleStream 每条文本消息是一张 base64 图像，回复对应的 16-bit PNG 深度图
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.opts.MaxUploadBytes)
	log := s.log.With(zap.String("remote", c.Request.RemoteAddr))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				text := fmt.Sprintf("%d ms not active, released", s.opts.IdleTimeout.Milliseconds())
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, text),
					time.Now().Add(time.Second))
			}
			log.Debug("stream closed", zap.Error(err))
			return
		}
		var reply StreamReply
		switch mt {
		case websocket.TextMessage:
			reply = s.streamFrame(c.Request.Context(), msg)
		default:
			reply = StreamReply{RequestID: uuid.NewString(), Error: "unsupported message type"}
		}
		if err := conn.WriteJSON(reply); err != nil {
			log.Debug("stream write failed", zap.Error(err))
			return
		}
	}
}
