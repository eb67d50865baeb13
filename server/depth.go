package server

import (
	"OnnxDepth/monitor"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Server) fail(c *gin.Context, requestID string, status int, reason string, err error) {
	monitor.FailuresTotal.WithLabelValues(reason).Inc()
	s.log.Warn("depth request failed",
		zap.String("requestId", requestID),
		zap.String("reason", reason),
		zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error(), "requestId": requestID})
}

func (s *Server) handleDepth(c *gin.Context) {
	monitor.RequestsTotal.Inc()
	requestID := uuid.NewString()
	c.Header("X-Request-ID", requestID)

	resize := s.opts.ResizeToInput
	if q := c.Query("resizeToInput"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			s.fail(c, requestID, http.StatusBadRequest, "request", errors.New("invalid resizeToInput: "+q))
			return
		}
		resize = v
	}

	if c.Request.ContentLength > s.opts.MaxUploadBytes {
		err := fmt.Errorf("upload of %d bytes exceeds limit of %d", c.Request.ContentLength, s.opts.MaxUploadBytes)
		s.fail(c, requestID, http.StatusRequestEntityTooLarge, "request", err)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, requestID, http.StatusRequestEntityTooLarge, "request", err)
			return
		}
		s.fail(c, requestID, http.StatusBadRequest, "request", errors.New("File upload failed: "+err.Error()))
		return
	}
	f, err := file.Open()
	if err != nil {
		s.fail(c, requestID, http.StatusBadRequest, "request", err)
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		s.fail(c, requestID, http.StatusBadRequest, "request", err)
		return
	}

	img, err := s.codec.Decode(data)
	if err != nil {
		s.fail(c, requestID, http.StatusBadRequest, "decode", err)
		return
	}
	res, err := s.estimate(c.Request.Context(), img, resize)
	if err != nil {
		status, reason := failure(err)
		s.fail(c, requestID, status, reason, err)
		return
	}
	out, err := s.codec.Encode(res.Image, ".png")
	if err != nil {
		s.fail(c, requestID, http.StatusInternalServerError, "encode", err)
		return
	}

	b := res.Image.Bounds()
	s.log.Info("depth request done",
		zap.String("requestId", requestID),
		zap.String("file", file.Filename),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()))
	c.Header("X-Depth-Width", strconv.Itoa(b.Dx()))
	c.Header("X-Depth-Height", strconv.Itoa(b.Dy()))
	c.Data(http.StatusOK, "image/png", out)
}
