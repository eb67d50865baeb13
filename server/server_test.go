package server

import (
	"OnnxDepth/depth"
	"OnnxDepth/imageio"
	iface "OnnxDepth/interface"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	shape func(h, w int64) []int64
	err   error
}

func (b *fakeBackend) Run(input iface.Tensor) (iface.Tensor, error) {
	if b.err != nil {
		return iface.Tensor{}, b.err
	}
	h, w := input.Shape[2], input.Shape[3]
	shape := []int64{1, 1, h, w}
	if b.shape != nil {
		shape = b.shape(h, w)
	}
	data := make([]float32, h*w)
	for i := range data {
		data[i] = float32(i % 97)
	}
	return iface.Tensor{Shape: shape, Data: data}, nil
}

func (b *fakeBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		ModelPath: "models/depth_anything_v2_vitb_dynamic.onnx",
		Threads:   4,
		Providers: []string{"CPU"},
		State:     0x0003,
	}
}

func (b *fakeBackend) Destroy() {}

func newTestServer(t *testing.T, backend iface.Backend, opts Options) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	variant, err := depth.VariantFor("dynamic")
	require.NoError(t, err)
	codec := imageio.Imaging{}
	p := depth.New(backend, codec, depth.Options{Variant: variant, Logger: zap.NewNop()})
	opts.Logger = zap.NewNop()
	return New(p, backend, codec, opts)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, target, field string, payload []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPing(t *testing.T) {
	r := newTestServer(t, &fakeBackend{}, Options{}).Router()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestEngineInfo(t *testing.T) {
	r := newTestServer(t, &fakeBackend{}, Options{ResizeToInput: true}).Router()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/engine", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dynamic", resp.Data["variant"])
	assert.Equal(t, "AspectFit(518, 14)", resp.Data["policy"])
	assert.Equal(t, "idle", resp.Data["state"])
	assert.Equal(t, true, resp.Data["resizeToInput"])
	assert.Equal(t, []any{"CPU"}, resp.Data["providers"])
}

func TestDepth(t *testing.T) {
	t.Run("Test Resize To Input", func(t *testing.T) {
		r := newTestServer(t, &fakeBackend{}, Options{ResizeToInput: true}).Router()
		w := httptest.NewRecorder()
		r.ServeHTTP(w, uploadRequest(t, "/api/depth", "file", pngBytes(t, 40, 30)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.Equal(t, "40", w.Header().Get("X-Depth-Width"))
		assert.Equal(t, "30", w.Header().Get("X-Depth-Height"))
		decoded, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
		require.NoError(t, err)
		_, ok := decoded.(*image.Gray16)
		assert.True(t, ok, "expected 16-bit grayscale, got %T", decoded)
		assert.Equal(t, image.Rect(0, 0, 40, 30), decoded.Bounds())
	})

	t.Run("Test Keep Model Size", func(t *testing.T) {
		r := newTestServer(t, &fakeBackend{}, Options{ResizeToInput: true}).Router()
		w := httptest.NewRecorder()
		r.ServeHTTP(w, uploadRequest(t, "/api/depth?resizeToInput=false", "file", pngBytes(t, 40, 30)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		// AspectFit(518, 14) on 40x30 -> 518x388 -> 518x378
		assert.Equal(t, "518", w.Header().Get("X-Depth-Width"))
		assert.Equal(t, "378", w.Header().Get("X-Depth-Height"))
	})

	tests := []struct {
		name    string
		backend *fakeBackend
		target  string
		field   string
		payload []byte
		status  int
	}{
		{"missing file", &fakeBackend{}, "/api/depth", "image", pngBytes(t, 8, 8), http.StatusBadRequest},
		{"not an image", &fakeBackend{}, "/api/depth", "file", []byte("hello"), http.StatusBadRequest},
		{"bad query", &fakeBackend{}, "/api/depth?resizeToInput=maybe", "file", pngBytes(t, 8, 8), http.StatusBadRequest},
		{"bad output rank", &fakeBackend{shape: func(h, w int64) []int64 { return []int64{h, w} }}, "/api/depth", "file", pngBytes(t, 8, 8), http.StatusUnprocessableEntity},
		{"batch output", &fakeBackend{shape: func(h, w int64) []int64 { return []int64{2, h / 2, w} }}, "/api/depth", "file", pngBytes(t, 8, 8), http.StatusUnprocessableEntity},
		{"inference error", &fakeBackend{err: errors.New("CUDA out of memory")}, "/api/depth", "file", pngBytes(t, 8, 8), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestServer(t, tt.backend, Options{}).Router()
			w := httptest.NewRecorder()
			r.ServeHTTP(w, uploadRequest(t, tt.target, tt.field, tt.payload))
			assert.Equal(t, tt.status, w.Code)
			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
			assert.Equal(t, w.Header().Get("X-Request-ID"), resp["requestId"])
		})
	}

	t.Run("Test Upload Too Large", func(t *testing.T) {
		r := newTestServer(t, &fakeBackend{}, Options{MaxUploadBytes: 64}).Router()
		w := httptest.NewRecorder()
		r.ServeHTTP(w, uploadRequest(t, "/api/depth", "file", pngBytes(t, 32, 32)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestStream(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, Options{ResizeToInput: true, IdleTimeout: 200 * time.Millisecond})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/depth"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	t.Run("Test Frame", func(t *testing.T) {
		frame := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 20, 10))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		var reply StreamReply
		require.NoError(t, conn.ReadJSON(&reply))
		require.Empty(t, reply.Error)
		assert.NotEmpty(t, reply.RequestID)
		assert.Equal(t, 20, reply.Width)
		assert.Equal(t, 10, reply.Height)

		raw, err := base64.StdEncoding.DecodeString(reply.Depth)
		require.NoError(t, err)
		decoded, err := png.Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 20, 10), decoded.Bounds())
	})

	t.Run("Test Invalid Frame", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("%%%")))
		var reply StreamReply
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Contains(t, reply.Error, "invalid image")
	})

	t.Run("Test Binary Rejected", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
		var reply StreamReply
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, "unsupported message type", reply.Error)
	})

	t.Run("Test Idle Timeout", func(t *testing.T) {
		_, _, err := conn.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	})
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	enc := base64.StdEncoding.EncodeToString(raw)
	got, err := decodeBase64(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	got, err = decodeBase64("data:image/png;base64," + enc + "\n")
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	_, err = decodeBase64("not base64!")
	assert.Error(t, err)
}
