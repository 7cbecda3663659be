package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantdisease/internal/config"
	"plantdisease/internal/logger"
	"plantdisease/internal/model"
	"plantdisease/internal/service"
)

type fakePredictor struct {
	output []float32
	err    error
}

func (f *fakePredictor) Predict(ctx context.Context, input *model.Tensor) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func testConfig() *config.Config {
	return &config.Config{
		UploadField:        "file",
		MaxUploadSize:      1 << 20,
		RequestTimeout:     5 * time.Second,
		CORSAllowedOrigins: []string{"*"},
	}
}

func testClassifier(t *testing.T, p service.Predictor) *service.Classifier {
	t.Helper()
	c, err := service.NewClassifier(p, model.DefaultManifest(), service.Options{MaxConcurrent: 2}, logger.NewNop())
	require.NoError(t, err)
	return c
}

func blightOutput() []float32 {
	out := make([]float32, 15)
	out[4] = 0.9731
	out[5] = 0.02
	return out
}

func leafPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: uint8(100 + x%100), B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHomeHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HomeHandler(logger.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]interface{}{"message": "🌱 Plant Disease Detection API is live!"}, decodeBody(t, rec))
}

func TestPredictHandler_Success(t *testing.T) {
	h := PredictHandler(testClassifier(t, &fakePredictor{output: blightOutput()}), testConfig(), logger.NewNop())

	rec := httptest.NewRecorder()
	h(rec, multipartRequest(t, "file", "leaf.png", leafPNG(t, 256, 256)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, 4.0, body["class_index"])
	assert.Equal(t, "Potato___healthy", body["class_name"])
	assert.Equal(t, 97.31, body["confidence"])
	assert.NotContains(t, body, "error")
}

func TestPredictHandler_Failures(t *testing.T) {
	small := testConfig()
	small.MaxUploadSize = 512

	tests := []struct {
		name      string
		predictor *fakePredictor
		cfg       *config.Config
		request   func(t *testing.T) *http.Request
		status    int
	}{
		{
			name:      "missing file field",
			predictor: &fakePredictor{output: blightOutput()},
			cfg:       testConfig(),
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "image", "leaf.png", leafPNG(t, 8, 8))
			},
			status: http.StatusBadRequest,
		},
		{
			name:      "not multipart",
			predictor: &fakePredictor{output: blightOutput()},
			cfg:       testConfig(),
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"file":"x"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			status: http.StatusBadRequest,
		},
		{
			name:      "text file",
			predictor: &fakePredictor{output: blightOutput()},
			cfg:       testConfig(),
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "file", "notes.txt", []byte("these are not pixels"))
			},
			status: http.StatusUnsupportedMediaType,
		},
		{
			name:      "corrupt image",
			predictor: &fakePredictor{output: blightOutput()},
			cfg:       testConfig(),
			request: func(t *testing.T) *http.Request {
				data := leafPNG(t, 32, 32)
				return multipartRequest(t, "file", "leaf.png", data[:len(data)/2])
			},
			status: http.StatusBadRequest,
		},
		{
			name:      "upload too large",
			predictor: &fakePredictor{output: blightOutput()},
			cfg:       small,
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "file", "big.png", bytes.Repeat([]byte{0x42}, 4096))
			},
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name:      "shape mismatch",
			predictor: &fakePredictor{err: model.ErrShapeMismatch},
			cfg:       testConfig(),
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "file", "leaf.png", leafPNG(t, 8, 8))
			},
			status: http.StatusUnprocessableEntity,
		},
		{
			name:      "inference failure",
			predictor: &fakePredictor{err: errors.New("forward pass failed")},
			cfg:       testConfig(),
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "file", "leaf.png", leafPNG(t, 8, 8))
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := PredictHandler(testClassifier(t, tt.predictor), tt.cfg, logger.NewNop())

			rec := httptest.NewRecorder()
			h(rec, tt.request(t))

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body, "class_name")
		})
	}
}

// deadlineRecorder exposes SetWriteDeadline to http.ResponseController.
type deadlineRecorder struct {
	*httptest.ResponseRecorder
	deadline time.Time
}

func (d *deadlineRecorder) SetWriteDeadline(deadline time.Time) error {
	d.deadline = deadline
	return nil
}

func TestPredictHandler_SetsWriteDeadline(t *testing.T) {
	cfg := testConfig()
	h := PredictHandler(testClassifier(t, &fakePredictor{output: blightOutput()}), cfg, logger.NewNop())

	rec := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
	start := time.Now()
	h(rec, multipartRequest(t, "file", "leaf.png", leafPNG(t, 16, 16)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, rec.deadline.IsZero())
	assert.WithinDuration(t, start.Add(cfg.RequestTimeout+writeMargin), rec.deadline, time.Second)
}

func TestPredictHandler_SameImageSameAnswer(t *testing.T) {
	h := PredictHandler(testClassifier(t, &fakePredictor{output: blightOutput()}), testConfig(), logger.NewNop())
	data := leafPNG(t, 64, 48)

	first := httptest.NewRecorder()
	h(first, multipartRequest(t, "file", "a.png", data))
	second := httptest.NewRecorder()
	h(second, multipartRequest(t, "file", "b.png", data))

	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestStreamPredictHandler(t *testing.T) {
	h := StreamPredictHandler(testClassifier(t, &fakePredictor{output: blightOutput()}), NewStreamRegistry(), testConfig(), logger.NewNop())
	server := httptest.NewServer(h)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, leafPNG(t, 20, 20)))
	var prediction map[string]interface{}
	require.NoError(t, conn.ReadJSON(&prediction))
	assert.Equal(t, "Potato___healthy", prediction["class_name"])
	assert.Equal(t, 97.31, prediction["confidence"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	var failure map[string]interface{}
	require.NoError(t, conn.ReadJSON(&failure))
	assert.NotEmpty(t, failure["error"])
	assert.NotContains(t, failure, "class_name")
}

func TestStreamRegistry_ShutdownClosesClients(t *testing.T) {
	streams := NewStreamRegistry()
	h := StreamPredictHandler(testClassifier(t, &fakePredictor{output: blightOutput()}), streams, testConfig(), logger.NewNop())
	server := httptest.NewServer(h)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return streams.Count() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, streams.Shutdown(ctx))

	assert.Equal(t, 0, streams.Count())
	assert.Error(t, streams.Context().Err())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		origin   string
		host     string
		allowed  []string
		expected bool
	}{
		{"", "api.local", nil, true},
		{"http://api.local", "api.local", nil, true},
		{"http://farm.example", "api.local", []string{"*"}, true},
		{"http://farm.example", "api.local", []string{"http://farm.example"}, true},
		{"http://evil.example", "api.local", []string{"http://farm.example"}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, originAllowed(tt.origin, tt.host, tt.allowed), tt.origin)
	}
}

func TestLogsHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "warning.log"), []byte("manifest not found\n"), 0644))
	cfg := testConfig()
	cfg.LogDirectory = dir
	h := LogsHandler(cfg, logger.NewNop())

	tests := []struct {
		level  string
		status int
		body   string
	}{
		{"warning", http.StatusOK, "manifest not found"},
		{"error", http.StatusNotFound, "log file not found"},
		{"debug", http.StatusNotFound, "unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/logs/"+tt.level, nil)
			req.SetPathValue("level", tt.level)
			rec := httptest.NewRecorder()
			h(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}
