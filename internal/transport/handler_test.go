package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/basicfont"

	"github.com/menta2k/vision-detect/pkg/annotate"
	"github.com/menta2k/vision-detect/pkg/client"
	"github.com/menta2k/vision-detect/pkg/detection"
	"github.com/menta2k/vision-detect/pkg/types"
)

type stubBackend struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Infer(context.Context, client.Request) (*types.Inference, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &types.Inference{Text: s.text}, nil
}

func newTestHandler(t *testing.T, backends ...client.Backend) http.Handler {
	t.Helper()
	d, err := detection.NewDetector(annotate.NewWithFace(basicfont.Face7x13), detection.DefaultOptions(), backends...)
	require.NoError(t, err)
	return NewHandler(d, Options{Version: "test"})
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// noisyPNG encodes random pixels so the file does not compress below its raw size
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(1))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "in.png")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubBackend{name: "api"}, &stubBackend{name: "local"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "available", resp["status"])
	assert.Equal(t, "test", resp["version"])
	assert.Equal(t, "api", resp["default"])
	assert.Len(t, resp["backends"], 2)
}

func TestDetectSuccess(t *testing.T) {
	h := newTestHandler(t, &stubBackend{
		name: "api",
		text: "```json\n{\"answer\":\"a box\",\"detections\":[{\"bbox_2d\":[10,10,100,100],\"label\":\"box\"}]}\n```",
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, map[string]string{"query": "find the box"}, pngBytes(t, 784, 588)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp DetectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "a box", resp.Answer)
	require.NotNil(t, resp.Image)
	assert.True(t, strings.HasPrefix(*resp.Image, "data:image/png;base64,"))
	assert.Len(t, resp.Detections, 1)
	assert.Equal(t, "api", resp.Backend)
	assert.NotEmpty(t, resp.RequestID)
}

func TestDetectMessagesHaveNullImage(t *testing.T) {
	h := newTestHandler(t, &stubBackend{name: "api", text: "no json here"})

	tests := []struct {
		name   string
		fields map[string]string
		image  []byte
		want   string
	}{
		{"empty query", map[string]string{"query": " "}, pngBytes(t, 64, 64), detection.MsgEmptyQuery},
		{"no image", map[string]string{"query": "cats"}, nil, detection.MsgNoImage},
		{"unparseable reply", map[string]string{"query": "cats"}, pngBytes(t, 64, 64), detection.MsgParseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, multipartRequest(t, tt.fields, tt.image))
			require.Equal(t, http.StatusOK, w.Code)

			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
			assert.Equal(t, tt.want, raw["answer"])
			val, present := raw["image"]
			assert.True(t, present)
			assert.Nil(t, val)
		})
	}
}

func TestDetectTransportError(t *testing.T) {
	h := newTestHandler(t, &stubBackend{name: "api", err: errors.New("dial tcp: refused")})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, map[string]string{"query": "cats"}, pngBytes(t, 64, 64)))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "refused")
}

func TestDetectRejectsOversizedUpload(t *testing.T) {
	backend := &stubBackend{name: "api", text: "[]"}
	d, err := detection.NewDetector(annotate.NewWithFace(basicfont.Face7x13), detection.DefaultOptions(), backend)
	require.NoError(t, err)
	h := NewHandler(d, Options{Version: "test", MaxUploadBytes: 1024})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, map[string]string{"query": "find cats"}, noisyPNG(t, 300, 300)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "1.0 KB")
	assert.NotContains(t, w.Body.String(), "请输入检测查询内容")
	assert.Zero(t, backend.calls)
}

func TestDetectUnknownBackend(t *testing.T) {
	h := newTestHandler(t, &stubBackend{name: "api"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, map[string]string{"query": "cats", "backend": "gpu"}, pngBytes(t, 64, 64)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClear(t *testing.T) {
	h := newTestHandler(t, &stubBackend{name: "api"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/clear", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, map[string]interface{}{
		"image":     nil,
		"query":     "",
		"answer":    detection.WelcomeMessage,
		"annotated": nil,
	}, raw)
}
