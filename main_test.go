package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/akhenakh/tiffblock/raster"
	"github.com/akhenakh/tiffblock/tiff"
	"github.com/akhenakh/tiffblock/tiff/tifftest"
)

// newTestServer serves a two page file. Page 0 is 4x4 bytes in strips of
// two rows with value x+4y and a no-data pixel at (3, 3). Page 1 is a 2x2
// image of sevens.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	b := tifftest.Builder{Order: binary.LittleEndian}
	pixels := make([]byte, 16)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	pixels[15] = 255

	f := b.Build(
		tifftest.Page{
			Fields: []tifftest.Field{
				b.Longs(tiff.ImageWidth, 4),
				b.Longs(tiff.ImageLength, 4),
				b.Shorts(tiff.BitsPerSample, 8),
				b.Longs(tiff.RowsPerStrip, 2),
				b.ASCII(tiff.GDALNoData, "255"),
			},
			Blocks: [][]byte{pixels[:8], pixels[8:]},
		},
		tifftest.Page{
			Fields: []tifftest.Field{
				b.Longs(tiff.ImageWidth, 2),
				b.Longs(tiff.ImageLength, 2),
				b.Shorts(tiff.BitsPerSample, 8),
				b.Longs(tiff.RowsPerStrip, 2),
			},
			Blocks: [][]byte{{7, 7, 7, 7}},
		},
	)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := raster.NewEngine(raster.WithWorkers(2), raster.WithLogger(logger))
	catalog, err := NewCatalog(f.Bytes(), engine, 1, logger, nil,
		[]raster.SamplerOption{raster.WithPrefetch(2)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(catalog.Close)
	return &Server{
		cfg:     Config{MaxRegionSamples: 64},
		catalog: catalog,
		logger:  logger,
	}
}

func get(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	s.routes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestInfoHandler(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		target string
		code   int
		width  int
	}{
		{"/info", http.StatusOK, 4},
		{"/info?page=1", http.StatusOK, 2},
		// Opening page 0 again evicts page 1 from the single slot catalog.
		{"/info?page=0", http.StatusOK, 4},
		{"/info?page=2", http.StatusNotFound, 0},
		{"/info?page=x", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := get(t, s, http.MethodGet, tt.target, "")
		if rec.Code != tt.code {
			t.Fatalf("GET %s = %d, want %d: %s", tt.target, rec.Code, tt.code, rec.Body)
		}
		if tt.code != http.StatusOK {
			continue
		}
		var info raster.Info
		if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
			t.Fatal(err)
		}
		if info.Width != tt.width || info.DataType != "Byte" {
			t.Errorf("GET %s = %+v", tt.target, info)
		}
	}
}

func TestRegionHandler(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		target string
		code   int
		want   []byte
		size   string
	}{
		{"/region/1/1/2/2", http.StatusOK, []byte{5, 6, 9, 10}, "2x2"},
		{"/region/0/0/4/1?bands=0", http.StatusOK, []byte{0, 1, 2, 3}, "4x1"},
		{"/region/0/0/4/4?out=2x2", http.StatusOK, []byte{5, 7, 13, 255}, "2x2"},
		{"/region/1/1/2/2?out=1x1&resampling=nearest", http.StatusOK, []byte{10}, "1x1"},
		{"/region/3/3/2/2", http.StatusBadRequest, nil, ""},
		{"/region/0/0/4/4?bands=1", http.StatusBadRequest, nil, ""},
		{"/region/0/0/4/4?out=9", http.StatusBadRequest, nil, ""},
		{"/region/0/0/4/4?resampling=lanczos", http.StatusBadRequest, nil, ""},
		{"/region/0/0/4/4?out=100x100", http.StatusRequestEntityTooLarge, nil, ""},
	}
	for _, tt := range tests {
		rec := get(t, s, http.MethodGet, tt.target, "")
		if rec.Code != tt.code {
			t.Fatalf("GET %s = %d, want %d: %s", tt.target, rec.Code, tt.code, rec.Body)
		}
		if tt.code != http.StatusOK {
			continue
		}
		if got := rec.Body.Bytes(); string(got) != string(tt.want) {
			t.Errorf("GET %s = %v, want %v", tt.target, got, tt.want)
		}
		h := rec.Header()
		if size := h.Get("X-Width") + "x" + h.Get("X-Height"); size != tt.size || h.Get("X-Data-Type") != "Byte" {
			t.Errorf("GET %s headers = %v", tt.target, h)
		}
	}
}

func TestRegionHandlerLimitsDecodedWindow(t *testing.T) {
	s := newTestServer(t)
	s.cfg.MaxRegionSamples = 8
	tests := []struct {
		target string
		code   int
	}{
		{"/region/0/0/2/2?out=1x1", http.StatusOK},
		{"/region/0/0/4/4?out=1x1", http.StatusRequestEntityTooLarge},
		{"/region/0/0/4/4?out=1x1&resampling=average", http.StatusRequestEntityTooLarge},
		{"/region/0/0/1/1?out=4x4", http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		if rec := get(t, s, http.MethodGet, tt.target, ""); rec.Code != tt.code {
			t.Errorf("GET %s = %d, want %d: %s", tt.target, rec.Code, tt.code, rec.Body)
		}
	}
}

func TestEvictedPageRefusesSamplers(t *testing.T) {
	s := newTestServer(t)
	p, err := s.catalog.Page(0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.sampler(0, raster.Nearest, nil); err != nil {
		t.Fatal(err)
	}
	// Opening page 1 evicts page 0 from the single slot catalog.
	if _, err := s.catalog.Page(1); err != nil {
		t.Fatal(err)
	}
	if !p.ds.Closed() {
		t.Fatal("page 0 is still open after eviction")
	}
	if _, err := p.sampler(0, raster.Bilinear, nil); !errors.Is(err, raster.ErrClosed) {
		t.Errorf("sampler on evicted page: err = %v, want %v", err, raster.ErrClosed)
	}
	if n := len(p.samplers); n != 0 {
		t.Errorf("evicted page tracks %d samplers", n)
	}
}

func TestSampleHandler(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		target string
		code   int
		value  float64
	}{
		{"/sample/1.5/2.5", http.StatusOK, 9},
		{"/sample/0/0", http.StatusOK, 0},
		{"/sample/1/1?interp=bilinear", http.StatusOK, 2.5},
		{"/sample/3.5/3.5", http.StatusNotFound, 0},
		{"/sample/10/1", http.StatusNotFound, 0},
		{"/sample/1/1?band=3", http.StatusBadRequest, 0},
		{"/sample/a/1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := get(t, s, http.MethodGet, tt.target, "")
		if rec.Code != tt.code {
			t.Fatalf("GET %s = %d, want %d: %s", tt.target, rec.Code, tt.code, rec.Body)
		}
		if tt.code != http.StatusOK {
			continue
		}
		var resp struct{ Value float64 }
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Value != tt.value {
			t.Errorf("GET %s = %g, want %g", tt.target, resp.Value, tt.value)
		}
	}
}

func TestProfileHandler(t *testing.T) {
	s := newTestServer(t)
	rec := get(t, s, http.MethodPost, "/profile", "[[0.5, 0.5], [3.5, 0.5], [3.5, 3.5]]")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /profile = %d: %s", rec.Code, rec.Body)
	}
	var profile [][3]float64
	if err := json.NewDecoder(rec.Body).Decode(&profile); err != nil {
		t.Fatal(err)
	}
	// The no-data pixel at (3, 3) is skipped.
	want := [][3]float64{{0, 0, 0}, {1, 0, 1}, {2, 0, 2}, {3, 0, 3}, {3, 1, 7}, {3, 2, 11}}
	if len(profile) != len(want) {
		t.Fatalf("profile = %v, want %v", profile, want)
	}
	for i := range want {
		if profile[i] != want[i] {
			t.Errorf("profile[%d] = %v, want %v", i, profile[i], want[i])
		}
	}

	if rec := get(t, s, http.MethodPost, "/profile", "{"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid body = %d", rec.Code)
	}
	if rec := get(t, s, http.MethodPost, "/profile", "[[0, 0], [9, 9]]"); rec.Code != http.StatusNotFound {
		t.Errorf("point outside image = %d", rec.Code)
	}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	st, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestGRPCMethods(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	info, err := s.Info(ctx, mustStruct(t, map[string]any{"page": 1}))
	if err != nil {
		t.Fatal(err)
	}
	if w := info.GetFields()["width"].GetNumberValue(); w != 2 {
		t.Errorf("Info width = %g", w)
	}

	sample, err := s.Sample(ctx, mustStruct(t, map[string]any{"x": 2.5, "y": 1.5}))
	if err != nil {
		t.Fatal(err)
	}
	if v := sample.GetFields()["value"].GetNumberValue(); v != 6 {
		t.Errorf("Sample value = %g, want 6", v)
	}

	profile, err := s.Profile(ctx, mustStruct(t, map[string]any{
		"points": []any{[]any{0.0, 0.0}, []any{0.0, 2.0}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(profile.GetFields()["points"].GetListValue().GetValues()); n != 3 {
		t.Errorf("Profile returned %d points, want 3", n)
	}

	errTests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"missing coordinate", func() error {
			_, err := s.Sample(ctx, mustStruct(t, map[string]any{"x": 1.0}))
			return err
		}, codes.InvalidArgument},
		{"no data", func() error {
			_, err := s.Sample(ctx, mustStruct(t, map[string]any{"x": 3.5, "y": 3.5}))
			return err
		}, codes.NotFound},
		{"fractional page", func() error {
			_, err := s.Info(ctx, mustStruct(t, map[string]any{"page": 0.5}))
			return err
		}, codes.InvalidArgument},
		{"missing page", func() error {
			_, err := s.Info(ctx, mustStruct(t, map[string]any{"page": 7}))
			return err
		}, codes.NotFound},
		{"single point profile", func() error {
			_, err := s.Profile(ctx, mustStruct(t, map[string]any{"points": []any{[]any{0.0, 0.0}}}))
			return err
		}, codes.InvalidArgument},
		{"unknown interpolation", func() error {
			_, err := s.Sample(ctx, mustStruct(t, map[string]any{"x": 1.0, "y": 1.0, "interp": "spline"}))
			return err
		}, codes.InvalidArgument},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			if code := status.Code(tt.call()); code != tt.code {
				t.Errorf("code = %v, want %v", code, tt.code)
			}
		})
	}
}

func TestCreateLogger(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "bogus": slog.LevelInfo,
	} {
		l := createLogger(Config{LogLevel: level}, appName)
		if !l.Enabled(context.Background(), want) || l.Enabled(context.Background(), want-1) {
			t.Errorf("createLogger(%q) does not log at %v", level, want)
		}
	}
}
