package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/akhenakh/tiffblock/codec"
	"github.com/akhenakh/tiffblock/raster"
)

// routes registers the REST endpoints on mux.
func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /info", s.infoHandler)
	mux.HandleFunc("GET /region/{x}/{y}/{w}/{h}", s.regionHandler)
	mux.HandleFunc("GET /sample/{x}/{y}", s.sampleHandler)
	mux.HandleFunc("POST /profile", s.profileHandler)
}

func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pageParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, p.ds.Info())
}

func (s *Server) regionHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pageParam(w, r)
	if !ok {
		return
	}
	var win raster.Window
	for _, f := range []struct {
		name string
		dst  *int
	}{{"x", &win.X}, {"y", &win.Y}, {"w", &win.Width}, {"h", &win.Height}} {
		v, err := strconv.Atoi(r.PathValue(f.name))
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid %s", f.name), http.StatusBadRequest)
			return
		}
		*f.dst = v
	}
	req := raster.ReadRequest{Window: win}

	q := r.URL.Query()
	if out := q.Get("out"); out != "" {
		ws, hs, found := strings.Cut(out, "x")
		bw, errW := strconv.Atoi(ws)
		bh, errH := strconv.Atoi(hs)
		if !found || errW != nil || errH != nil || bw <= 0 || bh <= 0 {
			http.Error(w, "Invalid out, expected WxH", http.StatusBadRequest)
			return
		}
		req.BufWidth, req.BufHeight = bw, bh
	}
	if bands := q.Get("bands"); bands != "" {
		for _, b := range strings.Split(bands, ",") {
			v, err := strconv.Atoi(b)
			if err != nil {
				http.Error(w, "Invalid bands", http.StatusBadRequest)
				return
			}
			req.Bands = append(req.Bands, v)
		}
	}
	resampling, err := raster.ParseResampling(q.Get("resampling"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Resampling = resampling

	outW, outH := win.Width, win.Height
	if req.BufWidth > 0 {
		outW, outH = req.BufWidth, req.BufHeight
	}
	nb := len(req.Bands)
	if nb == 0 {
		nb = p.ds.Bands()
	}
	// Resampled reads decode the whole window at full resolution first.
	pixels := max(int64(outW)*int64(outH), int64(win.Width)*int64(win.Height))
	if pixels*int64(nb) > s.cfg.MaxRegionSamples {
		http.Error(w, "Region too large", http.StatusRequestEntityTooLarge)
		return
	}

	data, err := p.ds.Read(r.Context(), req)
	if err != nil {
		httpError(w, s.logger, "Could not read region", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Data-Type", p.ds.DataType().String())
	w.Header().Set("X-Width", strconv.Itoa(outW))
	w.Header().Set("X-Height", strconv.Itoa(outH))
	w.Header().Set("X-Bands", strconv.Itoa(nb))
	w.Write(data)
}

func (s *Server) sampleHandler(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.ParseFloat(r.PathValue("x"), 64)
	y, errY := strconv.ParseFloat(r.PathValue("y"), 64)
	if errX != nil || errY != nil {
		http.Error(w, "Invalid coordinates", http.StatusBadRequest)
		return
	}
	smp, ok := s.samplerParam(w, r)
	if !ok {
		return
	}
	value, err := smp.At(x, y)
	if err != nil {
		httpError(w, s.logger, "Could not retrieve value", err)
		return
	}
	writeJSON(w, map[string]any{"x": x, "y": y, "value": value})
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	var points [][2]float64
	if err := json.NewDecoder(r.Body).Decode(&points); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	smp, ok := s.samplerParam(w, r)
	if !ok {
		return
	}
	profile, err := smp.Profile(points)
	if err != nil {
		httpError(w, s.logger, "Could not generate profile", err)
		return
	}
	writeJSON(w, profile)
}

// pageParam resolves the page query parameter, 0 by default.
func (s *Server) pageParam(w http.ResponseWriter, r *http.Request) (*page, bool) {
	n := 0
	if v := r.URL.Query().Get("page"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil {
			http.Error(w, "Invalid page", http.StatusBadRequest)
			return nil, false
		}
	}
	p, err := s.catalog.Page(n)
	if err != nil {
		httpError(w, s.logger, "Could not open page", err)
		return nil, false
	}
	return p, true
}

// samplerParam resolves the page, band and interp query parameters.
func (s *Server) samplerParam(w http.ResponseWriter, r *http.Request) (*raster.Sampler, bool) {
	p, ok := s.pageParam(w, r)
	if !ok {
		return nil, false
	}
	q := r.URL.Query()
	band := 0
	if v := q.Get("band"); v != "" {
		var err error
		if band, err = strconv.Atoi(v); err != nil {
			http.Error(w, "Invalid band", http.StatusBadRequest)
			return nil, false
		}
	}
	interp, err := raster.ParseResampling(q.Get("interp"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	smp, err := p.sampler(band, interp, s.catalog.samplerOpts)
	if err != nil {
		httpError(w, s.logger, "Could not create sampler", err)
		return nil, false
	}
	return smp, true
}

// httpStatus maps library errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, raster.ErrInvalidRequest), errors.Is(err, raster.ErrBufferTooSmall):
		return http.StatusBadRequest
	case errors.Is(err, raster.ErrOutsideImage), errors.Is(err, raster.ErrNoData), errors.Is(err, ErrPageNotFound):
		return http.StatusNotFound
	case errors.Is(err, codec.ErrUnsupported), errors.Is(err, raster.ErrUnsupportedLayout):
		return http.StatusNotImplemented
	case errors.Is(err, raster.ErrClosed):
		// The page was evicted while the request used it.
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func httpError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	}
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
