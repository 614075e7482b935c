package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/akhenakh/tiffblock/codec"
	"github.com/akhenakh/tiffblock/raster"
)

const rasterServiceName = "tiffblock.RasterService"

// RasterServiceServer is the gRPC raster API. Messages are
// google.protobuf.Struct so clients need no generated stubs.
type RasterServiceServer interface {
	Info(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sample(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Profile(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var rasterServiceDesc = grpc.ServiceDesc{
	ServiceName: rasterServiceName,
	HandlerType: (*RasterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Info", RasterServiceServer.Info),
		unaryMethod("Sample", RasterServiceServer.Sample),
		unaryMethod("Profile", RasterServiceServer.Profile),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tiffblock/raster.proto",
}

type structMethod func(RasterServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryMethod builds the handler a generated stub would contain.
func unaryMethod(name string, call structMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RasterServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + rasterServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RasterServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type Server struct {
	cfg          Config
	catalog      *Catalog
	logger       *slog.Logger
	healthServer *health.Server
}

func (s *Server) Info(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	n, err := intField(req, "page", 0)
	if err != nil {
		return nil, err
	}
	p, err := s.catalog.Page(n)
	if err != nil {
		return nil, grpcError("failed to open page", err)
	}
	// Round trip through JSON to reuse the field names of the REST API.
	b, err := json.Marshal(p.ds.Info())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode info: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode info: %v", err)
	}
	return toStruct(m)
}

func (s *Server) Sample(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	x, errX := floatField(req, "x")
	y, errY := floatField(req, "y")
	if err := errors.Join(errX, errY); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	smp, err := s.sampler(req)
	if err != nil {
		return nil, err
	}
	value, err := smp.At(x, y)
	if err != nil {
		return nil, grpcError("failed to retrieve value", err)
	}
	return toStruct(map[string]any{"x": x, "y": y, "value": value})
}

func (s *Server) Profile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	list := req.GetFields()["points"].GetListValue().GetValues()
	if len(list) < 2 {
		return nil, status.Error(codes.InvalidArgument, "at least two points are required for a profile")
	}
	points := make([][2]float64, len(list))
	for i, v := range list {
		xy := v.GetListValue().GetValues()
		if len(xy) != 2 {
			return nil, status.Errorf(codes.InvalidArgument, "point %d is not an [x, y] pair", i)
		}
		points[i] = [2]float64{xy[0].GetNumberValue(), xy[1].GetNumberValue()}
	}
	smp, err := s.sampler(req)
	if err != nil {
		return nil, err
	}
	profile, err := smp.Profile(points)
	if err != nil {
		return nil, grpcError("failed to generate profile", err)
	}
	out := make([]any, len(profile))
	for i, p := range profile {
		out[i] = []any{p[0], p[1], p[2]}
	}
	return toStruct(map[string]any{"points": out})
}

func (s *Server) sampler(req *structpb.Struct) (*raster.Sampler, error) {
	n, err := intField(req, "page", 0)
	if err != nil {
		return nil, err
	}
	band, err := intField(req, "band", 0)
	if err != nil {
		return nil, err
	}
	interp, err := raster.ParseResampling(req.GetFields()["interp"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	p, err := s.catalog.Page(n)
	if err != nil {
		return nil, grpcError("failed to open page", err)
	}
	smp, err := p.sampler(band, interp, s.catalog.samplerOpts)
	if err != nil {
		return nil, grpcError("failed to create sampler", err)
	}
	return smp, nil
}

func intField(req *structpb.Struct, name string, def int) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return def, nil
	}
	f := v.GetNumberValue()
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum || f != float64(int(f)) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int(f), nil
}

func floatField(req *structpb.Struct, name string) (float64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("missing %s", name)
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v.GetNumberValue(), nil
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return st, nil
}

// grpcError maps library errors to gRPC status codes.
func grpcError(msg string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, raster.ErrInvalidRequest), errors.Is(err, raster.ErrBufferTooSmall):
		code = codes.InvalidArgument
	case errors.Is(err, raster.ErrOutsideImage), errors.Is(err, raster.ErrNoData), errors.Is(err, ErrPageNotFound):
		code = codes.NotFound
	case errors.Is(err, codec.ErrUnsupported), errors.Is(err, raster.ErrUnsupportedLayout):
		code = codes.Unimplemented
	case errors.Is(err, raster.ErrClosed):
		code = codes.Unavailable
	}
	return status.Errorf(code, "%s: %v", msg, err)
}
