package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/eshop-product-service/internal/core/service"
)

const (
	productServiceName = "catalog.v1.ProductService"
	// ProductIDTrailer names the stored product when CreateProduct fails after the write.
	ProductIDTrailer = "product-id"
)

// ProductServiceServer is the gRPC surface of the catalog.
type ProductServiceServer interface {
	CreateProduct(ctx context.Context, req *service.CreateProduct) (*service.CreateProductResponse, error)
	GetProducts(ctx context.Context, req *service.GetProducts) (*service.GetProductsResponse, error)
	ModifyProductInventory(ctx context.Context, req *service.ModifyProductInventory) (*service.Empty, error)
}

type GRPCHandler struct {
	dispatcher *service.Dispatcher
	logger     *zap.Logger
}

var _ ProductServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(dispatcher *service.Dispatcher, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{dispatcher: dispatcher, logger: logger}
}

// NewGRPCServer returns a server that speaks JSON and has the catalog registered.
func NewGRPCServer(h *GRPCHandler, opts ...grpc.ServerOption) *grpc.Server {
	server := grpc.NewServer(append([]grpc.ServerOption{grpc.ForceServerCodec(JSONCodec{})}, opts...)...)
	RegisterProductServiceServer(server, h)
	return server
}

func (h *GRPCHandler) CreateProduct(ctx context.Context, req *service.CreateProduct) (*service.CreateProductResponse, error) {
	resp, err := h.dispatcher.CreateProduct().Handle(ctx, *req)
	if err != nil {
		if resp.ID != "" {
			if trailerErr := grpc.SetTrailer(ctx, metadata.Pairs(ProductIDTrailer, resp.ID)); trailerErr != nil {
				h.logger.Warn("failed to set trailer", zap.Error(trailerErr))
			}
		}
		return nil, h.statusError("CreateProduct", err)
	}
	return &resp, nil
}

func (h *GRPCHandler) GetProducts(ctx context.Context, req *service.GetProducts) (*service.GetProductsResponse, error) {
	resp, err := h.dispatcher.GetProducts().Handle(ctx, *req)
	if err != nil {
		return nil, h.statusError("GetProducts", err)
	}
	return &resp, nil
}

func (h *GRPCHandler) ModifyProductInventory(ctx context.Context, req *service.ModifyProductInventory) (*service.Empty, error) {
	resp, err := h.dispatcher.ModifyProductInventory().Handle(ctx, *req)
	if err != nil {
		return nil, h.statusError("ModifyProductInventory", err)
	}
	return &resp, nil
}

func (h *GRPCHandler) statusError(method string, err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		h.logger.Error("rpc failed", zap.String("method", method), zap.Error(err))
	}
	return status.Error(code, err.Error())
}

func RegisterProductServiceServer(s grpc.ServiceRegistrar, srv ProductServiceServer) {
	s.RegisterService(&productServiceDesc, srv)
}

var productServiceDesc = grpc.ServiceDesc{
	ServiceName: productServiceName,
	HandlerType: (*ProductServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateProduct",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(service.CreateProduct)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req any) (any, error) {
					return srv.(ProductServiceServer).CreateProduct(ctx, req.(*service.CreateProduct))
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + productServiceName + "/CreateProduct"}
				return interceptor(ctx, in, info, call)
			},
		},
		{
			MethodName: "GetProducts",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(service.GetProducts)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req any) (any, error) {
					return srv.(ProductServiceServer).GetProducts(ctx, req.(*service.GetProducts))
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + productServiceName + "/GetProducts"}
				return interceptor(ctx, in, info, call)
			},
		},
		{
			MethodName: "ModifyProductInventory",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(service.ModifyProductInventory)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req any) (any, error) {
					return srv.(ProductServiceServer).ModifyProductInventory(ctx, req.(*service.ModifyProductInventory))
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + productServiceName + "/ModifyProductInventory"}
				return interceptor(ctx, in, info, call)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "catalog/v1/product_service",
}
