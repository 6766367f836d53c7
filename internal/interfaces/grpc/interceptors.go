package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// KeyLimiter is a per-key token bucket pool.
type KeyLimiter interface {
	Allow(key string) bool
}

// InterceptorChain 拦截器链
type InterceptorChain struct {
	log     logger.Logger
	limiter KeyLimiter
}

// NewInterceptorChain 创建拦截器链. limiter may be nil to disable the per-peer limit.
func NewInterceptorChain(log logger.Logger, limiter KeyLimiter) *InterceptorChain {
	return &InterceptorChain{
		log:     log.WithComponent("grpc"),
		limiter: limiter,
	}
}

// UnaryRecoveryInterceptor 恢复拦截器(捕获 panic)
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Error(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor 日志拦截器
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()
		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				statusCode = st.Code()
			}
		}

		ic.log.Debug(ctx, "gRPC request completed",
			logger.String("method", info.FullMethod),
			logger.String("client_ip", clientAddress(ctx)),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
		)
		return resp, err
	}
}

// UnaryRateLimitInterceptor 限流拦截器, keyed by the forwarded client address or the peer.
func (ic *InterceptorChain) UnaryRateLimitInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if ic.limiter == nil {
			return handler(ctx, req)
		}
		identifier := clientAddress(ctx)
		if !ic.limiter.Allow(identifier) {
			ic.log.Warn(ctx, "rate limit exceeded",
				logger.String("identifier", identifier),
				logger.String("method", info.FullMethod),
			)
			return nil, status.Error(grpcCodes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// UnaryErrorInterceptor 错误转换拦截器(将领域错误转换为 gRPC 状态码)
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		return resp, convertDomainErrorToGRPC(err)
	}
}

// convertDomainErrorToGRPC 将领域错误转换为 gRPC 错误
func convertDomainErrorToGRPC(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	tsaErr, ok := errors.AsTSAError(err)
	if !ok {
		return status.Error(grpcCodes.Internal, "internal server error")
	}

	switch tsaErr.HTTPStatus() {
	case 404:
		return status.Error(grpcCodes.NotFound, tsaErr.Description())
	case 400:
		return status.Error(grpcCodes.InvalidArgument, tsaErr.Description())
	case 401:
		return status.Error(grpcCodes.Unauthenticated, tsaErr.Description())
	case 403:
		return status.Error(grpcCodes.PermissionDenied, tsaErr.Description())
	case 429:
		return status.Error(grpcCodes.ResourceExhausted, tsaErr.Description())
	case 503:
		return status.Error(grpcCodes.Unavailable, tsaErr.Description())
	default:
		return status.Error(grpcCodes.Internal, "internal server error")
	}
}

// ChainUnaryInterceptors 链式调用所有拦截器
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(),  // 1. 恢复 panic
		ic.UnaryLoggingInterceptor(),   // 2. 日志
		ic.UnaryRateLimitInterceptor(), // 3. 限流
		ic.UnaryErrorInterceptor(),     // 4. 错误转换
	)
}

func clientAddress(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ips := md.Get("x-forwarded-for"); len(ips) > 0 {
			return ips[0]
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}
