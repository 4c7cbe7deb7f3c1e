package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oauthfed/cfg"
	"oauthfed/internal/admin"
	"oauthfed/internal/federation"
	"oauthfed/internal/session"
	"oauthfed/internal/storage"
	"oauthfed/pkg/cache"
	"oauthfed/pkg/db"
	"oauthfed/pkg/idgen"
	"oauthfed/pkg/logger"
	"oauthfed/pkg/oauth2"

	_ "oauthfed/cmd/oauthfed/docs" // swagger docs

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// @title           OAuth Federation API
// @version         1.0
// @description     Sign in with external OAuth 2.0 providers and link identities to local accounts.
// @BasePath        /
// @schemes         http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// ============
	// config
	// ============
	config, errCfg := cfg.Load()
	if errCfg != nil {
		log.Fatal(errCfg)
	}

	// ============
	// logger
	// ============
	zlogger := logger.NewZeroLog(config.AppEnv)

	// ============
	// Otel
	// ============
	if config.Observability.OTLPEndpoint != "" {
		shutdownOtel, err := initOtel(context.Background(), &config.Observability, zlogger)
		if err != nil {
			zlogger.Warn("failed to initialize OpenTelemetry, continuing without tracing/metrics", logger.Err(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownOtel(ctx); err != nil {
					zlogger.Error("failed to shutdown OpenTelemetry", logger.Err(err))
				}
			}()
		}
	}

	// ============
	// DB
	// ============
	if err := db.Migrate(config.Database.Path); err != nil {
		log.Fatal(err)
	}
	sqlClient, err := db.NewSQLiteClient(config.Database.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer sqlClient.Close()

	// ============
	// Cache
	// ============
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr(),
		Password: config.Redis.Password,
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to reach redis at %s: %v", config.Redis.Addr(), err)
	}
	sessionCache := cache.NewRedisCacheFromClient(rdb)

	// ============
	// ID generator
	// ============
	ids, err := idgen.NewSnowflakeGenerator(config.SnowflakeNodeID)
	if err != nil {
		log.Fatal(err)
	}

	// ============
	// Internal Service
	// ============
	httpClient := &http.Client{Timeout: config.OAuth.HTTPTimeout + time.Second}
	providerClient := oauth2.NewClient(httpClient, config.OAuth.HTTPTimeout)

	accounts := storage.NewAccountRepository(sqlClient)
	settings := storage.NewProviderSettingRepository(sqlClient)
	sessions := session.NewManager(sessionCache, config.Session.TTL, config.Session.CookieSecure, zlogger)

	federationSvc := federation.NewService(
		federation.NewResolver(settings),
		providerClient,
		federation.NewLinker(accounts, ids),
		accounts,
		zlogger,
	)
	federationHandler := federation.NewHandler(federationSvc, sessions, federation.RedirectConfig{
		LoginPath:      config.OAuth.LoginPath,
		DashboardPath:  config.OAuth.DashboardPath,
		PublicBaseURL:  config.OAuth.PublicBaseURL,
		TrustedProxies: config.OAuth.TrustedProxies,
	}, zlogger)
	if config.OAuth.PublicBaseURL == "" && config.AppEnv == "production" {
		zlogger.Warn("PUBLIC_BASE_URL is empty, callback URLs are derived from the request Host header")
	}

	adminSvc := admin.NewService(settings, admin.NewOIDCDiscoverer(httpClient, config.OAuth.HTTPTimeout), zlogger)
	adminHandler := admin.NewHandler(adminSvc, config.AdminAPIToken, zlogger)
	if config.AdminAPIToken == "" {
		zlogger.Warn("ADMIN_API_TOKEN is empty, admin API rejects every request")
	}

	// ============
	// HTTP
	// ============
	if config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	proxies := make([]string, 0, len(config.OAuth.TrustedProxies))
	for _, p := range config.OAuth.TrustedProxies {
		proxies = append(proxies, p.String())
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		log.Fatal(err)
	}
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(config.Observability.ServiceName))
	r.Use(TraceLoggerMiddleware(zlogger))

	federationHandler.RegisterRoutes(r)
	adminHandler.RegisterRoutes(r)
	r.GET("/healthz", healthHandler(sqlClient, rdb))
	initSwagger(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.AppPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlogger.Info("server listening", logger.Field{Key: "addr", Value: srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlogger.Error("server shutdown failed", logger.Err(err))
	}
}

func healthHandler(sqlClient *db.SQLClient, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"db": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := sqlClient.Ping(ctx); err != nil {
			status["db"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

func initSwagger(r *gin.Engine) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		html := `<!DOCTYPE html>
<html>
<head>
    <title>API Documentation</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
    <script id="api-reference" data-url="/swagger/doc.json"></script>
    <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`
		c.String(http.StatusOK, html)
	})
}

// TraceLoggerMiddleware logs each request with the trace and span ids set by otelgin.
func TraceLoggerMiddleware(log logger.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			{Key: "method", Value: c.Request.Method},
			{Key: "path", Value: c.FullPath()},
			{Key: "status", Value: c.Writer.Status()},
			{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
		}
		if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
			fields = append(fields,
				logger.Field{Key: "trace_id", Value: sc.TraceID().String()},
				logger.Field{Key: "span_id", Value: sc.SpanID().String()},
			)
		}
		log.Info("request completed", fields...)
	}
}

// initOtel initializes OpenTelemetry tracer and meter with OTLP exporter
func initOtel(ctx context.Context, config *cfg.ObservabilityConfig, log logger.Client) (func(context.Context) error, error) {
	conn, err := grpc.NewClient(
		config.OTLPEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter)),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	log.Info("OpenTelemetry initialized - sending to OTLP collector",
		logger.Field{Key: "otlp_endpoint", Value: config.OTLPEndpoint},
	)

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			conn.Close(),
		)
	}
	return shutdown, nil
}
