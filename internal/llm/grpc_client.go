package llm

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/resilience"
)

// GenerateMethod is the unary RPC a remote generator serves. Request and
// response are google.protobuf.Struct so no generated stubs are needed.
const GenerateMethod = "/valper.generation.v1.Generator/Generate"

const generatorService = "valper.generation.v1.Generator"

// GRPCConfig configures the remote generator connection
type GRPCConfig struct {
	Target      string
	TLS         bool
	Timeout     time.Duration // connection probe timeout
	DialOptions []grpc.DialOption
	Options
}

// GRPCGenerator calls a remote reply generator over gRPC
type GRPCGenerator struct {
	config GRPCConfig

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewGRPCGenerator creates a generator for cfg.Target. The connection is
// established by Init.
func NewGRPCGenerator(cfg GRPCConfig) *GRPCGenerator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &GRPCGenerator{config: cfg}
}

// Name implements Generator
func (g *GRPCGenerator) Name() string {
	return "grpc"
}

// Init connects and verifies the remote generator is serving
func (g *GRPCGenerator) Init(ctx context.Context) error {
	if g.config.Target == "" {
		return errors.New("GENERATOR_GRPC_URL not set")
	}

	var opts []grpc.DialOption

	// TLS configuration
	if g.config.TLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, g.config.DialOptions...)

	conn, err := grpc.NewClient(g.config.Target, opts...)
	if err != nil {
		return fmt.Errorf("failed to create generator client for %s: %w", g.config.Target, err)
	}

	g.mu.Lock()
	g.conn = conn
	g.health = healthpb.NewHealthClient(conn)
	g.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()
	if ok, err := g.HealthCheck(probeCtx); !ok {
		g.Close()
		return fmt.Errorf("generator at %s is not serving: %w", g.config.Target, err)
	}
	return nil
}

// Describe implements Generator
func (g *GRPCGenerator) Describe() health.Metadata {
	return health.Metadata{
		"service":     "gRPC generator",
		"endpoint":    g.config.Target,
		"model":       g.config.Model,
		"max_tokens":  g.config.MaxTokens,
		"temperature": g.config.Temperature,
		"tls":         g.config.TLS,
	}
}

// Generate implements Generator
func (g *GRPCGenerator) Generate(ctx context.Context, userText string, history History) (string, error) {
	g.mu.RLock()
	conn := g.conn
	g.mu.RUnlock()
	if conn == nil {
		return "", errors.New("generator not initialized")
	}

	turns := make([]any, 0, len(history))
	for _, m := range history {
		turns = append(turns, map[string]any{"role": string(m.Role), "content": m.Content})
	}
	req, err := structpb.NewStruct(map[string]any{
		"text":          userText,
		"history":       turns,
		"system_prompt": g.config.systemPrompt(),
		"model":         g.config.Model,
		"max_tokens":    g.config.MaxTokens,
		"temperature":   float64(g.config.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("failed to build generate request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, GenerateMethod, req, resp); err != nil {
		return "", classifyRPCError(err)
	}

	reply := strings.TrimSpace(resp.GetFields()["reply"].GetStringValue())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// HealthCheck asks the remote server whether the generator service is serving.
// Servers without the health service are assumed healthy once reachable.
func (g *GRPCGenerator) HealthCheck(ctx context.Context) (bool, error) {
	g.mu.RLock()
	client := g.health
	g.mu.RUnlock()
	if client == nil {
		return false, errors.New("generator client is not connected")
	}

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: generatorService})
	if err != nil {
		if status.Code(err) == codes.Unimplemented {
			return true, nil
		}
		return false, fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false, fmt.Errorf("health status %s", resp.GetStatus())
	}
	return true, nil
}

// Close closes the gRPC connection
func (g *GRPCGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	g.health = nil
	return err
}

func classifyRPCError(err error) error {
	wrapped := fmt.Errorf("generate rpc: %w", err)
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Unauthenticated, codes.PermissionDenied:
		return resilience.Unavailable(wrapped)
	}
	return wrapped
}
