package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultTestImage = "nats:2.11.7-alpine"

// TestServer is a NATS server running in a container plus a client
// connected to it. Both are torn down by t.Cleanup.
type TestServer struct {
	Client *Client
	URL    string
}

type testServerConfig struct {
	image     string
	jetstream bool
	buckets   []string
	timeout   time.Duration
}

// TestServerOption configures StartTestServer.
type TestServerOption func(*testServerConfig)

// WithJetStream starts the server with JetStream, which KV buckets need.
func WithJetStream() TestServerOption {
	return func(c *testServerConfig) { c.jetstream = true }
}

// WithBuckets enables JetStream and creates the named KV buckets up front.
func WithBuckets(names ...string) TestServerOption {
	return func(c *testServerConfig) {
		c.jetstream = true
		c.buckets = append(c.buckets, names...)
	}
}

func WithImage(image string) TestServerOption {
	return func(c *testServerConfig) { c.image = image }
}

// StartTestServer starts a NATS container and connects a Client to it.
// Docker must be available; the test fails otherwise.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()

	cfg := testServerConfig{image: defaultTestImage, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	container, err := startContainer(ctx, cfg)
	if err != nil {
		t.Fatalf("start NATS container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := containerURL(ctx, container)
	if err != nil {
		t.Fatalf("resolve NATS address: %v", err)
	}

	client, err := NewClient(url, WithTimeout(cfg.timeout), WithMaxReconnects(0))
	if err != nil {
		t.Fatalf("create NATS client: %v", err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	for _, name := range cfg.buckets {
		if _, err := client.EnsureBucket(ctx, jetstream.KeyValueConfig{Bucket: name}); err != nil {
			t.Fatalf("create KV bucket %s: %v", name, err)
		}
	}
	return &TestServer{Client: client, URL: url}
}

func startContainer(ctx context.Context, cfg testServerConfig) (testcontainers.Container, error) {
	cmd := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		cmd = append(cmd, "--js")
	}
	return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        cfg.image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          cmd,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
			),
		},
		Started: true,
	})
}

func containerURL(ctx context.Context, container testcontainers.Container) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}

// KVStore creates bucket with a short history and wraps it.
func (ts *TestServer) KVStore(ctx context.Context, bucket string, opts ...KVOption) (*KVStore, error) {
	kv, err := ts.Client.EnsureBucket(ctx, jetstream.KeyValueConfig{Bucket: bucket, History: 5})
	if err != nil {
		return nil, err
	}
	return ts.Client.NewKVStore(kv, opts...), nil
}
