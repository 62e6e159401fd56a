package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/component-runtime/internal/config"
	"github.com/morezero/component-runtime/pkg/catalog"
	"github.com/morezero/component-runtime/pkg/command"
	"github.com/morezero/component-runtime/pkg/commsutil"
	"github.com/morezero/component-runtime/pkg/deploy"
	"github.com/morezero/component-runtime/pkg/dispatcher"
)

const serverTestPrefix = "server:server_test"

// mockCatalog implements catalogForServer for handler tests.
type mockCatalog struct {
	health  *catalog.HealthOutput
	list    []catalog.Endpoint
	listErr error
	lastIn  *catalog.ListInput
}

func (m *mockCatalog) Health(context.Context) *catalog.HealthOutput {
	if m.health != nil {
		h := *m.health
		return &h
	}
	return &catalog.HealthOutput{Status: "unhealthy", Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func (m *mockCatalog) List(_ context.Context, input *catalog.ListInput) ([]catalog.Endpoint, error) {
	m.lastIn = input
	return m.list, m.listErr
}

type mockLinks map[string]bool

func (m mockLinks) ClientStatus() map[string]bool { return m }

func testServer(t *testing.T, cat catalogForServer, links linkStatus) *Server {
	t.Helper()
	cfg := &config.Config{HealthCheckTimeout: 5 * time.Second}
	return &Server{cfg: cfg, catalog: cat, links: links}
}

func healthyOutput() *catalog.HealthOutput {
	return &catalog.HealthOutput{Status: "healthy", Checks: catalog.HealthChecks{Store: true}, Endpoints: 1, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func sampleEndpoint() catalog.Endpoint {
	return catalog.Endpoint{
		ID:       "e1",
		Key:      catalog.Key{Component: "counter", Interface: "Counter", Transport: catalog.TransportUDP, Address: "127.0.0.1:7401"},
		Version:  "1.0.0",
		Status:   catalog.StatusActive,
		Healthy:  true,
		Commands: []string{"GetValue", "SetValue"},
	}
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		health     *catalog.HealthOutput
		links      mockLinks
		wantCode   int
		wantStatus string
	}{
		{"healthy", healthyOutput(), mockLinks{"remote": true}, http.StatusOK, "healthy"},
		{"inactive link", healthyOutput(), mockLinks{"remote": false}, http.StatusOK, "degraded"},
		{"store down", nil, nil, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(t, &mockCatalog{health: tt.health}, tt.links)
			rec := serve(s.handleHealth(), http.MethodGet, "/health")
			assert.Equal(t, tt.wantCode, rec.Code, "%s - status code", serverTestPrefix)

			var out map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
			assert.Equal(t, tt.wantStatus, out["status"])
			if tt.links != nil {
				assert.Contains(t, out, "clients", "%s - clients reported", serverTestPrefix)
			} else {
				assert.NotContains(t, out, "clients")
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	s := testServer(t, &mockCatalog{}, nil)
	rec := serve(s.routes(), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "ready", out["status"])
}

func TestEndpointsHandler(t *testing.T) {
	cat := &mockCatalog{list: []catalog.Endpoint{sampleEndpoint()}}
	s := testServer(t, cat, nil)

	rec := serve(s.handleEndpoints(), http.MethodGet, "/endpoints?component=counter&transport=udp")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "counter", cat.lastIn.Component, "%s - query filters passed through", serverTestPrefix)
	assert.Equal(t, "udp", cat.lastIn.Transport)

	var out struct {
		Endpoints []catalog.Endpoint `json:"endpoints"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out.Endpoints, 1)
	assert.Equal(t, "127.0.0.1:7401", out.Endpoints[0].Address)
}

func TestEndpointsHandler_EmptyAndErrors(t *testing.T) {
	s := testServer(t, &mockCatalog{}, nil)
	rec := serve(s.handleEndpoints(), http.MethodGet, "/endpoints")
	assert.JSONEq(t, `{"endpoints":[]}`, rec.Body.String(), "%s - empty list is an array", serverTestPrefix)

	rec = serve(s.handleEndpoints(), http.MethodPost, "/endpoints")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET", rec.Header().Get("Allow"))

	s = testServer(t, &mockCatalog{listErr: catalog.NewCatalogError(catalog.CodeInternal, "boom")}, nil)
	rec = serve(s.handleEndpoints(), http.MethodGet, "/endpoints")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestHandleHome(t *testing.T) {
	s := testServer(t, &mockCatalog{health: healthyOutput(), list: []catalog.Endpoint{sampleEndpoint()}}, mockLinks{"remote-counter": false})
	rec := serve(s.handleHome(), http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	for _, want := range []string{"healthy", "127.0.0.1:7401", "GetValue, SetValue", "remote-counter", "inactive"} {
		assert.Contains(t, body, want, "%s - home page shows %q", serverTestPrefix, want)
	}
}

func TestHandleHome_ListError(t *testing.T) {
	s := testServer(t, &mockCatalog{health: healthyOutput(), listErr: errors.New("store offline")}, nil)
	rec := serve(s.handleHome(), http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "Could not load catalog"), "%s - body shows the list error", serverTestPrefix)
	assert.Contains(t, body, "No client proxies")
}

func TestHandleHome_OnlyRoot(t *testing.T) {
	s := testServer(t, &mockCatalog{}, nil)
	rec := serve(s.handleHome(), http.MethodGet, "/other")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =========================================================================
// RUNTIME
// =========================================================================

func testConfig() *config.Config {
	return &config.Config{
		PacketSize:         1024,
		CallTimeout:        2 * time.Second,
		PollInterval:       time.Millisecond,
		InitTimeout:        time.Second,
		HealthCheckTimeout: time.Second,
	}
}

func startRuntime(t *testing.T, dep *deploy.Deployment, cat EndpointCatalog, nc *comms.Conn) *Runtime {
	t.Helper()
	rt, err := NewRuntime(testConfig(), dep, cat, nc)
	require.NoError(t, err, "%s - NewRuntime", serverTestPrefix)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		_ = rt.Stop(context.Background())
		cancel()
	})
	require.NoError(t, rt.Start(ctx), "%s - Start", serverTestPrefix)
	return rt
}

func startBroker(t *testing.T) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err, "%s - failed to create server", serverTestPrefix)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second), "%s - server failed to start", serverTestPrefix)
	nc, err := commsutil.Connect(ns.ClientURL(), "server-test")
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestRuntime_LocalDeployment(t *testing.T) {
	cat := catalog.NewCatalog(catalog.NewCatalogParams{})
	rt := startRuntime(t, deploy.Default(), cat, nil)

	list, err := cat.List(context.Background(), &catalog.ListInput{})
	require.NoError(t, err)
	require.Len(t, list, 1, "%s - counter registered once", serverTestPrefix)
	assert.NotEqual(t, "127.0.0.1:0", list[0].Address, "%s - bound address recorded", serverTestPrefix)
	assert.Contains(t, list[0].Commands, "SetValue")
	assert.Contains(t, list[0].Events, "ValueChanged")

	w, ok := rt.Watcher("watcher")
	require.True(t, ok)
	c, ok := rt.Counter("counter")
	require.True(t, ok)

	assert.Equal(t, command.Succeeded, w.SetValue.ExecuteBlocking(7))
	assert.Equal(t, 7, c.Value())
	assert.Eventually(t, func() bool {
		v := w.Values()
		return len(v) == 1 && v[0] == 7
	}, 2*time.Second, 5*time.Millisecond, "%s - event delivered locally", serverTestPrefix)
	assert.Empty(t, rt.ClientStatus())
}

// Two runtimes sharing a catalog: the second reaches the first's counter
// through a UDP client proxy resolved by reference.
func TestRuntime_RemoteUDPClient(t *testing.T) {
	cat := catalog.NewCatalog(catalog.NewCatalogParams{})
	host := startRuntime(t, &deploy.Deployment{
		Name:       "host",
		Components: []deploy.ComponentSpec{{Name: "counter", Type: deploy.TypeCounter, MailboxSize: 8}},
		Servers:    []deploy.ServerSpec{{Component: "counter", Interface: "Counter", Transport: deploy.TransportUDP, Address: "127.0.0.1:0"}},
	}, cat, nil)

	remote := startRuntime(t, &deploy.Deployment{
		Name:        "remote",
		Components:  []deploy.ComponentSpec{{Name: "watcher", Type: deploy.TypeWatcher}},
		Clients:     []deploy.ClientSpec{{Name: "remote-counter", Ref: "counter.Counter@1", Transport: deploy.TransportUDP}},
		Connections: []deploy.ConnectionSpec{{Client: "watcher", Required: "Counter", Server: "remote-counter", Provided: "Counter"}},
	}, cat, nil)

	c, _ := host.Counter("counter")
	w, _ := remote.Watcher("watcher")

	assert.Equal(t, command.Succeeded, w.SetValue.ExecuteBlocking(42), "%s - remote blocking write", serverTestPrefix)
	assert.Equal(t, 42, c.Value())
	v, res := w.Get()
	assert.Equal(t, command.Succeeded, res)
	assert.Equal(t, 42, v)
	assert.Eventually(t, func() bool {
		for _, got := range w.Values() {
			if got == 42 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "%s - event crossed the proxy", serverTestPrefix)
	assert.Equal(t, map[string]bool{"remote-counter": true}, remote.ClientStatus())
}

func TestRuntime_NATSServerAndClient(t *testing.T) {
	nc := startBroker(t)
	cat := catalog.NewCatalog(catalog.NewCatalogParams{})
	rt := startRuntime(t, &deploy.Deployment{
		Name: "nats",
		Components: []deploy.ComponentSpec{
			{Name: "counter", Type: deploy.TypeCounter, MailboxSize: 8},
			{Name: "watcher", Type: deploy.TypeWatcher, EventQueue: 8},
		},
		Servers:     []deploy.ServerSpec{{Component: "counter", Interface: "Counter", Transport: deploy.TransportNATS}},
		Clients:     []deploy.ClientSpec{{Name: "remote-counter", Ref: "counter.Counter", Transport: deploy.TransportNATS}},
		Connections: []deploy.ConnectionSpec{{Client: "watcher", Required: "Counter", Server: "remote-counter", Provided: "Counter"}},
	}, cat, nc)

	e, err := cat.Resolve(context.Background(), &catalog.ResolveInput{Ref: "counter.Counter", Transport: catalog.TransportNATS})
	require.NoError(t, err)
	assert.Equal(t, commsutil.BuildInterfaceSubject("counter", "Counter", 1), e.Address, "%s - default subject", serverTestPrefix)

	w, _ := rt.Watcher("watcher")
	c, _ := rt.Counter("counter")
	var sum int
	assert.Equal(t, command.Succeeded, w.Add.Execute(5, &sum))
	assert.Equal(t, 5, sum)
	assert.Equal(t, 5, c.Value())
}

func TestRuntime_StopUnregisters(t *testing.T) {
	cat := catalog.NewCatalog(catalog.NewCatalogParams{})
	rt, err := NewRuntime(testConfig(), deploy.Default(), cat, nil)
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	require.NoError(t, rt.Stop(context.Background()))

	list, err := cat.List(context.Background(), &catalog.ListInput{})
	require.NoError(t, err)
	assert.Empty(t, list, "%s - endpoints removed on stop", serverTestPrefix)
}

func TestNewRuntime_Errors(t *testing.T) {
	cat := catalog.NewCatalog(catalog.NewCatalogParams{})

	natsDep := &deploy.Deployment{
		Name:       "n",
		Components: []deploy.ComponentSpec{{Name: "counter", Type: deploy.TypeCounter}},
		Servers:    []deploy.ServerSpec{{Component: "counter", Interface: "Counter", Transport: deploy.TransportNATS}},
	}
	_, err := NewRuntime(testConfig(), natsDep, cat, nil)
	assert.ErrorIs(t, err, ErrNoComms)

	bad := &deploy.Deployment{Name: "b", Components: []deploy.ComponentSpec{{Name: "x", Type: "clock"}}}
	_, err = NewRuntime(testConfig(), bad, cat, nil)
	assert.ErrorIs(t, err, deploy.ErrInvalid)
}

func TestRuntime_UnresolvableClient(t *testing.T) {
	cat := catalog.NewCatalog(catalog.NewCatalogParams{})
	rt, err := NewRuntime(testConfig(), &deploy.Deployment{
		Name:    "orphan",
		Clients: []deploy.ClientSpec{{Name: "remote-counter", Ref: "counter.Counter", Transport: deploy.TransportUDP}},
	}, cat, nil)
	require.NoError(t, err)
	err = rt.Start(context.Background())
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })

	var ce *catalog.CatalogError
	require.True(t, errors.As(err, &ce), "%s - resolve failure surfaces the catalog error", serverTestPrefix)
	assert.Equal(t, catalog.CodeNotFound, ce.Code)
}

// A process without a local catalog registers and resolves through the
// catalog another process serves over COMMS.
func TestRuntime_RemoteCatalog(t *testing.T) {
	nc := startBroker(t)
	hostCat := catalog.NewCatalog(catalog.NewCatalogParams{Process: "host"})
	sub, err := dispatcher.NewDispatcher(hostCat).Serve(context.Background(), nc, "test.catalog", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	remoteCat := dispatcher.NewRemoteCatalog(nc, "test.catalog", time.Second)
	host := startRuntime(t, &deploy.Deployment{
		Name:       "host",
		Components: []deploy.ComponentSpec{{Name: "counter", Type: deploy.TypeCounter, MailboxSize: 8}},
		Servers:    []deploy.ServerSpec{{Component: "counter", Interface: "Counter", Transport: deploy.TransportUDP, Address: "127.0.0.1:0"}},
	}, remoteCat, nil)

	list, err := hostCat.List(context.Background(), &catalog.ListInput{})
	require.NoError(t, err)
	require.Len(t, list, 1, "%s - registered through the remote catalog", serverTestPrefix)
	assert.Equal(t, remoteCat.Process(), list[0].Process)

	client := startRuntime(t, &deploy.Deployment{
		Name:        "client",
		Components:  []deploy.ComponentSpec{{Name: "watcher", Type: deploy.TypeWatcher}},
		Clients:     []deploy.ClientSpec{{Name: "remote-counter", Ref: "counter.Counter"}},
		Connections: []deploy.ConnectionSpec{{Client: "watcher", Required: "Counter", Server: "remote-counter", Provided: "Counter"}},
	}, dispatcher.NewRemoteCatalog(nc, "test.catalog", time.Second), nil)

	w, _ := client.Watcher("watcher")
	c, _ := host.Counter("counter")
	var v int
	assert.Equal(t, command.Succeeded, w.Increment.Execute(&v))
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, c.Value())

	require.NoError(t, host.Stop(context.Background()))
	list, err = hostCat.List(context.Background(), &catalog.ListInput{})
	require.NoError(t, err)
	assert.Empty(t, list, "%s - unregistered through the remote catalog", serverTestPrefix)
}

func TestServe_StopsOnCancel(t *testing.T) {
	nc := startBroker(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "deployment.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`name: serve-test
components:
  - name: counter
    type: counter
    mailboxSize: 4
servers:
  - component: counter
    interface: Counter
    transport: nats
`), 0o644))

	cfg := testConfig()
	cfg.COMMSURL = nc.ConnectedUrl()
	cfg.COMMSName = "serve-test"
	cfg.DeploymentFile = file
	cfg.CatalogStore = config.CatalogMemory
	cfg.CatalogSubject = "serve.test.catalog"
	cfg.CatalogServe = true
	cfg.CatalogTimeout = time.Second
	cfg.HTTPAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg) }()

	remote := dispatcher.NewRemoteCatalog(nc, cfg.CatalogSubject, time.Second)
	assert.Eventually(t, func() bool {
		e, err := remote.Resolve(context.Background(), &catalog.ResolveInput{Ref: "counter.Counter"})
		return err == nil && e.Transport == catalog.TransportNATS
	}, 5*time.Second, 20*time.Millisecond, "%s - served catalog lists the nats endpoint", serverTestPrefix)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - Serve did not return after cancel", serverTestPrefix)
	}
}
