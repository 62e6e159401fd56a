package deploy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loaderTestPrefix = "deploy:loader_test"

const sample = `
name: demo
components:
  - name: counter
    type: counter
    mailboxSize: 8
  - name: watcher
    type: watcher
servers:
  - component: counter
    interface: Counter
    transport: udp
    address: 127.0.0.1:7401
clients:
  - name: remote
    ref: counter.Counter@1
    transport: nats
connections:
  - client: watcher
    required: Counter
    server: remote
    provided: Counter
`

func TestParse_Sample(t *testing.T) {
	d, err := Parse([]byte(sample))
	require.NoError(t, err, "%s - parse", loaderTestPrefix)

	assert.Equal(t, "demo", d.Name)
	require.Len(t, d.Components, 2)
	assert.Equal(t, ComponentSpec{Name: "counter", Type: TypeCounter, MailboxSize: 8}, d.Components[0])
	require.Len(t, d.Servers, 1)
	assert.Equal(t, "127.0.0.1:7401", d.Servers[0].Address)
	require.Len(t, d.Clients, 1)
	assert.Equal(t, "counter.Counter@1", d.Clients[0].Ref)
	assert.True(t, d.HasTransport(TransportNATS))
	assert.True(t, d.HasTransport(TransportUDP))
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte("name: x\ncomponentz: []\n"))
	assert.Error(t, err, "%s - strict decoding", loaderTestPrefix)
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse([]byte("name: [unterminated\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		d    Deployment
	}{
		{"unknown type", Deployment{Components: []ComponentSpec{{Name: "a", Type: "robot"}}}},
		{"bad name", Deployment{Components: []ComponentSpec{{Name: "1a", Type: TypeCounter}}}},
		{"duplicate", Deployment{Components: []ComponentSpec{{Name: "a", Type: TypeCounter}, {Name: "a", Type: TypeWatcher}}}},
		{"negative mailbox", Deployment{Components: []ComponentSpec{{Name: "a", Type: TypeCounter, MailboxSize: -1}}}},
		{"server unknown component", Deployment{Servers: []ServerSpec{{Component: "a", Interface: "Counter", Transport: TransportUDP, Address: "x"}}}},
		{"server bad transport", Deployment{
			Components: []ComponentSpec{{Name: "a", Type: TypeCounter}},
			Servers:    []ServerSpec{{Component: "a", Interface: "Counter", Transport: "tcp"}},
		}},
		{"udp server without address", Deployment{
			Components: []ComponentSpec{{Name: "a", Type: TypeCounter}},
			Servers:    []ServerSpec{{Component: "a", Interface: "Counter", Transport: TransportUDP}},
		}},
		{"client bad ref", Deployment{Clients: []ClientSpec{{Name: "c", Ref: "nodot"}}}},
		{"client address without transport", Deployment{Clients: []ClientSpec{{Name: "c", Ref: "a.B", Address: "x"}}}},
		{"client clashes with component", Deployment{
			Components: []ComponentSpec{{Name: "a", Type: TypeCounter}},
			Clients:    []ClientSpec{{Name: "a", Ref: "a.B"}},
		}},
		{"connection unknown", Deployment{Connections: []ConnectionSpec{{Client: "x", Required: "R", Server: "y", Provided: "P"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			assert.True(t, errors.Is(err, ErrInvalid), "%s - %s: got %v", loaderTestPrefix, tt.name, err)
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	d := Default()
	require.NoError(t, d.Validate())
	assert.False(t, d.HasTransport(TransportNATS))

	data, err := Marshal(d)
	require.NoError(t, err)
	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestLoad_PathOrder(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "explicit.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("name: explicit\n"), 0o644))
	fromEnv := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(fromEnv, []byte("name: env\n"), 0o644))
	t.Setenv("DEPLOYMENT_FILE", fromEnv)

	d, err := Load(explicit)
	require.NoError(t, err)
	assert.Equal(t, "explicit", d.Name)

	d, err = Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env", d.Name, "%s - falls back to DEPLOYMENT_FILE", loaderTestPrefix)
}

func TestLoad_InvalidFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\ncomponents:\n  - name: a\n    type: robot\n"), 0o644))
	t.Setenv("DEPLOYMENT_FILE", "")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}
