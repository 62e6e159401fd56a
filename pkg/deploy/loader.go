package deploy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/morezero/component-runtime/pkg/semver"
)

const logPrefix = "deploy:loader"

// ErrInvalid marks a deployment that parsed but does not make sense.
var ErrInvalid = errors.New("invalid deployment")

// Load reads the first deployment file found: the paths given, then
// DEPLOYMENT_FILE, then config/deployment.yaml and deployment.yaml. When no
// file exists the default deployment is returned.
func Load(paths ...string) (*Deployment, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("DEPLOYMENT_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/deployment.yaml", "deployment.yaml")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		d, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s - %s: %w", logPrefix, p, err)
		}
		slog.Info(fmt.Sprintf("%s - Loaded deployment %q from %s", logPrefix, d.Name, p))
		return d, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default deployment", logPrefix))
	return Default(), nil
}

// Parse decodes and validates a deployment. Unknown keys are rejected.
func Parse(data []byte) (*Deployment, error) {
	var d Deployment
	if err := yaml.UnmarshalWithOptions(data, &d, yaml.Strict()); err != nil {
		var syntaxErr *yaml.SyntaxError
		if errors.As(err, &syntaxErr) {
			if tok := syntaxErr.GetToken(); tok != nil {
				return nil, fmt.Errorf("line %d, column %d: %s", tok.Position.Line, tok.Position.Column, syntaxErr.GetMessage())
			}
		}
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Marshal renders a deployment as YAML.
func Marshal(d *Deployment) ([]byte, error) {
	return yaml.Marshal(d)
}

// Default hosts a counter and a watcher connected locally, with the
// counter also exposed over UDP.
func Default() *Deployment {
	return &Deployment{
		Name: "local",
		Components: []ComponentSpec{
			{Name: "counter", Type: TypeCounter, MailboxSize: 16},
			{Name: "watcher", Type: TypeWatcher, EventQueue: 16},
		},
		Servers: []ServerSpec{
			{Component: "counter", Interface: "Counter", Transport: TransportUDP, Address: "127.0.0.1:0"},
		},
		Connections: []ConnectionSpec{
			{Client: "watcher", Required: "Counter", Server: "counter", Provided: "Counter"},
		},
	}
}

// Validate checks names, types and cross references.
func (d *Deployment) Validate() error {
	names := make(map[string]bool)
	for _, c := range d.Components {
		if !semver.ValidateName(c.Name) {
			return fmt.Errorf("%w: component name %q", ErrInvalid, c.Name)
		}
		if names[c.Name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalid, c.Name)
		}
		switch c.Type {
		case TypeCounter, TypeWatcher:
		default:
			return fmt.Errorf("%w: component %q has unknown type %q", ErrInvalid, c.Name, c.Type)
		}
		if c.MailboxSize < 0 || c.EventQueue < 0 {
			return fmt.Errorf("%w: component %q has a negative queue size", ErrInvalid, c.Name)
		}
		names[c.Name] = true
	}

	for _, s := range d.Servers {
		if !names[s.Component] {
			return fmt.Errorf("%w: server for unknown component %q", ErrInvalid, s.Component)
		}
		if s.Interface == "" {
			return fmt.Errorf("%w: server for %q has no interface", ErrInvalid, s.Component)
		}
		if err := checkTransport(s.Transport); err != nil {
			return err
		}
		if s.Transport == TransportUDP && s.Address == "" {
			return fmt.Errorf("%w: udp server for %q needs an address", ErrInvalid, s.Component)
		}
	}

	for _, c := range d.Clients {
		if !semver.ValidateName(c.Name) {
			return fmt.Errorf("%w: client name %q", ErrInvalid, c.Name)
		}
		if names[c.Name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalid, c.Name)
		}
		if _, err := semver.ParseEndpointRef(c.Ref); err != nil {
			return fmt.Errorf("%w: client %q: %v", ErrInvalid, c.Name, err)
		}
		if c.Transport != "" {
			if err := checkTransport(c.Transport); err != nil {
				return err
			}
		}
		if c.Address != "" && c.Transport == "" {
			return fmt.Errorf("%w: client %q has an address but no transport", ErrInvalid, c.Name)
		}
		names[c.Name] = true
	}

	for _, conn := range d.Connections {
		if !names[conn.Client] || !names[conn.Server] {
			return fmt.Errorf("%w: connection %s.%s -> %s.%s names an unknown component",
				ErrInvalid, conn.Client, conn.Required, conn.Server, conn.Provided)
		}
		if conn.Required == "" || conn.Provided == "" {
			return fmt.Errorf("%w: connection %s -> %s needs both interface names", ErrInvalid, conn.Client, conn.Server)
		}
	}
	return nil
}

func checkTransport(t string) error {
	if t != TransportUDP && t != TransportNATS {
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, t)
	}
	return nil
}
