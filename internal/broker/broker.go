// Package broker resolves message-broker command topics
// (commands/<path>/<verb>) to the node that should receive them and
// probes broker connectivity at startup. The broker wire protocol
// itself is an external collaborator outside this project's scope; this
// package only implements the parts that live on this side of the
// wire.
package broker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/commonplace-systems/commonplace/internal/fsreconciler"
)

// probeTimeout is the TCP connect budget for the broker connectivity
// check.
const probeTimeout = 5 * time.Second

// Broker is the command-injection surface this project talks to: it
// can probe connectivity and publish a command topic, independent of
// which message-broker wire protocol backs it.
type Broker interface {
	Probe(ctx context.Context, addr string) error
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TCPProbe checks broker reachability with a real TCP connect and
// nothing else: establishing the wire protocol's own handshake is out
// of scope, but knowing the host:port accepts connections is the
// startup gate spec requires.
type TCPProbe struct{}

// Probe dials addr with a 5-second timeout.
func (TCPProbe) Probe(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("broker: probe %s: %w", addr, err)
	}
	return conn.Close()
}

// Publish is a no-op default: without a concrete broker wire client
// wired in, the topic and payload are discarded: nothing is logged or
// transmitted. A real deployment
// swaps this for an MQTT (or other) client implementing Broker.
func (TCPProbe) Publish(_ context.Context, topic string, payload []byte) error {
	_ = topic
	_ = payload
	return nil
}

// CommandTopic is a parsed commands/<path>/<verb> topic.
type CommandTopic struct {
	Path string
	Verb string
}

// ParseCommandTopic splits a topic of the form "commands/<path>/<verb>"
// into its virtual-fs path and verb. The path may itself contain
// slashes; the verb is always the final segment.
func ParseCommandTopic(topic string) (CommandTopic, error) {
	const prefix = "commands/"
	if !strings.HasPrefix(topic, prefix) {
		return CommandTopic{}, fmt.Errorf("broker: topic %q missing commands/ prefix", topic)
	}
	rest := strings.TrimPrefix(topic, prefix)
	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return CommandTopic{}, fmt.Errorf("broker: topic %q missing a verb segment", topic)
	}
	return CommandTopic{Path: rest[:idx], Verb: rest[idx+1:]}, nil
}

// PathResolver resolves a command topic's virtual-fs path to the
// document id that owns it, using the same derivation the filesystem
// reconciler uses to create documents in the first place. The schema
// itself is not consulted: for a path whose entry carries an explicit
// node_id, Resolve still returns the derived id, not that node_id.
type PathResolver struct {
	reconciler *fsreconciler.Reconciler
}

// NewPathResolver creates a resolver bound to a reconciler's fs-root
// id.
func NewPathResolver(r *fsreconciler.Reconciler) *PathResolver {
	return &PathResolver{reconciler: r}
}

// Resolve returns the document id a virtual-fs path maps to.
func (p *PathResolver) Resolve(path string) string {
	return p.reconciler.FsRootID() + pathSuffix(path)
}

func pathSuffix(path string) string {
	if path == "" {
		return ""
	}
	return ":" + path
}
