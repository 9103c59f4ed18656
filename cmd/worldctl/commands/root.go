// Package commands implements the worldctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/worldlink/internal/injector"
	"github.com/zeusync/worldlink/pkg/codec"
	"github.com/zeusync/worldlink/pkg/component"
	"github.com/zeusync/worldlink/sdk/go/client"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	opts    injector.Options
	timeout time.Duration
	json    bool
}

// New returns a fresh worldctl command tree.
func New() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "worldctl",
		Short: "Drive a remote world over udp, tcp, websocket or quic",
		Long: `Drive a remote world over udp, tcp, websocket or quic.

Entities are addressed by their id or by their Name component.

Examples:
  worldctl serve
  worldctl spawn --name cube --position 0,1,0 --shape cube:0.5
  worldctl -e tcp://127.0.0.1:7401 list --json
  worldctl update cube '{"type":"Transform3d","position":[2,0,0]}'
  worldctl remove-component cube Material
  worldctl remove cube`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.opts.ConfigPath, "config", "c", "", "YAML configuration file")
	pf.StringVarP(&g.opts.Endpoint, "endpoint", "e", "", "authority endpoint, mode://host:port[/path]")
	pf.StringVar(&g.opts.Codec, "codec", "", "wire codec: json or msgpack")
	pf.StringVar(&g.opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.DurationVarP(&g.timeout, "timeout", "t", 0, "reply timeout per call (default from config)")
	pf.BoolVar(&g.json, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(g),
		newSpawnCmd(g),
		newListCmd(g),
		newUpdateCmd(g),
		newInsertCmd(g),
		newRemoveCmd(g),
		newRemoveComponentCmd(g),
		newClearCmd(g),
		newApplyCmd(g),
	)
	return root
}

// withWorld dials the authority, runs fn and closes the World.
func (g *globals) withWorld(cmd *cobra.Command, fn func(ctx context.Context, w *client.World) error) error {
	ctx := cmd.Context()
	w, cleanup, err := injector.InitializeWorld(ctx, g.opts)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, w)
}

func (g *globals) callOptions() []client.CallOption {
	if g.timeout == 0 {
		return nil
	}
	return []client.CallOption{client.WithTimeout(g.timeout)}
}

func (g *globals) printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseComponents decodes each argument as one JSON component document.
func parseComponents(args []string) ([]component.Component, error) {
	components := make([]component.Component, 0, len(args))
	for i, arg := range args {
		c, err := component.Decode(codec.JSON, []byte(arg))
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i+1, err)
		}
		components = append(components, c)
	}
	return components, nil
}

// componentJSON renders a component as its JSON wire document.
func componentJSON(c component.Component) (json.RawMessage, error) {
	raw, err := component.Encode(codec.JSON, c)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// loadPayload reads a YAML or JSON document from path, "-" meaning stdin.
func loadPayload(path string, stdin io.Reader) (any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return parsePayload(string(data))
}

// parsePayload accepts YAML, which covers JSON.
func parsePayload(doc string) (any, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(doc), &v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return v, nil
}
