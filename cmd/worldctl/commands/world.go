package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zeusync/worldlink/pkg/component"
	"github.com/zeusync/worldlink/sdk/go/client"
)

func newSpawnCmd(g *globals) *cobra.Command {
	var (
		name     string
		position []float32
		shape    string
		color    []float32
		noWait   bool
	)
	cmd := &cobra.Command{
		Use:   "spawn [component-json...]",
		Short: "Spawn an entity",
		Long: `Spawn an entity from flags and JSON component documents, in that order.

Shapes: sphere:R, cube:H, cuboid:X,Y,Z, cylinder:R,H, capsule:R,L, cone:R,H, torus:MINOR,MAJOR.

Examples:
  worldctl spawn --name cube --shape cube:0.5 --color 1,0,0
  worldctl spawn '{"type":"Name","value":"scout"}' '{"type":"Velocity","linear":[1,0,0]}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var components []component.Component
			if name != "" {
				components = append(components, component.NewName(name))
			}
			if cmd.Flags().Changed("position") {
				v, err := vec3(position)
				if err != nil {
					return fmt.Errorf("--position: %w", err)
				}
				components = append(components, component.NewTransform3d(v))
			}
			if shape != "" {
				s, err := parseShape(shape)
				if err != nil {
					return fmt.Errorf("--shape: %w", err)
				}
				components = append(components, component.NewMesh3d(s))
			}
			if cmd.Flags().Changed("color") {
				c, err := rgba(color)
				if err != nil {
					return fmt.Errorf("--color: %w", err)
				}
				components = append(components, component.ColorMaterial(c))
			}
			extra, err := parseComponents(args)
			if err != nil {
				return err
			}
			components = append(components, extra...)

			return g.withWorld(cmd, func(ctx context.Context, w *client.World) error {
				if noWait {
					return w.SpawnNoWait(ctx, components...)
				}
				entity, err := w.Spawn(ctx, components, g.callOptions()...)
				if err != nil {
					return err
				}
				if g.json {
					return g.printJSON(cmd.OutOrStdout(), map[string]any{"entity": entity})
				}
				fmt.Fprintln(cmd.OutOrStdout(), entity)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name component")
	cmd.Flags().Float32SliceVar(&position, "position", nil, "Transform3d position x,y,z")
	cmd.Flags().StringVar(&shape, "shape", "", "Mesh3d shape, e.g. sphere:0.5")
	cmd.Flags().Float32SliceVar(&color, "color", nil, "Material color r,g,b[,a]")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "send without waiting for the authority")
	return cmd
}

type listedEntity struct {
	ID         client.EntityRef  `json:"id"`
	Name       string            `json:"name,omitempty"`
	Components []json.RawMessage `json:"components"`
}

func newListCmd(g *globals) *cobra.Command {
	var (
		prefix string
		with   []string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities in spawn order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := g.callOptions()
			if prefix != "" || len(with) > 0 {
				opts = append(opts, client.WithFilter(client.ListFilter{NamePrefix: prefix, With: with}))
			}
			return g.withWorld(cmd, func(ctx context.Context, w *client.World) error {
				entities, err := w.List(ctx, opts...)
				if err != nil {
					return err
				}
				return g.printEntities(cmd, entities)
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only entities whose name starts with this")
	cmd.Flags().StringSliceVar(&with, "with", nil, "only entities carrying these component kinds")
	return cmd
}

func (g *globals) printEntities(cmd *cobra.Command, entities []client.Entity) error {
	if g.json {
		out := make([]listedEntity, 0, len(entities))
		for _, e := range entities {
			le := listedEntity{ID: e.Ref, Name: e.Name, Components: make([]json.RawMessage, 0, len(e.Components))}
			for _, c := range e.Components {
				raw, err := componentJSON(c)
				if err != nil {
					return err
				}
				le.Components = append(le.Components, raw)
			}
			out = append(out, le)
		}
		return g.printJSON(cmd.OutOrStdout(), out)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOMPONENTS")
	for _, e := range entities {
		kinds := make([]string, 0, len(e.Components))
		for _, c := range e.Components {
			kinds = append(kinds, string(c.Kind()))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Ref, e.Name, strings.Join(kinds, ","))
	}
	return tw.Flush()
}

func newUpdateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "update <entity> <component-json>",
		Short:   "Replace the entity's component of the same kind",
		Example: `  worldctl update cube '{"type":"Transform3d","position":[2,0,0]}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := parseComponents(args[1:])
			if err != nil {
				return err
			}
			return g.withWorld(cmd, func(ctx context.Context, w *client.World) error {
				return w.Update(ctx, client.EntityRef(args[0]), components[0], g.callOptions()...)
			})
		},
	}
}

func newInsertCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <entity> <component-json>...",
		Short: "Add components to an entity",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := parseComponents(args[1:])
			if err != nil {
				return err
			}
			return g.withWorld(cmd, func(ctx context.Context, w *client.World) error {
				return w.Insert(ctx, client.EntityRef(args[0]), components, g.callOptions()...)
			})
		},
	}
}

func newRemoveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <entity>...",
		Aliases: []string{"despawn", "rm"},
		Short:   "Despawn entities by id or name",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withWorld(cmd, func(ctx context.Context, w *client.World) error {
				for _, ref := range args {
					if err := w.Remove(ctx, client.EntityRef(ref), g.callOptions()...); err != nil {
						return fmt.Errorf("remove %s: %w", ref, err)
					}
				}
				return nil
			})
		},
	}
}

func newRemoveComponentCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "remove-component <entity> <kind>...",
		Aliases: []string{"detach"},
		Short:   "Detach components by kind, keeping the entity",
		Example: `  worldctl remove-component cube Material Line3d`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity := client.EntityRef(args[0])
			return g.withWorld(cmd, func(ctx context.Context, w *client.World) error {
				for _, kind := range args[1:] {
					if err := w.RemoveComponent(ctx, entity, component.Kind(kind), g.callOptions()...); err != nil {
						return fmt.Errorf("remove %s from %s: %w", kind, entity, err)
					}
				}
				return nil
			})
		},
	}
}

func newClearCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Despawn every entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withWorld(cmd, func(ctx context.Context, w *client.World) error {
				removed, err := w.Clear(ctx, g.callOptions()...)
				if err != nil {
					return err
				}
				if g.json {
					return g.printJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d\n", removed)
				return nil
			})
		},
	}
}

func newApplyCmd(g *globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply <kind> [payload]",
		Short: "Send a raw command and print its result",
		Long: `Send a command of any kind with a YAML or JSON payload and print the result.

Examples:
  worldctl apply List '{}'
  worldctl apply Spawn -f spawn.yaml
  cat payload.json | worldctl apply Teleport -f -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				payload any
				err     error
			)
			switch {
			case file != "" && len(args) == 2:
				return fmt.Errorf("give the payload inline or with -f, not both")
			case file != "":
				payload, err = loadPayload(file, cmd.InOrStdin())
			case len(args) == 2:
				payload, err = parsePayload(args[1])
			}
			if err != nil {
				return err
			}
			return g.withWorld(cmd, func(ctx context.Context, w *client.World) error {
				reply, err := w.ApplyPayload(ctx, args[0], payload, g.callOptions()...)
				if err != nil {
					return err
				}
				var result any
				if err = w.DecodeReply(reply, &result); err != nil {
					return err
				}
				return g.printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from a YAML or JSON file, - for stdin")
	return cmd
}

func vec3(v []float32) (component.Vec3, error) {
	if len(v) != 3 {
		return component.Vec3{}, fmt.Errorf("want 3 values, got %d", len(v))
	}
	return component.Vec3{v[0], v[1], v[2]}, nil
}

func rgba(v []float32) (component.Color, error) {
	switch len(v) {
	case 3:
		return component.RGB(v[0], v[1], v[2]), nil
	case 4:
		return component.RGBA(v[0], v[1], v[2], v[3]), nil
	default:
		return component.Color{}, fmt.Errorf("want 3 or 4 values, got %d", len(v))
	}
}

func parseShape(s string) (component.Shape3d, error) {
	kind, params, _ := strings.Cut(s, ":")
	var values []float32
	if params != "" {
		for _, p := range strings.Split(params, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
			if err != nil {
				return component.Shape3d{}, fmt.Errorf("parameter %q: %w", p, err)
			}
			values = append(values, float32(f))
		}
	}
	want := func(n int) error {
		if len(values) != n {
			return fmt.Errorf("%s takes %d parameters, got %d", kind, n, len(values))
		}
		return nil
	}

	var shape component.Shape3d
	switch strings.ToLower(kind) {
	case "sphere":
		if err := want(1); err != nil {
			return shape, err
		}
		shape = component.Sphere(values[0])
	case "cube":
		if err := want(1); err != nil {
			return shape, err
		}
		shape = component.Cube(values[0])
	case "cuboid":
		if err := want(3); err != nil {
			return shape, err
		}
		shape = component.Cuboid(component.Vec3{values[0], values[1], values[2]})
	case "cylinder":
		if err := want(2); err != nil {
			return shape, err
		}
		shape = component.Cylinder(values[0], values[1])
	case "capsule":
		if err := want(2); err != nil {
			return shape, err
		}
		shape = component.Capsule(values[0], values[1])
	case "cone":
		if err := want(2); err != nil {
			return shape, err
		}
		shape = component.Cone(values[0], values[1])
	case "torus":
		if err := want(2); err != nil {
			return shape, err
		}
		shape = component.Torus(values[0], values[1])
	default:
		return shape, fmt.Errorf("unknown shape %q", kind)
	}
	return shape, shape.Validate()
}
