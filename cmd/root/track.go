package root

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/withregard/regard-go/pkg/cli"
	"github.com/withregard/regard-go/pkg/consent"
	"github.com/withregard/regard-go/pkg/tracker"
	"github.com/withregard/regard-go/pkg/userconfig"
)

type trackFlags struct {
	flush bool
	raw   bool
}

func newTrackCmd(root *rootFlags) *cobra.Command {
	var flags trackFlags

	cmd := &cobra.Command{
		Use:   "track <event> [key=value ...]",
		Short: "Record an event",
		Long: `Record an event with optional properties.

Values are read as booleans or numbers when they look like one, use --raw to
keep every value a string. Dotted keys build nested properties.`,
		Example: `  regard track login
  regard track purchase amount=9.99 --raw
  regard track checkout cart.items=2 cart.coupon=SPRING`,
		GroupID: "tracking",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runTrack(cmd, args[0], args[1:], &flags)
		},
	}

	cmd.Flags().BoolVar(&flags.flush, "flush", false, "Send pending events right away")
	cmd.Flags().BoolVar(&flags.raw, "raw", false, "Keep every property value a string")

	return cmd
}

func (f *rootFlags) runTrack(cmd *cobra.Command, name string, args []string, flags *trackFlags) error {
	if name == "" {
		return errors.New("event name cannot be empty")
	}
	ordered, props, err := parseProperties(args, !flags.raw)
	if err != nil {
		return err
	}

	return f.withTracker(cmd, func(ctx context.Context, t *tracker.Tracker, cfg *userconfig.Config, out *cli.Printer) error {
		if !cfg.IsEnabled() {
			out.Println("Tracking is disabled, nothing recorded")
			return nil
		}
		if state := t.Consent(); state != consent.OptedIn {
			out.Printf("Not recorded: consent is %s, run `regard opt-in` first\n", state)
			return nil
		}

		t.Track(name, props)
		out.PrintTracked(name, ordered)

		if flags.flush {
			return t.Flush(ctx)
		}
		return nil
	})
}

// parseProperties turns key=value arguments into event properties. The
// ordered map keeps the arguments as typed for echoing them back.
func parseProperties(args []string, infer bool) (*orderedmap.OrderedMap[string, any], map[string]any, error) {
	ordered := orderedmap.New[string, any]()
	props := map[string]any{}

	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("invalid property %q: expected key=value", arg)
		}
		var value any = raw
		if infer {
			value = inferValue(raw)
		}
		if _, present := ordered.Get(key); present {
			return nil, nil, fmt.Errorf("property %q given twice", key)
		}
		if err := setPath(props, strings.Split(key, "."), value); err != nil {
			return nil, nil, fmt.Errorf("invalid property %q: %w", arg, err)
		}
		ordered.Set(key, value)
	}

	return ordered, props, nil
}

func inferValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) && !strings.ContainsAny(raw, "xXpP_") {
		return n
	}
	return raw
}

func setPath(props map[string]any, path []string, value any) error {
	for i, part := range path {
		if part == "" {
			return errors.New("empty key segment")
		}
		if i == len(path)-1 {
			if _, exists := props[part]; exists {
				return fmt.Errorf("%q is already set", strings.Join(path[:i+1], "."))
			}
			props[part] = value
			return nil
		}

		switch next := props[part].(type) {
		case nil:
			child := map[string]any{}
			props[part] = child
			props = child
		case map[string]any:
			props = next
		default:
			return fmt.Errorf("%q is not an object", strings.Join(path[:i+1], "."))
		}
	}
	return nil
}
