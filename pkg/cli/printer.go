package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/term"

	"github.com/withregard/regard-go/pkg/consent"
	"github.com/withregard/regard-go/pkg/event"
	"github.com/withregard/regard-go/pkg/input"
	"github.com/withregard/regard-go/pkg/tracker"
)

// ConsentAnswer is the user's reply to the consent prompt
type ConsentAnswer string

const (
	ConsentYes     ConsentAnswer = "yes"
	ConsentNo      ConsentAnswer = "no"
	ConsentSkipped ConsentAnswer = "skipped"
)

type Printer struct {
	out io.Writer

	bold   func(format string, a ...any) string
	green  func(format string, a ...any) string
	yellow func(format string, a ...any) string
	red    func(format string, a ...any) string
}

// NewPrinter writes to out, with colors only when out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	return newPrinter(out, isTerminal(out))
}

func newPrinter(out io.Writer, colors bool) *Printer {
	style := func(attrs ...color.Attribute) func(string, ...any) string {
		c := color.New(attrs...)
		if colors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintfFunc()
	}

	return &Printer{
		out:    out,
		bold:   style(color.Bold),
		green:  style(color.FgGreen),
		yellow: style(color.FgYellow),
		red:    style(color.FgRed),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) {
	p.Printf("%s %s\n", p.red("error:"), err)
}

// PrintConsent prints the consent state after a change
func (p *Printer) PrintConsent(state consent.State, changed bool) {
	if !changed {
		p.Printf("Consent unchanged: %s\n", p.consentLabel(state))
		return
	}
	p.Printf("Consent is now %s\n", p.consentLabel(state))
}

// PrintTracked confirms a recorded event with its properties in the order
// they were given.
func (p *Printer) PrintTracked(name string, props *orderedmap.OrderedMap[string, any]) {
	p.Printf("Tracked %s%s\n", p.bold("%s", name), formatArguments(props))
}

// PrintStatus prints a tracker summary
func (p *Printer) PrintStatus(stats tracker.Stats, endpoint string) {
	p.Printf("%s %s\n", p.bold("Tracker:"), stats.Key)
	if endpoint != "" {
		p.Printf("%s %s\n", p.bold("Endpoint:"), endpoint)
	}
	if !stats.Enabled {
		p.Printf("%s %s\n", p.bold("Tracking:"), p.red("disabled"))
	}
	p.Printf("%s %s\n", p.bold("Consent:"), p.consentLabel(stats.Consent))
	p.Printf("%s %d\n", p.bold("Pending events:"), stats.Pending)
	p.Printf("%s %s\n", p.bold("Last freeze:"), formatTime(stats.LastFreeze))
	p.Printf("%s %s\n", p.bold("Last flush:"), formatTime(stats.LastFlush))
	if stats.LastError != "" {
		p.Printf("%s %s\n", p.bold("Last error:"), p.red("%s", stats.LastError))
	}
}

// PrintEvents prints received events, one per line
func (p *Printer) PrintEvents(key event.Key, events []event.Event) {
	for _, e := range events {
		p.Printf("%s %s %s%s\n", e.Timestamp, p.bold("%s", key), e.Name, formatProperties(e.Properties))
	}
}

// PromptConsent asks whether usage data may be collected. When stdin is a
// terminal a single key press answers; otherwise a line is read from rd.
func (p *Printer) PromptConsent(ctx context.Context, product string, rd io.Reader) ConsentAnswer {
	p.Printf("%s ", p.bold("Share anonymous usage data with %s? (y/n):", product))

	if f, ok := rd.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		if answer, ok := p.readKey(int(f.Fd()), f); ok {
			return answer
		}
	}

	line, err := input.ReadLine(ctx, rd)
	if err != nil {
		p.Println()
		return ConsentSkipped
	}
	return parseAnswer(line)
}

func (p *Printer) readKey(fd int, f *os.File) (ConsentAnswer, bool) {
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", false
	}
	defer func() {
		if err := term.Restore(fd, oldState); err != nil {
			p.Printf("\nFailed to restore terminal state: %v\n", err)
		}
	}()

	buf := make([]byte, 1)
	for {
		if _, err := f.Read(buf); err != nil {
			return ConsentSkipped, true
		}
		switch buf[0] {
		case 'y', 'Y':
			p.Printf("%s\r\n", p.green("yes"))
			return ConsentYes, true
		case 'n', 'N':
			p.Printf("%s\r\n", p.yellow("no"))
			return ConsentNo, true
		case 3, 27: // Ctrl+C, Esc
			p.Printf("\r\n")
			return ConsentSkipped, true
		}
	}
}

func parseAnswer(line string) ConsentAnswer {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return ConsentYes
	case "n", "no":
		return ConsentNo
	default:
		return ConsentSkipped
	}
}

func (p *Printer) consentLabel(state consent.State) string {
	switch state {
	case consent.OptedIn:
		return p.green("%s", state)
	case consent.OptedOut:
		return p.yellow("%s", state)
	default:
		return state.String()
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func formatArguments(props *orderedmap.OrderedMap[string, any]) string {
	if props == nil || props.Len() == 0 {
		return ""
	}

	parts := make([]string, 0, props.Len())
	for key, value := range props.FromOldest() {
		parts = append(parts, fmt.Sprintf("%s: %s", key, formatAny(value)))
	}
	return fmt.Sprintf(" (%s)", strings.Join(parts, ", "))
}

func formatProperties(props event.Properties) string {
	if len(props) == 0 {
		return ""
	}
	return " " + formatValue(event.Map(props))
}

func formatValue(v event.Value) string {
	switch v.Kind() {
	case event.KindMap:
		props := v.Props()
		parts := make([]string, 0, len(props))
		for _, key := range props.Keys() {
			parts = append(parts, fmt.Sprintf("%s: %s", key, formatValue(props[key])))
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return formatAny(v.Any())
	}
}

func formatAny(v any) string {
	switch v := v.(type) {
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
