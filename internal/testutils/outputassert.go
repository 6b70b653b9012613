package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// TestingT is the part of testing.T the asserters need.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// PresencePlaceholder in expected JSON matches any actual value.
const PresencePlaceholder = "<<PRESENCE>>"

// OutputOptions control how command output is normalized before comparison.
type OutputOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreExtraKeys          bool `default:"false"`
	EnableColors             bool `default:"false"`
}

// OutputOption is a functional option for OutputOptions.
type OutputOption func(*OutputOptions)

func WithTrimSpace(trim bool) OutputOption {
	return func(o *OutputOptions) { o.TrimSpace = trim }
}

func WithIgnoreTrailingWhitespace(ignore bool) OutputOption {
	return func(o *OutputOptions) { o.IgnoreTrailingWhitespace = ignore }
}

// WithIgnoreExtraKeys drops object keys missing from the expected JSON.
func WithIgnoreExtraKeys(ignore bool) OutputOption {
	return func(o *OutputOptions) { o.IgnoreExtraKeys = ignore }
}

func WithEnableColors(enable bool) OutputOption {
	return func(o *OutputOptions) { o.EnableColors = enable }
}

func outputOptions(opts []OutputOption) OutputOptions {
	var o OutputOptions
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AssertText compares command output line by line and reports a unified diff.
func AssertText(t TestingT, actual, expected string, opts ...OutputOption) bool {
	t.Helper()
	if diff := TextDiff(actual, expected, opts...); diff != "" {
		t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

// TextDiff returns the unified diff from expected to actual, empty when they match.
func TextDiff(actual, expected string, opts ...OutputOption) string {
	o := outputOptions(opts)
	actual, expected = normalizeText(actual, o), normalizeText(expected, o)
	if actual == expected {
		return ""
	}

	edits := myers.ComputeEdits("", expected, actual)
	diff := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", expected, edits))
	if !o.EnableColors {
		return diff
	}
	return colorizeDiff(diff)
}

func normalizeText(text string, o OutputOptions) string {
	if o.TrimSpace {
		text = strings.TrimSpace(text)
	}
	if !o.IgnoreTrailingWhitespace {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func colorizeDiff(diff string) string {
	paint := func(attr color.Attribute) *color.Color {
		c := color.New(attr)
		c.EnableColor()
		return c
	}
	red, green, cyan, yellow := paint(color.FgRed), paint(color.FgGreen), paint(color.FgCyan), paint(color.FgYellow)

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			lines[i] = yellow.Sprint(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}

// AssertJSON compares two JSON documents structurally.
func AssertJSON(t TestingT, actual, expected string, opts ...OutputOption) bool {
	t.Helper()
	if diff := JSONDiff(actual, expected, opts...); diff != "" {
		t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// JSONDiff returns a readable diff from expected to actual, empty when they match.
func JSONDiff(actual, expected string, opts ...OutputOption) string {
	o := outputOptions(opts)

	var exp, act interface{}
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, ok := exp.([]interface{}); ok {
		exp = map[string]interface{}{"array": exp}
		act = map[string]interface{}{"array": act}
	}

	acceptPresence(exp, act)
	if o.IgnoreExtraKeys {
		pruneExtraKeys(act, exp)
	}

	expBytes, _ := json.Marshal(exp)
	actBytes, _ := json.Marshal(act)
	diff, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(exp, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       o.EnableColors,
	})
	out, _ := f.Format(diff)
	return out
}

// acceptPresence replaces placeholders in expected with the actual values.
func acceptPresence(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			acceptPresence(v, act[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				acceptPresence(exp[i], act[i])
			}
		}
	}
}

func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}
