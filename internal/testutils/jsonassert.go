//go:build test

package testutils

import (
	"encoding/json"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

type JSONOptions struct {
	// IgnoreExtraKeys drops object keys absent from the expected document.
	IgnoreExtraKeys  bool `default:"true"`
	IgnoreArrayOrder bool `default:"false"`
}

type JSONOption func(*JSONOptions)

func StrictKeys() JSONOption { return func(o *JSONOptions) { o.IgnoreExtraKeys = false } }

func IgnoreArrayOrder() JSONOption { return func(o *JSONOptions) { o.IgnoreArrayOrder = true } }

// AssertJSON compares two JSON documents structurally and reports the
// difference in the ascii diff format of gojsondiff.
func AssertJSON(t TestingT, actual, expected string, opts ...JSONOption) bool {
	t.Helper()
	var o JSONOptions
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}

	var want, got any
	if err := json.Unmarshal([]byte(expected), &want); err != nil {
		t.Errorf("invalid expected JSON: %v", err)
		return false
	}
	if err := json.Unmarshal([]byte(actual), &got); err != nil {
		t.Errorf("invalid actual JSON: %v\n%s", err, actual)
		return false
	}
	// gojsondiff compares objects only
	want = map[string]any{"root": want}
	got = map[string]any{"root": got}

	if o.IgnoreExtraKeys {
		pruneKeys(got, want)
	}
	if o.IgnoreArrayOrder {
		sortArrays(want)
		sortArrays(got)
	}

	wantBytes, _ := json.Marshal(want)
	gotBytes, _ := json.Marshal(got)
	diff, err := gojsondiff.New().Compare(wantBytes, gotBytes)
	if err != nil {
		t.Errorf("JSON comparison failed: %v", err)
		return false
	}
	if !diff.Modified() {
		return true
	}
	text, _ := formatter.NewAsciiFormatter(want, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	t.Errorf("JSON mismatch:\n%s", text)
	return false
}

func pruneKeys(actual, expected any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
				continue
			}
			pruneKeys(act[k], exp[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range min(len(act), len(exp)) {
			pruneKeys(act[i], exp[i])
		}
	}
}

func sortArrays(v any) {
	switch x := v.(type) {
	case map[string]any:
		for _, child := range x {
			sortArrays(child)
		}
	case []any:
		for _, child := range x {
			sortArrays(child)
		}
		sort.SliceStable(x, func(i, j int) bool {
			a, _ := json.Marshal(x[i])
			b, _ := json.Marshal(x[j])
			return string(a) < string(b)
		})
	}
}
