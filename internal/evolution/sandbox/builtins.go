package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// builtinAssertTrue implements assert_true(cond, msg="").
func builtinAssertTrue(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cond starlark.Value
	var msg string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "cond", &cond, "msg?", &msg); err != nil {
		return nil, err
	}
	if !cond.Truth() {
		if msg == "" {
			msg = "expected truthy value, got " + cond.String()
		}
		return nil, errors.New(assertionPrefix + msg)
	}
	return starlark.None, nil
}

// builtinAssertEq implements assert_eq(actual, expected).
func builtinAssertEq(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var actual, expected starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "actual", &actual, "expected", &expected); err != nil {
		return nil, err
	}
	eq, err := starlark.Equal(actual, expected)
	if err != nil {
		return nil, fmt.Errorf("%scannot compare %s with %s: %v", assertionPrefix, actual.Type(), expected.Type(), err)
	}
	if !eq {
		return nil, fmt.Errorf("%sgot %s, want %s", assertionPrefix, actual.String(), expected.String())
	}
	return starlark.None, nil
}

// builtinAssertContains implements assert_contains(haystack, needle) for
// strings, lists and dicts (key membership).
func builtinAssertContains(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var haystack, needle starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "haystack", &haystack, "needle", &needle); err != nil {
		return nil, err
	}

	switch h := haystack.(type) {
	case starlark.String:
		n, ok := needle.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("%sneedle for a string haystack must be a string, got %s", assertionPrefix, needle.Type())
		}
		if !strings.Contains(string(h), string(n)) {
			return nil, fmt.Errorf("%s%s does not contain %s", assertionPrefix, haystack.String(), needle.String())
		}
	case *starlark.List:
		for i := 0; i < h.Len(); i++ {
			eq, err := starlark.Equal(h.Index(i), needle)
			if err == nil && eq {
				return starlark.None, nil
			}
		}
		return nil, fmt.Errorf("%slist does not contain %s", assertionPrefix, needle.String())
	case *starlark.Dict:
		if _, found, err := h.Get(needle); err == nil && found {
			return starlark.None, nil
		}
		return nil, fmt.Errorf("%sdict has no key %s", assertionPrefix, needle.String())
	default:
		return nil, fmt.Errorf("%sunsupported haystack type %s", assertionPrefix, haystack.Type())
	}
	return starlark.None, nil
}
