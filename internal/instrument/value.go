package instrument

import (
	"fmt"

	lua "github.com/Shopify/go-lua"
)

// pushGoValue mirrors a Go value onto the Lua stack. Unsupported types
// degrade to their string form rather than failing the hook call.
func pushGoValue(l *lua.State, v any) {
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(x)
	case int:
		l.PushInteger(x)
	case int64:
		l.PushNumber(float64(x))
	case float64:
		l.PushNumber(x)
	case string:
		l.PushString(x)
	case map[string]any:
		l.CreateTable(0, len(x))
		for k, val := range x {
			pushGoValue(l, val)
			l.SetField(-2, k)
		}
	case []any:
		l.CreateTable(len(x), 0)
		for i, val := range x {
			pushGoValue(l, val)
			l.RawSetInt(-2, i+1)
		}
	default:
		l.PushString(fmt.Sprint(x))
	}
}

// toGoValue converts the Lua value at index into a Go value. Tables
// with a sequence part become slices, everything else becomes a map.
func toGoValue(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return nil
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return n
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeTable:
		return tableToGo(l, index)
	default:
		return lua.TypeNameOf(l, index)
	}
}

func tableToGo(l *lua.State, index int) any {
	abs := l.AbsIndex(index)

	if n := l.RawLength(abs); n > 0 {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			l.RawGetInt(abs, i)
			out = append(out, toGoValue(l, -1))
			l.Pop(1)
		}
		return out
	}

	out := make(map[string]any)
	l.PushNil()
	for l.Next(abs) {
		// Converting a non-string key in place would break Next.
		var key string
		switch l.TypeOf(-2) {
		case lua.TypeString:
			key, _ = l.ToString(-2)
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			key = fmt.Sprintf("%v", n)
		default:
			l.Pop(1)
			continue
		}
		out[key] = toGoValue(l, -1)
		l.Pop(1)
	}
	return out
}
