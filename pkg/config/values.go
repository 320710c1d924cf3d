package config

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/playtree/pkg/engine"
	"github.com/openfroyo/playtree/pkg/inventory"
)

// hostValue is the Starlark value returned by host().
type hostValue struct {
	host inventory.StaticHost
}

var _ starlark.Value = (*hostValue)(nil)

func (h *hostValue) String() string        { return fmt.Sprintf("host(%q)", h.host.Name) }
func (h *hostValue) Type() string          { return "host" }
func (h *hostValue) Freeze()               {}
func (h *hostValue) Truth() starlark.Bool  { return starlark.True }
func (h *hostValue) Hash() (uint32, error) { return starlark.String(h.host.Name).Hash() }

// taskValue is the Starlark value returned by task().
type taskValue struct {
	task engine.Task
}

var _ starlark.Value = (*taskValue)(nil)

func (t *taskValue) String() string        { return fmt.Sprintf("task(%q, %q)", t.task.Name, t.task.Module) }
func (t *taskValue) Type() string          { return "task" }
func (t *taskValue) Freeze()               {}
func (t *taskValue) Truth() starlark.Bool  { return starlark.True }
func (t *taskValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: task") }

// nodeValue wraps a plan tree node. It exposes push(child) as a method.
type nodeValue struct {
	node   *engine.Node
	frozen bool
}

var (
	_ starlark.Value    = (*nodeValue)(nil)
	_ starlark.HasAttrs = (*nodeValue)(nil)
)

func (n *nodeValue) String() string {
	if leaf := n.node.Leaf(); leaf != nil {
		return fmt.Sprintf("play(%q)", leaf.Name())
	}
	return fmt.Sprintf("%s(%d)", n.node.Kind(), len(n.node.Children()))
}
func (n *nodeValue) Type() string          { return "node" }
func (n *nodeValue) Freeze()               { n.frozen = true }
func (n *nodeValue) Truth() starlark.Bool  { return starlark.True }
func (n *nodeValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: node") }

func (n *nodeValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "push":
		return starlark.NewBuiltin("push", n.push), nil
	case "kind":
		return starlark.String(n.node.Kind()), nil
	case "leaves":
		return starlark.MakeInt(n.node.LeafCount()), nil
	}
	return nil, nil
}

func (n *nodeValue) AttrNames() []string {
	return []string{"kind", "leaves", "push"}
}

func (n *nodeValue) push(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var child *nodeValue
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &child); err != nil {
		return nil, err
	}
	if n.frozen {
		return nil, fmt.Errorf("push: cannot modify a frozen node")
	}
	if reaches(child.node, n.node) {
		return nil, fmt.Errorf("push: node would contain itself")
	}
	n.node.Push(child.node)
	return n, nil
}

// reaches reports whether target is from or one of its descendants.
func reaches(from, target *engine.Node) bool {
	seen := make(map[*engine.Node]bool)
	var walk func(*engine.Node) bool
	walk = func(n *engine.Node) bool {
		if n == target {
			return true
		}
		if seen[n] {
			return false
		}
		seen[n] = true
		for _, c := range n.Children() {
			if walk(c) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// fromStarlarkValue converts a Starlark value to a Go value. Dicts and
// structs become ordered Params.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		params := engine.Params{}
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			params = append(params, engine.Param{Key: string(key), Value: value})
		}
		return params, nil
	case *starlarkstruct.Struct:
		params := engine.Params{}
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			params = append(params, engine.Param{Key: name, Value: value})
		}
		return params, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case engine.Params:
		dict := starlark.NewDict(len(val))
		for _, kv := range val {
			starlarkVal, err := toStarlarkValue(kv.Value)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(kv.Key), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// kwargsToParams converts keyword arguments, keeping call order.
func kwargsToParams(kwargs []starlark.Tuple) (engine.Params, error) {
	var params engine.Params
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		value, err := fromStarlarkValue(kv[1])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", key, err)
		}
		params = append(params, engine.Param{Key: key, Value: value})
	}
	return params, nil
}
