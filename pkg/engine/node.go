package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// NodeKind identifies the shape of a plan tree node.
type NodeKind string

const (
	// KindSequential runs children one after another in declared order.
	KindSequential NodeKind = "sequential"

	// KindParallel runs children concurrently.
	KindParallel NodeKind = "parallel"

	// KindSingle wraps one lazily resolved play.
	KindSingle NodeKind = "single"
)

// Validate checks if the node kind is valid.
func (k NodeKind) Validate() error {
	switch k {
	case KindSequential, KindParallel, KindSingle:
		return nil
	default:
		return fmt.Errorf("invalid node kind: %s", k)
	}
}

// Leaf holds a play provider and caches the outcome of resolving it.
// The provider is consulted at most once, however many walks visit the leaf.
type Leaf struct {
	provider PlayProvider

	once sync.Once
	done atomic.Bool
	play *Play
	err  error
}

// Name returns the provider name used to name the leaf.
func (l *Leaf) Name() string {
	return l.provider.Name()
}

// Provider returns the play provider of the leaf.
func (l *Leaf) Provider() PlayProvider {
	return l.provider
}

// Resolve returns the play, resolving the provider on first use.
// A failed resolution is cached and returned to every later caller. A
// provider that panics leaves the leaf failed for those callers.
func (l *Leaf) Resolve(ctx context.Context) (*Play, error) {
	l.once.Do(func() {
		defer l.done.Store(true)
		l.err = fmt.Errorf("provider %q panicked while resolving", l.provider.Name())

		play, err := l.provider.Resolve(ctx)
		if err == nil && play == nil {
			err = fmt.Errorf("provider %q returned no play", l.provider.Name())
		}
		l.play, l.err = play, err
	})
	return l.play, l.err
}

// Resolved reports whether the provider has already been consulted.
func (l *Leaf) Resolved() bool {
	return l.done.Load()
}

// Node is a node of the execution-plan tree.
//
// A Node is either a Sequential or Parallel composite holding ordered
// children, or a Single holding one Leaf. The zero value is not usable;
// build nodes with Sequential, Parallel, Single or SinglePlay.
type Node struct {
	kind     NodeKind
	children []*Node
	leaf     *Leaf
}

// Sequential creates a node that runs children in order. Nil children are skipped.
func Sequential(children ...*Node) *Node {
	return &Node{kind: KindSequential, children: compact(children)}
}

// Parallel creates a node that runs children concurrently. Nil children are skipped.
func Parallel(children ...*Node) *Node {
	return &Node{kind: KindParallel, children: compact(children)}
}

// Single creates a leaf node around a lazy play provider.
func Single(provider PlayProvider) *Node {
	return &Node{kind: KindSingle, leaf: &Leaf{provider: provider}}
}

// SinglePlay creates a leaf node around an already built play.
func SinglePlay(play *Play) *Node {
	return Single(StaticProvider(play))
}

func compact(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Kind returns the node kind.
func (n *Node) Kind() NodeKind {
	return n.kind
}

// Children returns the children of a composite node, nil for a Single.
func (n *Node) Children() []*Node {
	return n.children
}

// Leaf returns the leaf of a Single node, nil for composites.
func (n *Node) Leaf() *Leaf {
	return n.leaf
}

// Push appends child to the node.
//
// On a Sequential or Parallel node the child is appended in place. On a
// Single node the receiver is promoted in place to a Sequential whose first
// child is the original leaf (moved, not copied) and whose second child is
// child. Push never fails.
func (n *Node) Push(child *Node) {
	if child == nil {
		return
	}
	if n.kind == KindSingle {
		original := &Node{kind: KindSingle, leaf: n.leaf}
		n.kind = KindSequential
		n.leaf = nil
		n.children = []*Node{original, child}
		return
	}
	n.children = append(n.children, child)
}

// PushLeaf wraps provider in a Single node and pushes it.
func (n *Node) PushLeaf(provider PlayProvider) {
	n.Push(Single(provider))
}

// LeafCount returns the number of leaves under the node.
func (n *Node) LeafCount() int {
	if n.kind == KindSingle {
		return 1
	}
	count := 0
	for _, c := range n.children {
		count += c.LeafCount()
	}
	return count
}

// Visit calls fn for every node in depth-first declared order with the
// node's positional name and depth. Composite nodes carry the name prefix
// their children extend; leaves carry their full leaf name.
func (n *Node) Visit(rootName string, fn func(name string, depth int, node *Node) error) error {
	return n.visit(rootName, 0, fn)
}

func (n *Node) visit(name string, depth int, fn func(string, int, *Node) error) error {
	if n.kind == KindSingle {
		return fn(LeafName(name, n.leaf.Name()), depth, n)
	}
	if err := fn(name, depth, n); err != nil {
		return err
	}
	for i, c := range n.children {
		if err := c.visit(ChildName(name, n.kind, i), depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// Walk calls fn for every leaf with its hierarchical name, without resolving it.
func (n *Node) Walk(rootName string, fn func(name string, leaf *Leaf) error) error {
	return n.Visit(rootName, func(name string, _ int, node *Node) error {
		if node.kind != KindSingle {
			return nil
		}
		return fn(name, node.leaf)
	})
}

// LeafNames returns every leaf name in declared order.
func (n *Node) LeafNames(rootName string) []string {
	var names []string
	_ = n.Walk(rootName, func(name string, _ *Leaf) error {
		names = append(names, name)
		return nil
	})
	return names
}

// Resolve resolves every leaf in declared order and returns the first
// failure, attributed to its leaf.
func (n *Node) Resolve(ctx context.Context, rootName string) error {
	return n.Walk(rootName, func(name string, leaf *Leaf) error {
		if _, err := leaf.Resolve(ctx); err != nil {
			return NewResolutionError("failed to resolve play", err).
				WithLeaf(name).
				WithCode(ErrCodeResolveFailed)
		}
		return nil
	})
}
