// Package engine provides the execution-plan tree of playtree.
//
// # Overview
//
// Plays are deployable units: a named list of tasks applied to a set of
// hosts. Plays are composed into a tree whose interior nodes say how their
// children run relative to each other:
//
//   - Sequential: children run one after another, in declared order
//   - Parallel: children run concurrently
//   - Single: a leaf holding one lazily resolved play
//
// Leaves hold a PlayProvider rather than a Play. The provider is resolved
// at most once, the first time a walk reaches the leaf, and the outcome is
// cached on the leaf.
//
// # Building trees
//
//	root := engine.Sequential(
//	    engine.SinglePlay(base),
//	    engine.Parallel(engine.SinglePlay(web), engine.SinglePlay(db)),
//	)
//	root.PushLeaf(monitoringProvider)
//
// Push on a Single node promotes it in place to a Sequential holding the
// original leaf followed by the new child.
//
// # Naming
//
// Every leaf gets a positional name derived from a root name: each
// Sequential child appends "_s<i>", each Parallel child appends "_p<i>",
// and the leaf appends "_" plus its lower-cased play name with spaces
// replaced by underscores. With root name "demo" the tree above yields
// demo_s0_base, demo_s1_p0_web, demo_s1_p1_db and demo_s2_monitoring.
// Names are stable for a given tree shape and change when children are
// reordered.
//
// # Synthesis and deployment
//
// The Synthesizer writes one playbook and one inventory per leaf through an
// ArtifactWriter. The Deployer walks the tree again, synthesizing each leaf
// and invoking a Runner for it while holding one permit of a pool shared by
// the whole tree:
//
//	synth := engine.NewSynthesizer(writer)
//	d, err := engine.NewDeployer(synth, runner, engine.DeployOptions{MaxConcurrent: 4})
//	run, err := d.Deploy(ctx, root, "demo")
//
// Errors are *EngineError values classified as resolution, synthesis,
// execution or configuration failures and carry the name of the failing leaf.
package engine
