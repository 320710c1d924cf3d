// Package policy gates resolved plays through Open Policy Agent (OPA) Rego
// policies before their artifacts are written.
//
// Every policy is a Rego module defining a deny set. Each element of the set
// is either a string message or an object with "message" and an optional
// "severity". Violations of severity error or critical reject the play;
// info and warning violations are logged and the play is kept.
//
// # Usage
//
// Creating an engine with the built-in policies and loading custom ones:
//
//	eng, err := policy.NewEngine(log.Logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies"}); err != nil {
//	    return err
//	}
//
// The engine implements engine.PlayChecker and plugs into synthesis:
//
//	synth := engine.NewSynthesizer(writer, engine.WithPlayChecker(eng))
//
// # Input
//
// Policies see the leaf name and a summary of the resolved play:
//
//	{
//	  "leaf": "site_s0_web",
//	  "play": {
//	    "name": "web",
//	    "host_count": 2,
//	    "options": {"become": true},
//	    "tasks": [{"name": "install nginx", "module": "apt", "args": {...}, "options": {...}}]
//	  }
//	}
//
// Host names are not part of the input: host capabilities are only consulted
// while writing the playbook and the inventory.
//
// # Built-in Policies
//
//   - play-hosts: warns when a play targets no hosts
//   - task-names: warns about tasks without a name
//   - play-naming: rejects play names containing path separators
//
// # Writing Policies
//
//	package playtree.policies.shell
//
//	import rego.v1
//
//	# Forbid raw shell tasks.
//	# severity: error
//	deny contains msg if {
//	    some task in input.play.tasks
//	    task.module == "shell"
//	    msg := sprintf("task %s uses the shell module", [task.name])
//	}
//
// Files are named after the policy. Leading comments become the description
// and a "# severity:" comment sets the default severity, which is warning
// when absent.
package policy
