// Package config loads playtree projects.
//
// A project is described by a CUE file (playtree.cue by convention). The
// file is unified with an embedded #Project schema that supplies defaults
// and constraints, then decoded and checked with validator tags:
//
//	name: "site"
//	plan: "site.star"
//	deploy: max_concurrent: 2
//	hosts: web1: ansible_host: "10.0.0.1"
//
// The plan itself is a Starlark script building execution trees with the
// builtins host, task, play, sequential, parallel and register:
//
//	web = play("web", hosts=["web1", "registry:web2"], tasks=[
//	    task("install nginx", "apt", {"name": "nginx", "state": "present"}),
//	], become=True)
//	register("site", sequential(web, parallel(play("db", hosts=["plugin:db.wasm"]))))
//
// Plays built by scripts are lazy: host references are only resolved, through
// a HostResolver, when the deployer resolves the play.
package config
