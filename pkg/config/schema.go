package config

// projectSchema defines the project file layout and its defaults.
const projectSchema = `
#Project: {
	name: string & !=""
	plan: string & !="" | *"plan.star"

	output: {
		playbooks:   string & !="" | *"out/playbooks"
		inventories: string & !="" | *"out/inventories"
	}

	deploy: {
		max_concurrent: int & >=1 | *4
		command:        string & !="" | *"ansible-playbook"
		synth_only:     bool | *false
	}

	remote?: {
		host:                     string & !=""
		port:                     int & >0 & <65536 | *22
		user:                     string & !="" | *"root"
		key_path?:                string
		password?:                string
		known_hosts?:             string
		strict_host_key_checking: bool | *true
		workdir:                  string & =~"^/" | *"/tmp/playtree"
	}

	store: {
		path: string & !="" | *".playtree/playtree.db"
	}

	policies: [...string] | *[]

	hosts: [string]: {...}

	telemetry: {
		log_level:     "debug" | "info" | "warn" | "error" | *"info"
		log_format:    "console" | "json" | *"console"
		metrics_addr:  string | *""
		tracing:       "none" | "stdout" | "otlp" | *"none"
		otlp_endpoint: string | *"localhost:4317"
	}
}
`

// projectTemplate is written by "playtree init".
const projectTemplate = `name: %q
plan: "plan.star"

deploy: {
	max_concurrent: 4
	command:        "ansible-playbook"
}

hosts: {
	localhost: ansible_connection: "local"
}
`

// planTemplate is written by "playtree init".
const planTemplate = `ping = play("ping", hosts = ["localhost"], tasks = [
    task("ping", "ping"),
], gather_facts = False)

register(%q, sequential(ping))
`
