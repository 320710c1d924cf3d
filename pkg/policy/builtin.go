package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		playHostsPolicy(),
		taskNamesPolicy(),
		playNamingPolicy(),
	}
}

// playHostsPolicy warns about plays without hosts.
func playHostsPolicy() Policy {
	return Policy{
		Name:        "play-hosts",
		Description: "Warns when a play targets no hosts",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package playtree.policies.hosts

import rego.v1

deny contains violation if {
	input.play.host_count == 0
	violation := {
		"message": sprintf("play %s targets no hosts", [input.play.name]),
		"severity": "warning",
	}
}`,
	}
}

// taskNamesPolicy warns about unnamed tasks.
func taskNamesPolicy() Policy {
	return Policy{
		Name:        "task-names",
		Description: "Warns about tasks without a name",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package playtree.policies.tasks

import rego.v1

deny contains violation if {
	some i, task in input.play.tasks
	trim_space(task.name) == ""
	violation := {
		"message": sprintf("task %d (%s) of play %s has no name", [i, task.module, input.play.name]),
		"severity": "warning",
	}
}`,
	}
}

// playNamingPolicy rejects play names that would escape the output
// directories once turned into file names.
func playNamingPolicy() Policy {
	return Policy{
		Name:        "play-naming",
		Description: "Rejects play names containing path separators",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package playtree.policies.naming

import rego.v1

separators := ["/", "\\"]

deny contains violation if {
	some sep in separators
	contains(input.play.name, sep)
	violation := {
		"message": sprintf("play name '%s' must not contain '%s'", [input.play.name, sep]),
		"severity": "error",
	}
}`,
	}
}
