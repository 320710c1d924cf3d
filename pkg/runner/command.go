// Package runner invokes the external configuration-management command for
// plan leaves, either locally or on a remote control host over SSH.
package runner

import (
	"strings"

	"github.com/openfroyo/playtree/pkg/engine"
)

// Command is a parsed command template.
type Command struct {
	// Executable is the first token of the template.
	Executable string

	// Args are the remaining tokens, passed before the inventory and playbook.
	Args []string
}

// ParseCommand splits a command template on whitespace. The first token is
// the executable. An empty or blank template is a configuration error.
func ParseCommand(template string) (*Command, error) {
	tokens := strings.Fields(template)
	if len(tokens) == 0 {
		return nil, engine.NewConfigurationError("command template is empty", nil).
			WithCode(engine.ErrCodeInvalidCommand)
	}
	return &Command{
		Executable: tokens[0],
		Args:       tokens[1:],
	}, nil
}

// Argv returns the arguments for one invocation:
// <args...> -i <inventory> <playbook>.
func (c *Command) Argv(inventoryPath, playbookPath string) []string {
	argv := make([]string, 0, len(c.Args)+3)
	argv = append(argv, c.Args...)
	return append(argv, "-i", inventoryPath, playbookPath)
}

// String returns the template in normalized form.
func (c *Command) String() string {
	return strings.Join(append([]string{c.Executable}, c.Args...), " ")
}
