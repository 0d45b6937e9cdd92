// Package playbook provides playbook parsing and execution functionality.
package playbook

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// Parser handles parsing of YAML playbook files
type Parser struct{}

// NewParser creates a new playbook parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile parses a playbook from a YAML file
func (p *Parser) ParseFile(filepath string) (*types.Playbook, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, types.NewPlaybookError(filepath, "", "", "failed to read playbook file", err)
	}

	return p.Parse(data, filepath)
}

// Parse parses a playbook from YAML data. Every decoded shape runs through
// the same validate+process pass — the teacher's version returned early for
// the bare-array and single-play shapes, which silently skipped default-value
// processing (serial, strategy, host normalization) for the two most common
// playbook forms.
func (p *Parser) Parse(data []byte, source string) (*types.Playbook, error) {
	playbook, err := p.decode(data, source)
	if err != nil {
		return nil, err
	}

	if err := p.validatePlaybook(playbook); err != nil {
		return nil, types.NewPlaybookError(source, "", "", "playbook validation failed", err)
	}

	if err := p.processPlaybook(playbook); err != nil {
		return nil, types.NewPlaybookError(source, "", "", "playbook processing failed", err)
	}

	return playbook, nil
}

// decode tries each YAML shape a playbook document may take: a bare array of
// plays (the common form), a single play document, or a play list wrapped
// under a top-level `plays:` key alongside shared `vars:`.
func (p *Parser) decode(data []byte, source string) (*types.Playbook, error) {
	var plays []types.Play
	if err := yaml.Unmarshal(data, &plays); err == nil && len(plays) > 0 {
		return &types.Playbook{Plays: plays}, nil
	}

	var singlePlay types.Play
	if err := yaml.Unmarshal(data, &singlePlay); err == nil && singlePlay.Name != "" {
		return &types.Playbook{Plays: []types.Play{singlePlay}}, nil
	}

	var playbookData struct {
		Vars  map[string]interface{} `yaml:"vars,omitempty"`
		Plays []types.Play           `yaml:"plays,omitempty"`
	}
	if err := yaml.Unmarshal(data, &playbookData); err != nil {
		return nil, types.NewPlaybookError(source, "", "", "failed to parse YAML", err)
	}

	return &types.Playbook{Plays: playbookData.Plays, Vars: playbookData.Vars}, nil
}

// validatePlaybook validates a parsed playbook
func (p *Parser) validatePlaybook(playbook *types.Playbook) error {
	if len(playbook.Plays) == 0 {
		return fmt.Errorf("playbook must contain at least one play")
	}

	for i, play := range playbook.Plays {
		if err := p.validatePlay(&play, i); err != nil {
			return err
		}
	}

	return nil
}

// validatePlay validates a single play
func (p *Parser) validatePlay(play *types.Play, index int) error {
	if play.Name == "" {
		return fmt.Errorf("play %d must have a name", index)
	}

	if play.Hosts == nil {
		return fmt.Errorf("play '%s' must specify hosts", play.Name)
	}

	// Validate hosts format
	switch hosts := play.Hosts.(type) {
	case string:
		if strings.TrimSpace(hosts) == "" {
			return fmt.Errorf("play '%s' hosts cannot be empty", play.Name)
		}
	case []interface{}:
		if len(hosts) == 0 {
			return fmt.Errorf("play '%s' hosts cannot be empty", play.Name)
		}
	default:
		return fmt.Errorf("play '%s' hosts must be string or array", play.Name)
	}

	// Validate tasks
	for i, task := range play.Tasks {
		if err := p.validateTask(&task, i, play.Name); err != nil {
			return err
		}
	}

	// Validate pre_tasks
	for i, task := range play.PreTasks {
		if err := p.validateTask(&task, i, play.Name); err != nil {
			return err
		}
	}

	// Validate post_tasks
	for i, task := range play.PostTasks {
		if err := p.validateTask(&task, i, play.Name); err != nil {
			return err
		}
	}

	// Validate handlers
	for i, handler := range play.Handlers {
		if err := p.validateTask(&handler, i, play.Name); err != nil {
			return err
		}
	}

	return nil
}

// validateTask validates a single task
func (p *Parser) validateTask(task *types.Task, index int, playName string) error {
	if task.Name == "" {
		return fmt.Errorf("task %d in play '%s' must have a name", index, playName)
	}

	if task.Module == "" {
		return fmt.Errorf("task '%s' in play '%s' must specify a module", task.Name, playName)
	}

	// Validate loop syntax
	if task.Loop != nil {
		switch loop := task.Loop.(type) {
		case string, []interface{}:
			// Valid loop formats
		default:
			return fmt.Errorf("task '%s' loop must be string or array, got %T", task.Name, loop)
		}
	}

	// Validate conditional syntax
	if task.When != nil {
		// Basic validation - in a full implementation, you'd parse the condition
		if whenStr, ok := task.When.(string); ok {
			if strings.TrimSpace(whenStr) == "" {
				return fmt.Errorf("task '%s' when condition cannot be empty", task.Name)
			}
		}
	}

	return nil
}

// processPlaybook performs post-processing on a parsed playbook
func (p *Parser) processPlaybook(playbook *types.Playbook) error {
	for i := range playbook.Plays {
		if err := p.processPlay(&playbook.Plays[i]); err != nil {
			return err
		}
	}
	return nil
}

// processPlay performs post-processing on a single play
func (p *Parser) processPlay(play *types.Play) error {
	// Normalize hosts to consistent format
	play.Hosts = p.normalizeHosts(play.Hosts)

	// An unset serial stays SerialNone, which the scheduler runs as a single
	// batch of every host.

	// Set default strategy
	if play.Strategy == "" {
		play.Strategy = "linear"
	}

	// Process tasks
	for i := range play.Tasks {
		p.processTask(&play.Tasks[i])
	}

	for i := range play.PreTasks {
		p.processTask(&play.PreTasks[i])
	}

	for i := range play.PostTasks {
		p.processTask(&play.PostTasks[i])
	}

	for i := range play.Handlers {
		p.processTask(&play.Handlers[i])
	}

	return nil
}

// processTask performs post-processing on a single task. Module/args
// resolution (including Ansible's inline `<module>: {...}` shorthand) already
// happens in types.Task's own UnmarshalYAML, so by the time a task reaches
// here Module and Args are already populated; this just fills in the
// zero-value defaults callers expect to find non-nil.
func (p *Parser) processTask(task *types.Task) {
	if task.Args == nil {
		task.Args = make(map[string]interface{})
	}
	if task.Vars == nil {
		task.Vars = make(map[string]interface{})
	}
	if task.Tags == nil {
		task.Tags = make([]string, 0)
	}
}

// normalizeHosts normalizes the hosts field to a consistent format
func (p *Parser) normalizeHosts(hosts interface{}) interface{} {
	switch h := hosts.(type) {
	case string:
		return strings.TrimSpace(h)
	case []interface{}:
		// Convert to string slice
		result := make([]string, len(h))
		for i, item := range h {
			result[i] = fmt.Sprintf("%v", item)
		}
		return result
	default:
		// Return as-is for now
		return hosts
	}
}

