package tool

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

// Set is the ordered tool list bound to one agent.
type Set struct {
	tools  []*Tool
	byName map[string]*Tool
}

func NewSet(tools ...*Tool) (*Set, error) {
	set := &Set{byName: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("%w: nil tool", contractx.ErrConfiguration)
		}
		if _, exists := set.byName[t.name]; exists {
			return nil, fmt.Errorf("%w: tool=%s", contractx.ErrDuplicateName, t.name)
		}
		set.byName[t.name] = t
		set.tools = append(set.tools, t)
	}
	return set, nil
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}

func (s *Set) Tools() []*Tool {
	if s == nil {
		return nil
	}
	return append([]*Tool(nil), s.tools...)
}

func (s *Set) Get(name string) (*Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[name]
	return t, ok
}

func (s *Set) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, s.Len())
	for _, t := range s.Tools() {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}
