package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// yamlConfig loads a YAML configuration file as a kong resolver.
//
// Keys are flag names. A flag is looked up in the section of its command
// first, then in each enclosing section, then at the top level:
//
//	log-level: debug
//	serve:
//	  port: 9000
//	  allowed-origins: [https://study.example.org]
//	plans:
//	  db: /var/lib/carry/plans.db
func yamlConfig(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return kong.ResolverFunc(func(_ *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		v, ok := lookupConfig(values, commandPath(parent), flag.Name)
		if !ok {
			return nil, nil
		}
		return configValue(v)
	}), nil
}

// commandPath returns the command names from the root down to parent.
func commandPath(parent *kong.Path) []string {
	if parent == nil || parent.Command == nil {
		return nil
	}
	var names []string
	for n := parent.Command; n != nil && n.Type == kong.CommandNode; n = n.Parent {
		names = append([]string{n.Name}, names...)
	}
	return names
}

func lookupConfig(values map[string]any, path []string, name string) (any, bool) {
	for depth := len(path); depth >= 0; depth-- {
		section, ok := descend(values, path[:depth])
		if !ok {
			continue
		}
		for _, key := range []string{name, strings.ReplaceAll(name, "-", "_")} {
			if v, ok := section[key]; ok {
				if _, nested := v.(map[string]any); nested {
					continue
				}
				return v, true
			}
		}
	}
	return nil, false
}

func descend(values map[string]any, path []string) (map[string]any, bool) {
	cur := values
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// configValue renders a YAML scalar or list in the string form kong's
// mappers accept from the command line. Null list items are skipped.
func configValue(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			rendered, err := configValue(item)
			if err != nil {
				return nil, err
			}
			s, ok := rendered.(string)
			if !ok {
				continue
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	case map[string]any:
		return nil, fmt.Errorf("config: unexpected section where a value was expected")
	default:
		return fmt.Sprint(v), nil
	}
}
