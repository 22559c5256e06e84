package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// YAMLConfig loads flag values from a YAML document. Nested mappings are
// joined with "-" so
//
//	postgres:
//	  conn-string: postgres://...
//
// sets --postgres-conn-string. Keys may use "_" in place of "-".
// Lists become comma separated values.
func YAMLConfig(r io.Reader) (kong.Resolver, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	values := make(map[string]string)
	flatten("", doc, values)

	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		if v, ok := values[flag.Name]; ok {
			return v, nil
		}
		return nil, nil
	}), nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for key, value := range in {
		name := strings.ReplaceAll(strings.ToLower(key), "_", "-")
		if prefix != "" {
			name = prefix + "-" + name
		}

		switch v := value.(type) {
		case map[string]any:
			flatten(name, v, out)
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			out[name] = strings.Join(items, ",")
		case nil:
			// explicit null leaves the default in place
		default:
			out[name] = fmt.Sprint(v)
		}
	}
}
