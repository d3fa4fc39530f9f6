// Package presets holds named configurations for common railsync
// deployments. A preset replaces the defaults before the config file and
// flags are applied.
package presets

import (
	"fmt"
	"sort"

	"github.com/railsync/railsync/config"
)

var presets = map[string]config.Config{}

func register(name string, cfg config.Config) {
	if _, exist := presets[name]; exist {
		panic(fmt.Sprintf("preset with name %s already exists", name))
	}
	presets[name] = cfg
}

// Options returns the names of the registered presets.
func Options() []string {
	rst := make([]string, 0, len(presets))
	for name := range presets {
		rst = append(rst, name)
	}
	sort.Strings(rst)
	return rst
}

// Get the preset registered under name.
func Get(name string) (config.Config, error) {
	cfg, exist := presets[name]
	if !exist {
		return config.Config{}, fmt.Errorf("preset %s is not registered. select one from the options %+s", name, Options())
	}
	return cfg, nil
}
