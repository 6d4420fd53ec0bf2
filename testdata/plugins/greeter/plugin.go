package plugin

import (
	"fmt"

	"kernel"
)

func Start(api *kernel.API) error {
	greeting := "Hello"
	if configured, ok := api.PluginConfig().Settings["greeting"].(string); ok {
		greeting = configured
	}

	api.On("greet", func(args map[string]any) (any, error) {
		name, _ := args["name"].(string)
		if name == "" {
			name = "stranger"
		}
		api.AppendData("greeted", name, kernel.ScopeLocal)
		return fmt.Sprintf("%s, %s!", greeting, name), nil
	})

	return nil
}

func Stop(api *kernel.API) error {
	return nil
}
