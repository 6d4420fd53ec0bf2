package plugin

import "kernel"

func Start(api *kernel.API) error {
	api.SetData("requests", 0, kernel.ScopeGlobal)
	api.SetData("ready", true, kernel.ScopeLocal)

	api.On("ping", func(args map[string]any) (any, error) {
		return "pong", nil
	})

	api.Log("core online")
	return nil
}

func Stop(api *kernel.API) error {
	api.Log("core going down")
	return nil
}
