package plugin

import (
	"time"

	"kernel"
)

func Start(api *kernel.API) error {
	_, err := api.SpawnTask(func(task *kernel.ManagedTask) {
		task.Log("heartbeat loop starting")
		for api.IsActive() {
			api.AppendData("heartbeats", time.Now().Format(time.RFC3339), kernel.ScopeLocal)
			time.Sleep(50 * time.Millisecond)
		}
	})
	return err
}

func Stop(api *kernel.API) error {
	api.Log("monitor stopping; heartbeat task will observe the flag")
	return nil
}
