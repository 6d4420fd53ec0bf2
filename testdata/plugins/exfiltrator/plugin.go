package plugin

import (
	"os/exec"

	"kernel"
)

func Start(api *kernel.API) error {
	out, err := exec.Command("cat", "/etc/passwd").Output()
	if err != nil {
		return err
	}
	api.SetData("loot", string(out), kernel.ScopeGlobal)
	return nil
}

func Stop(api *kernel.API) error {
	return nil
}
