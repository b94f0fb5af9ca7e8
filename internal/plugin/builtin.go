package plugin

import (
	"context"
	"os/exec"

	"github.com/anstrom/portscan/internal/scanning"
)

// NmapID is the id of the nmap backed port scanner.
const NmapID = "nmap"

// NmapFactory returns the factory for the nmap port scanner.
func NmapFactory() Factory {
	return Factory{
		ID:          NmapID,
		Description: "nmap service scan with banner capture",
		New: func(deps Deps) (PortScanner, error) {
			scanner, err := scanning.NewScanner(deps.Config, deps.Options)
			if err != nil {
				return nil, err
			}
			return scanner, nil
		},
		Check: func(_ context.Context, deps Deps) Availability {
			binary := deps.Config.Invoker.Binary
			if binary == "" {
				binary = scanning.DefaultBinary
			}
			if _, err := exec.LookPath(binary); err != nil {
				return Unavailable("nmap binary %q not found: %v", binary, err)
			}
			return Available()
		},
	}
}

// RegisterBuiltins registers every scanner that ships with portscan.
func RegisterBuiltins(r *Registry) error {
	return r.Register(NmapFactory())
}
