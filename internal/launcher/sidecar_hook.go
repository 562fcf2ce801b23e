package launcher

import (
	"context"
	"fmt"

	"locus-desktop/internal/sidecar"
)

// SidecarFactory splits construction from spawning so the two failure
// modes stay distinguishable. *sidecar.Factory implements it.
type SidecarFactory interface {
	Command() (*sidecar.Command, error)
	Spawn(ctx context.Context, cmd *sidecar.Command) (*sidecar.Child, error)
}

// ChildHandler takes ownership of the spawned child.
type ChildHandler func(ctx context.Context, child *sidecar.Child) error

// SidecarHook builds the setup hook that launches the backend and hands
// the handle to onSpawn.
func SidecarHook(f SidecarFactory, onSpawn ChildHandler) SetupHook {
	return func(ctx context.Context, app *Context) error {
		cmd, err := f.Command()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSidecarConstruction, err)
		}

		child, err := f.Spawn(ctx, cmd)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSidecarSpawn, err)
		}

		app.Logger().Info("launcher", "sidecar spawned", map[string]interface{}{
			"sidecar": cmd.Name,
			"path":    cmd.Path,
			"pid":     child.PID,
			"attempt": app.Attempt(),
		})

		if onSpawn == nil {
			app.Logger().Warning("launcher", "sidecar handle is not supervised", map[string]interface{}{"pid": child.PID})
			return nil
		}
		if err := onSpawn(ctx, child); err != nil {
			_ = child.Kill()
			return fmt.Errorf("supervise sidecar: %w", err)
		}
		return nil
	}
}
