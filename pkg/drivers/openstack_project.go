package drivers

import (
	"context"

	"github.com/kuryr/kuryr-controller/pkg/lbaas"
)

// defaultProjectDriver resolves every object to the single project the
// controller was configured against. This mirrors the common kuryr
// deployment mode where the whole cluster lives in one OpenStack project;
// a namespace-to-project mapping driver is a natural extension point but
// has no grounding in the retrieved corpus, so it isn't implemented here.
type defaultProjectDriver struct {
	projectID string
}

func newDefaultProjectDriver(cfg RegistryConfig) (ProjectDriver, error) {
	return &defaultProjectDriver{projectID: cfg.OpenStack.ProjectID}, nil
}

func (d *defaultProjectDriver) GetProject(ctx context.Context, obj lbaas.Object) (string, error) {
	return d.projectID, nil
}
