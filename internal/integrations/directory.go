package integrations

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/product-juke/Kalla-Transporter-sub000/config"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// configDirectory resolves role-based tiers against the reviewer table
// shipped with the deployment configuration. Branch deployments pin their
// cashier, administration head and branch head there.
type configDirectory struct {
	roles map[string]Actor
}

// NewConfigDirectory builds a ReviewerDirectory from configuration.
func NewConfigDirectory(cfg config.ReviewerConfig) (ReviewerDirectory, error) {
	roles := make(map[string]Actor, len(cfg.Roles))
	for role, entry := range cfg.Roles {
		id, err := uuid.Parse(entry.UserID)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid reviewer user id for role %s", role)
		}
		roles[role] = Actor{ID: id, Role: role, Name: entry.Name}
	}
	return &configDirectory{roles: roles}, nil
}

func (d *configDirectory) ReviewerFor(ctx context.Context, docType models.DocType, targetState, role string) (*Actor, error) {
	actor, ok := d.roles[role]
	if !ok {
		return nil, nil
	}
	return &actor, nil
}
