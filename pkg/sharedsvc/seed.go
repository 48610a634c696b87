package sharedsvc

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/bcgov/tenant-management-system-sub000/pkg/database"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
)

// seedFile is the YAML shape of the shared service registry seed
type seedFile struct {
	SharedServices []seedService `yaml:"sharedServices"`
}

type seedService struct {
	Name             string     `yaml:"name"`
	ClientIdentifier string     `yaml:"clientIdentifier"`
	Description      string     `yaml:"description"`
	Roles            []seedRole `yaml:"roles"`
}

type seedRole struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedFromFile loads the shared service registry from a YAML file and
// upserts it idempotently: existing services keep their id and active
// state, missing roles are added, nothing is removed. Deployments use
// it to ship a known registry without manual registration calls.
func (s *Store) SeedFromFile(ctx context.Context, path string, logger *observability.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	for _, svc := range seed.SharedServices {
		if svc.Name == "" || svc.ClientIdentifier == "" {
			return fmt.Errorf("seed entry missing name or clientIdentifier")
		}

		err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			var serviceID string
			err := tx.QueryRowContext(ctx,
				"SELECT id FROM shared_services WHERE name = $1", svc.Name,
			).Scan(&serviceID)
			if err == sql.ErrNoRows {
				serviceID = uuid.New().String()
				_, err = tx.ExecContext(ctx, `
					INSERT INTO shared_services (id, name, client_identifier, description, created_by, updated_by)
					VALUES ($1, $2, $3, NULLIF($4, ''), 'seed', 'seed')`,
					serviceID, svc.Name, svc.ClientIdentifier, svc.Description,
				)
				if err != nil {
					return fmt.Errorf("failed to seed shared service %s: %w", svc.Name, err)
				}
				logger.WithField("shared_service", svc.Name).Info("seeded shared service")
			} else if err != nil {
				return fmt.Errorf("failed to look up shared service %s: %w", svc.Name, err)
			}

			for _, role := range svc.Roles {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO shared_service_roles (id, shared_service_id, name, description, created_by, updated_by)
					VALUES ($1, $2, $3, NULLIF($4, ''), 'seed', 'seed')
					ON CONFLICT (shared_service_id, name) DO NOTHING`,
					uuid.New().String(), serviceID, role.Name, role.Description,
				)
				if err != nil {
					return fmt.Errorf("failed to seed role %s on %s: %w", role.Name, svc.Name, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
