package sharedsvc

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
)

const seedYAML = `
sharedServices:
  - name: Forms Service
    clientIdentifier: forms-service
    description: Government forms platform
    roles:
      - name: FORMS.SUBMITTER
        description: Can submit forms
      - name: FORMS.REVIEWER
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shared-services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSeedFromFile(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	t.Run("new service is inserted with its roles", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()

		mock.ExpectQuery(`SELECT id FROM shared_services WHERE name = \$1`).
			WithArgs("Forms Service").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectExec(`INSERT INTO shared_services`).
			WithArgs(sqlmock.AnyArg(), "Forms Service", "forms-service", "Government forms platform").
			WillReturnResult(sqlmock.NewResult(0, 1))

		for i := 0; i < 2; i++ {
			mock.ExpectExec(`INSERT INTO shared_service_roles`).
				WillReturnResult(sqlmock.NewResult(0, 1))
		}

		mock.ExpectCommit()

		err := store.SeedFromFile(context.Background(), writeSeedFile(t, seedYAML), logger)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing service keeps its id and gains missing roles", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()

		mock.ExpectQuery(`SELECT id FROM shared_services WHERE name = \$1`).
			WithArgs("Forms Service").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("svc-1"))

		for i := 0; i < 2; i++ {
			mock.ExpectExec(`INSERT INTO shared_service_roles`).
				WillReturnResult(sqlmock.NewResult(0, 1))
		}

		mock.ExpectCommit()

		err := store.SeedFromFile(context.Background(), writeSeedFile(t, seedYAML), logger)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("entry without a client identifier fails", func(t *testing.T) {
		store, _, db := newMockStore(t)
		defer db.Close()

		err := store.SeedFromFile(context.Background(), writeSeedFile(t, `
sharedServices:
  - name: Broken Service
`), logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing name or clientIdentifier")
	})

	t.Run("missing file fails", func(t *testing.T) {
		store, _, db := newMockStore(t)
		defer db.Close()

		err := store.SeedFromFile(context.Background(), "/nonexistent/seed.yaml", logger)
		require.Error(t, err)
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		store, _, db := newMockStore(t)
		defer db.Close()

		err := store.SeedFromFile(context.Background(), writeSeedFile(t, "sharedServices: ["), logger)
		require.Error(t, err)
	})
}
