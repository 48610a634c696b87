// Package integration drives the assembled API against a real
// PostgreSQL instance. Tests skip when no container runtime is
// available.
package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/bcgov/tenant-management-system-sub000/pkg/api"
	"github.com/bcgov/tenant-management-system-sub000/pkg/audit"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/database"
	"github.com/bcgov/tenant-management-system-sub000/pkg/groups"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
	"github.com/bcgov/tenant-management-system-sub000/pkg/requests"
	"github.com/bcgov/tenant-management-system-sub000/pkg/sharedsvc"
	"github.com/bcgov/tenant-management-system-sub000/pkg/tenants"
)

const testAudience = "tenant-management-system"

// setupPostgres starts a disposable postgres container and applies the
// migrations. Skips the test when docker is unavailable.
func setupPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("docker not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tms_test"),
		postgres.WithUsername("tms"),
		postgres.WithPassword("tms_test_password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, database.RunMigrations(ctx, db))

	cleanup := func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return db, cleanup
}

// testEnv bundles the router with a swappable identity so scenarios can
// act as different callers.
type testEnv struct {
	router   http.Handler
	verifier *auth.StaticVerifier
	db       *sql.DB
}

func newTestEnv(t *testing.T, db *sql.DB) *testEnv {
	t.Helper()

	verifier := &auth.StaticVerifier{}
	tenantStore := tenants.NewStore(db, nil)
	deps := api.Deps{
		Logger:       observability.NewLogger(observability.ErrorLevel, io.Discard),
		Verifier:     verifier,
		System:       auth.SystemIdentity{Audience: testAudience},
		Auditor:      audit.NoopLogger{},
		TenantStore:  tenantStore,
		GroupStore:   groups.NewStore(db, tenantStore, nil),
		ServiceStore: sharedsvc.NewStore(db, nil),
		RequestStore: requests.NewStore(db, tenantStore, nil),
	}
	return &testEnv{router: api.NewRouter(deps), verifier: verifier, db: db}
}

func (e *testEnv) actAs(claims *auth.Claims) {
	e.verifier.Claims = claims
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the envelope payload under key into out
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, key string, out interface{}) {
	t.Helper()

	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	raw, ok := envelope.Data[key]
	require.True(t, ok, "envelope missing %q: %s", key, rec.Body.String())
	require.NoError(t, json.Unmarshal(raw, out))
}

// grantOperationsAdmin assigns the operations admin role directly in
// the database; no API route exists for bootstrapping the first admin.
func grantOperationsAdmin(t *testing.T, db *sql.DB, tenantID, subject string) {
	t.Helper()

	_, err := db.Exec(`
		INSERT INTO tenant_user_roles (id, tenant_user_id, role_id, created_by, updated_by)
		SELECT gen_random_uuid(), tu.id, r.id, 'integration-test', 'integration-test'
		FROM tenant_users tu
		JOIN sso_users su ON su.id = tu.sso_user_id
		JOIN roles r ON r.name = 'TMS.OPERATIONS_ADMIN' AND r.tenant_id IS NULL
		WHERE tu.tenant_id = $1 AND su.sso_user_id = $2`,
		tenantID, subject)
	require.NoError(t, err)
}

func ownerClaims() *auth.Claims {
	return &auth.Claims{
		Subject:          "owner-subject",
		Audience:         testAudience,
		IdentityProvider: auth.ProviderIDIR,
		Email:            "owner@gov.bc.ca",
		FirstName:        "Olive",
		LastName:         "Owner",
		DisplayName:      "Olive Owner",
	}
}

func TestTenantLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := setupPostgres(t)
	defer cleanup()
	env := newTestEnv(t, db)
	env.actAs(ownerClaims())

	var tenant tenants.Tenant

	t.Run("create tenant seeds the founder with every built-in role", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/tenants", map[string]interface{}{
			"name":         "Wildfire Tracking",
			"ministryName": "Forests",
			"description":  "Wildfire incident coordination",
			"user": map[string]string{
				"ssoUserId":   "owner-subject",
				"email":       "owner@gov.bc.ca",
				"firstName":   "Olive",
				"lastName":    "Owner",
				"displayName": "Olive Owner",
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		decodeData(t, rec, "tenant", &tenant)
		assert.NotEmpty(t, tenant.ID)
		assert.Equal(t, "Wildfire Tracking", tenant.Name)
		require.Len(t, tenant.Users, 1)
		assert.Len(t, tenant.Users[0].Roles, 3)
	})

	t.Run("duplicate tenant name in the same ministry conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/tenants", map[string]interface{}{
			"name":         "Wildfire Tracking",
			"ministryName": "Forests",
			"user":         map[string]string{"ssoUserId": "owner-subject", "email": "owner@gov.bc.ca"},
		})
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	})

	t.Run("owner can read and update the tenant", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/tenants/"+tenant.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = env.do(t, http.MethodPut, "/v1/tenants/"+tenant.ID, map[string]string{
			"description": "Updated description",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var updated tenants.Tenant
		decodeData(t, rec, "tenant", &updated)
		assert.Equal(t, "Updated description", updated.Description)
	})

	t.Run("outsider cannot see the tenant", func(t *testing.T) {
		env.actAs(&auth.Claims{
			Subject: "stranger", Audience: testAudience,
			IdentityProvider: auth.ProviderIDIR, Email: "stranger@gov.bc.ca",
		})
		defer env.actAs(ownerClaims())

		rec := env.do(t, http.MethodGet, "/v1/tenants/"+tenant.ID, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	var member tenants.TenantUser

	t.Run("owner adds a member who lands with the service user role", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/tenants/"+tenant.ID+"/users", map[string]interface{}{
			"user": map[string]string{
				"ssoUserId": "member-subject",
				"email":     "member@gov.bc.ca",
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decodeData(t, rec, "user", &member)
		assert.Equal(t, "member-subject", member.SsoUser.SsoUserID)
	})

	t.Run("re-adding an active member conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/tenants/"+tenant.ID+"/users", map[string]interface{}{
			"user": map[string]string{"ssoUserId": "member-subject", "email": "member@gov.bc.ca"},
		})
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	})

	t.Run("role assignment round trip", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/roles", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var roles []tenants.Role
		decodeData(t, rec, "roles", &roles)
		var adminRoleID string
		for _, role := range roles {
			if role.Name == auth.RoleUserAdmin {
				adminRoleID = role.ID
			}
		}
		require.NotEmpty(t, adminRoleID)

		rec = env.do(t, http.MethodPost,
			"/v1/tenants/"+tenant.ID+"/users/"+member.ID+"/roles",
			map[string]interface{}{"roles": []string{adminRoleID}})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		// assigning the same role twice conflicts
		rec = env.do(t, http.MethodPost,
			"/v1/tenants/"+tenant.ID+"/users/"+member.ID+"/roles",
			map[string]interface{}{"roles": []string{adminRoleID}})
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

		rec = env.do(t, http.MethodDelete,
			"/v1/tenants/"+tenant.ID+"/users/"+member.ID+"/roles/"+adminRoleID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	})

	t.Run("the last tenant owner cannot lose the owner role", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/tenants/"+tenant.ID+"?expand=tenantUserRoles", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var expanded tenants.Tenant
		decodeData(t, rec, "tenant", &expanded)

		var ownerUserID, ownerRoleID string
		for _, user := range expanded.Users {
			if user.SsoUser.SsoUserID == "owner-subject" {
				ownerUserID = user.ID
				for _, role := range user.Roles {
					if role.Name == auth.RoleTenantOwner {
						ownerRoleID = role.ID
					}
				}
			}
		}
		require.NotEmpty(t, ownerUserID)
		require.NotEmpty(t, ownerRoleID)

		rec = env.do(t, http.MethodDelete,
			"/v1/tenants/"+tenant.ID+"/users/"+ownerUserID+"/roles/"+ownerRoleID, nil)
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	})

	t.Run("members list their own tenants only", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/users/owner-subject/tenants", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var list []tenants.Tenant
		decodeData(t, rec, "tenants", &list)
		require.Len(t, list, 1)
		assert.Equal(t, tenant.ID, list[0].ID)

		rec = env.do(t, http.MethodGet, "/v1/users/member-subject/tenants", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestGroupLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := setupPostgres(t)
	defer cleanup()
	env := newTestEnv(t, db)
	env.actAs(ownerClaims())

	var tenant tenants.Tenant
	rec := env.do(t, http.MethodPost, "/v1/tenants", map[string]interface{}{
		"name":         "Parks Portal",
		"ministryName": "Environment",
		"user":         map[string]string{"ssoUserId": "owner-subject", "email": "owner@gov.bc.ca"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decodeData(t, rec, "tenant", &tenant)

	var group groups.Group

	t.Run("create group", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/tenants/"+tenant.ID+"/groups", map[string]interface{}{
			"name":        "Rangers",
			"description": "Field staff",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decodeData(t, rec, "group", &group)
		assert.Equal(t, "Rangers", group.Name)
	})

	t.Run("duplicate group name conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/tenants/"+tenant.ID+"/groups", map[string]interface{}{
			"name": "Rangers",
		})
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	})

	t.Run("adding a non-member onboards them into the tenant", func(t *testing.T) {
		rec := env.do(t, http.MethodPost,
			"/v1/tenants/"+tenant.ID+"/groups/"+group.ID+"/users",
			map[string]interface{}{
				"user": map[string]string{"ssoUserId": "ranger-subject", "email": "ranger@gov.bc.ca"},
			})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		// the new group member can now read the tenant
		env.actAs(&auth.Claims{
			Subject: "ranger-subject", Audience: testAudience,
			IdentityProvider: auth.ProviderIDIR, Email: "ranger@gov.bc.ca",
		})
		rec = env.do(t, http.MethodGet, "/v1/tenants/"+tenant.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		env.actAs(ownerClaims())
	})

	t.Run("remove and re-add restores the membership", func(t *testing.T) {
		rec := env.do(t, http.MethodGet,
			"/v1/tenants/"+tenant.ID+"/groups/"+group.ID+"?expand=groupUsers", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var withMembers groups.Group
		decodeData(t, rec, "group", &withMembers)
		require.NotEmpty(t, withMembers.Users)

		var rangerMembershipID string
		for _, user := range withMembers.Users {
			if user.SsoUser.SsoUserID == "ranger-subject" {
				rangerMembershipID = user.ID
			}
		}
		require.NotEmpty(t, rangerMembershipID)

		rec = env.do(t, http.MethodDelete,
			"/v1/tenants/"+tenant.ID+"/groups/"+group.ID+"/users/"+rangerMembershipID, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodPost,
			"/v1/tenants/"+tenant.ID+"/groups/"+group.ID+"/users",
			map[string]interface{}{
				"user": map[string]string{"ssoUserId": "ranger-subject", "email": "ranger@gov.bc.ca"},
			})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var restored groups.GroupUser
		decodeData(t, rec, "groupUser", &restored)
		assert.Equal(t, rangerMembershipID, restored.ID)
	})
}

func TestSharedServiceAndRequestWorkflows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := setupPostgres(t)
	defer cleanup()
	env := newTestEnv(t, db)
	env.actAs(ownerClaims())

	var tenant tenants.Tenant
	rec := env.do(t, http.MethodPost, "/v1/tenants", map[string]interface{}{
		"name":         "Health Registry",
		"ministryName": "Health",
		"user":         map[string]string{"ssoUserId": "owner-subject", "email": "owner@gov.bc.ca"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decodeData(t, rec, "tenant", &tenant)

	t.Run("shared service routes are gated on operations admin", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/shared-services", map[string]interface{}{
			"name":             "Forms Service",
			"clientIdentifier": "forms-service",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	})

	grantOperationsAdmin(t, db, tenant.ID, "owner-subject")

	var service sharedsvc.SharedService

	t.Run("operations admin registers a shared service", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/shared-services", map[string]interface{}{
			"name":             "Forms Service",
			"clientIdentifier": "forms-service",
			"sharedServiceRoles": []map[string]string{
				{"name": "FORMS.SUBMITTER", "description": "Can submit forms"},
				{"name": "FORMS.REVIEWER", "description": "Can review submissions"},
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decodeData(t, rec, "sharedService", &service)
		assert.Len(t, service.Roles, 2)
	})

	t.Run("associate the service and toggle group grants", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/tenants/"+tenant.ID+"/shared-services",
			map[string]string{"sharedServiceId": service.ID})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		var group groups.Group
		rec = env.do(t, http.MethodPost, "/v1/tenants/"+tenant.ID+"/groups", map[string]interface{}{
			"name": "Clerks",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decodeData(t, rec, "group", &group)

		rec = env.do(t, http.MethodPost,
			"/v1/tenants/"+tenant.ID+"/groups/"+group.ID+"/users",
			map[string]interface{}{
				"user": map[string]string{"ssoUserId": "owner-subject", "email": "owner@gov.bc.ca"},
			})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = env.do(t, http.MethodGet,
			"/v1/tenants/"+tenant.ID+"/groups/"+group.ID+"/shared-services/shared-service-roles", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var view []sharedsvc.ServiceGrantView
		decodeData(t, rec, "sharedServices", &view)
		require.Len(t, view, 1)
		require.Len(t, view[0].SharedServiceRoles, 2)
		assert.False(t, view[0].SharedServiceRoles[0].Enabled)

		rec = env.do(t, http.MethodPut,
			"/v1/tenants/"+tenant.ID+"/groups/"+group.ID+"/shared-services/shared-service-roles",
			map[string]interface{}{
				"sharedServices": []map[string]interface{}{{
					"id": service.ID,
					"sharedServiceRoles": []map[string]interface{}{
						{"id": view[0].SharedServiceRoles[0].ID, "enabled": true},
					},
				}},
			})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		decodeData(t, rec, "sharedServices", &view)
		assert.True(t, view[0].SharedServiceRoles[0].Enabled)

		// a caller bearing the service's own audience sees the enabled
		// grant in the user's effective roles
		env.actAs(&auth.Claims{Subject: "owner-subject", Audience: "forms-service"})
		rec = env.do(t, http.MethodGet,
			"/v1/tenants/"+tenant.ID+"/ssousers/owner-subject/shared-service-roles", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var effective []sharedsvc.EffectiveRole
		decodeData(t, rec, "sharedServiceRoles", &effective)
		require.Len(t, effective, 1)
		assert.Len(t, effective[0].Groups, 1)
		env.actAs(ownerClaims())
	})

	t.Run("tenant request approval materializes the tenant", func(t *testing.T) {
		env.actAs(&auth.Claims{
			Subject: "requester-subject", Audience: testAudience,
			IdentityProvider: auth.ProviderAzureIDIR, Email: "requester@gov.bc.ca",
		})

		rec := env.do(t, http.MethodPost, "/v1/tenant-requests", map[string]interface{}{
			"name":         "Transit Planning",
			"ministryName": "Transportation",
			"user":         map[string]string{"ssoUserId": "requester-subject", "email": "requester@gov.bc.ca"},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var request requests.TenantRequest
		decodeData(t, rec, "tenantRequest", &request)
		assert.Equal(t, requests.StatusNew, request.Status)

		// the requester cannot decide their own request
		rec = env.do(t, http.MethodPatch, "/v1/tenant-requests/"+request.ID+"/status",
			map[string]string{"status": "APPROVED"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		env.actAs(ownerClaims())

		rec = env.do(t, http.MethodPatch, "/v1/tenant-requests/"+request.ID+"/status",
			map[string]string{"status": "APPROVED"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var decided requests.TenantRequest
		decodeData(t, rec, "tenantRequest", &decided)
		assert.Equal(t, requests.StatusApproved, decided.Status)
		require.NotNil(t, decided.Tenant)

		// deciding twice conflicts
		rec = env.do(t, http.MethodPatch, "/v1/tenant-requests/"+request.ID+"/status",
			map[string]string{"status": "REJECTED", "rejectionReason": "late"})
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

		// the requester now owns the new tenant
		env.actAs(&auth.Claims{
			Subject: "requester-subject", Audience: testAudience,
			IdentityProvider: auth.ProviderAzureIDIR, Email: "requester@gov.bc.ca",
		})
		rec = env.do(t, http.MethodGet, "/v1/tenants/"+decided.Tenant.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		env.actAs(ownerClaims())
	})
}
