package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/patali/fluxgraph/internal/store"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.New(db).AutoMigrate())
	return db
}

func TestNewManager_RejectsInvalidKeySize(t *testing.T) {
	db := testDB(t)
	_, err := NewManager(db, []byte("too-short"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestManager_StoreAndResolve_RoundTrips(t *testing.T) {
	db := testDB(t)
	key := []byte("0123456789abcdef0123456789abcdef") // 32 bytes
	mgr, err := NewManager(db, key)
	require.NoError(t, err)

	id, err := mgr.Store(context.Background(), "openai", "openai", map[string]interface{}{
		"api_key": "sk-test-12345",
	})
	require.NoError(t, err)

	fields, err := mgr.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-12345", fields["api_key"])
}

func TestManager_EncryptedDataIsNotPlaintext(t *testing.T) {
	db := testDB(t)
	key := []byte("0123456789abcdef0123456789abcdef")
	mgr, err := NewManager(db, key)
	require.NoError(t, err)

	id, err := mgr.Store(context.Background(), "slack", "slack", map[string]interface{}{
		"webhook_url": "https://hooks.slack.com/services/super-secret",
	})
	require.NoError(t, err)

	var cred store.Credential
	require.NoError(t, db.First(&cred, "id = ?", id).Error)
	assert.NotContains(t, cred.EncryptedData, "super-secret")
}

func TestManager_Resolve_UnknownCredential(t *testing.T) {
	db := testDB(t)
	key := []byte("0123456789abcdef0123456789abcdef")
	mgr, err := NewManager(db, key)
	require.NoError(t, err)

	_, err = mgr.Resolve(context.Background(), 9999)
	require.Error(t, err)
}
