package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/opentreehole/treehole/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Exec("SELECT 1").Error)
	require.NoError(t, Ping(context.Background(), db))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))
	require.True(t, db.Migrator().HasTable(&models.Message{}))
	require.True(t, db.Migrator().HasTable(&models.PushToken{}))
	require.True(t, db.Migrator().HasIndex(&models.Message{}, "idx_messages_user_read"))
	require.True(t, db.Migrator().HasIndex(&models.PushToken{}, "idx_push_tokens_user_device"))
}

func TestPushTokenUniquePerUserDevice(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	first := models.PushToken{UserID: "1", Service: models.PushServiceAPNs, DeviceID: "d1", Token: "t1"}
	require.NoError(t, db.Create(&first).Error)

	dup := models.PushToken{UserID: "1", Service: models.PushServiceMiPush, DeviceID: "d1", Token: "t2"}
	require.Error(t, db.Create(&dup).Error)

	other := models.PushToken{UserID: "2", Service: models.PushServiceAPNs, DeviceID: "d1", Token: "t3"}
	require.NoError(t, db.Create(&other).Error)
}

func TestAutoMigrateNilHandle(t *testing.T) {
	require.Error(t, AutoMigrate(nil))
	require.NoError(t, Close(nil))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared&_foreign_keys=1"})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = Close(db)
	})
	return db
}
