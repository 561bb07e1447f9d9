package database

import (
	"testing"
	"time"

	"github.com/H51976/roombox-fyp/common/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPool_CapsIdleAtMaxConns(t *testing.T) {
	raw, _, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "postgres")
	defer db.Close()

	ApplyPool(db, &config.DatabaseConfig{MaxConns: 4, MaxIdle: 10, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 4, db.Stats().MaxOpenConnections)
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}

func TestGetDSN_QuotesValues(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:            "db.internal",
		Port:            5432,
		User:            "roombox",
		Password:        `p@ss word'\`,
		Database:        "roombox",
		SSLMode:         "disable",
		ApplicationName: "roombox-api",
		ConnectTimeout:  3,
	}
	assert.Equal(t,
		`host='db.internal' port='5432' user='roombox' password='p@ss word\'\\' dbname='roombox' sslmode='disable' application_name='roombox-api' connect_timeout='3'`,
		cfg.GetDSN())

	assert.Equal(t, `host='localhost'`, (&config.DatabaseConfig{Host: "localhost"}).GetDSN())
}
