package database

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := Options{User: "studio", Pass: "p@ss", Host: "db", Port: "3306", Name: "studio"}.DSN()
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "studio", cfg.User)
	assert.Equal(t, "p@ss", cfg.Passwd)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, "studio", cfg.DBName)
	assert.True(t, cfg.ParseTime)
}

func TestStatementsSplitSchema(t *testing.T) {
	stmts := Statements()
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.NotContains(t, s, ";\n")
		assert.Contains(t, s, "CREATE TABLE IF NOT EXISTS")
	}
}
