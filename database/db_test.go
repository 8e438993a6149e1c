package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferDriver(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":     "postgres",
		"postgresql://u:p@localhost/db":   "postgres",
		"user:pass@tcp(127.0.0.1:3306)/x": "mysql",
		"sqlite://data.db":                "sqlite",
		"console.sqlite":                  "sqlite",
		":memory:":                        "sqlite",
		"host=localhost user=x":           "",
	}
	for dsn, want := range cases {
		assert.Equal(t, want, InferDriver(dsn), dsn)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	assert.Error(t, err)

	_, err = Open("", "")
	assert.Error(t, err)
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open("", "file:"+t.TempDir()+"/test.db")
	require.NoError(t, err)
	require.NoError(t, db.Exec("SELECT 1").Error)
}
