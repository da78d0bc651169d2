package admin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvServiceUpdateKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=keep-me\nGLOBAL_DAILY_LIMIT=100\n"), 0o600))
	svc := NewEnvService(path)

	written, err := svc.Update(map[string]string{
		"GLOBAL_DAILY_LIMIT":        " 250 ",
		"FULFILLMENT_BACKEND_TOKEN": "tok-123456",
		"JWT_SECRET":                "stolen",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"FULFILLMENT_BACKEND_TOKEN", "GLOBAL_DAILY_LIMIT"}, written)

	raw, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", raw["JWT_SECRET"])
	assert.Equal(t, "250", raw["GLOBAL_DAILY_LIMIT"])

	visible, err := svc.Editable()
	require.NoError(t, err)
	assert.Equal(t, "250", visible["GLOBAL_DAILY_LIMIT"])
	assert.Equal(t, "****3456", visible["FULFILLMENT_BACKEND_TOKEN"])
	assert.NotContains(t, visible, "JWT_SECRET")
}

func TestEnvServiceMissingFile(t *testing.T) {
	svc := NewEnvService(filepath.Join(t.TempDir(), "absent.env"))

	values, err := svc.Editable()
	require.NoError(t, err)
	assert.Empty(t, values)

	_, err = svc.Update(map[string]string{"NOT_EDITABLE": "x"})
	assert.ErrorIs(t, err, ErrNoEditableKeys)

	_, err = svc.Update(map[string]string{"LOG_LEVEL": "debug"})
	require.NoError(t, err)
	values, err = svc.Editable()
	require.NoError(t, err)
	assert.Equal(t, "debug", values["LOG_LEVEL"])
}
