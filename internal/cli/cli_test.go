package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitespeed/internal/models"
	bserr "bitespeed/pkg/errors"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useTempDatabase(t *testing.T) {
	t.Helper()
	t.Setenv("NODE_ENV", "test")
	t.Setenv("BITESPEED_DATABASE_URL", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("BITESPEED_DATABASE_DRIVER", "sqlite")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "bitespeed "+Version+"\n", out)
}

func TestMigrate(t *testing.T) {
	useTempDatabase(t)
	_, err := run(t, "migrate")
	assert.NoError(t, err)
}

func TestIdentifyCommand(t *testing.T) {
	useTempDatabase(t)

	_, err := run(t, "identify", "--email", "lorraine@hillvalley.edu", "--phone", "123456")
	require.NoError(t, err)

	out, err := run(t, "identify", "--email", "mcfly@hillvalley.edu", "--phone", "123456")
	require.NoError(t, err)

	var resp models.IdentifyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, int64(1), resp.Contact.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, resp.Contact.Emails)
	assert.Equal(t, []int64{2}, resp.Contact.SecondaryContactIDs)
}

func TestIdentifyCommandRequiresAValue(t *testing.T) {
	_, err := run(t, "identify")
	require.Error(t, err)
	assert.True(t, bserr.IsInvalidInput(err))
}
