package target

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialStringRedacts(t *testing.T) {
	cred := Credential{User: "root", Password: "hunter2", Passphrase: "pp"}

	s := cred.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "pp")
	assert.Contains(t, s, "root")

	// Sprintf paths must not leak either.
	formatted := fmt.Sprintf("%v %s", cred, cred)
	assert.NotContains(t, formatted, "hunter2")
}

func TestCredentialStringZero(t *testing.T) {
	assert.Equal(t, "none", Credential{}.String())
}

func TestCredentialJSONRedacts(t *testing.T) {
	cred := Credential{
		User:       "deploy",
		Password:   "hunter2",
		KeyPath:    "/keys/id_ed25519",
		Passphrase: "pp",
	}

	data, err := json.Marshal(cred)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "hunter2")
	assert.NotContains(t, string(data), "id_ed25519")
	assert.NotContains(t, string(data), "pp")
	assert.JSONEq(t, `{"user":"deploy"}`, string(data))
}

func TestTargetString(t *testing.T) {
	tgt := Target{Name: "db-02:2222", Host: "db-02", Port: 2222}
	assert.Equal(t, "db-02:2222", tgt.String())
}

func TestLocalTarget(t *testing.T) {
	lt := LocalTarget()
	assert.Equal(t, "local", lt.Name)
	assert.True(t, lt.IsLocal())
	assert.True(t, lt.Credential.IsZero())
}
