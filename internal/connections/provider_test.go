package connections

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexlead/leadflow/pkg/schema"
)

func TestStaticProvider(t *testing.T) {
	p := Static{
		"crm": {"baseUrl": "https://crm.example.com", "token": "t-1"},
	}

	b, err := p.Get(context.Background(), "crm")
	require.NoError(t, err)
	assert.Equal(t, "t-1", b["token"])

	_, err = p.Get(context.Background(), "missing")
	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeNotFound, ferr.Code)

	names, err := p.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"crm"}, names)
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("LEADFLOW_CONN_CRM", `{"baseUrl": "https://crm.example.com", "token": "env-token"}`)
	t.Setenv("LEADFLOW_CONN_MAIL", `{"baseUrl": "https://mail.example.com"}`)

	p := Env{}

	b, err := p.Get(context.Background(), "crm")
	require.NoError(t, err)
	assert.Equal(t, "env-token", b["token"])

	names, err := p.List(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, "crm")
	assert.Contains(t, names, "mail")
}

func TestEnvProviderMissing(t *testing.T) {
	p := Env{Prefix: "TEST_CONN_"}

	_, err := p.Get(context.Background(), "ghost")
	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeNotFound, ferr.Code)
}

func TestEnvProviderMalformed(t *testing.T) {
	t.Setenv("LEADFLOW_CONN_BAD", `not json`)

	p := Env{}
	_, err := p.Get(context.Background(), "bad")
	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeConnection, ferr.Code)
}

func TestEnvProviderCustomPrefix(t *testing.T) {
	t.Setenv("MYAPP_CRM", `{"token": "custom"}`)

	p := Env{Prefix: "MYAPP_"}
	b, err := p.Get(context.Background(), "crm")
	require.NoError(t, err)
	assert.Equal(t, "custom", b["token"])
}
