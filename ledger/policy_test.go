package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welfare/contribution-ledger/ledger"
)

func TestParsePolicySchedule_Versions(t *testing.T) {
	p, err := ledger.ParsePolicySchedule("2024-07-01=500, 2024-01-01=200")
	require.NoError(t, err)

	v, err := p.For("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)
	requireDecimal(t, 200, v.Amount)

	v, err = p.For("2024-07-01")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
	requireDecimal(t, 500, v.Amount)

	v, err = p.For("2030-01-01")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
}

func TestParsePolicySchedule_BeforeFirstVersion(t *testing.T) {
	p, err := ledger.ParsePolicySchedule("2024-01-01=200")
	require.NoError(t, err)

	_, err = p.For("2023-12-01")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestParsePolicySchedule_BareAmount(t *testing.T) {
	p, err := ledger.ParsePolicySchedule("500")
	require.NoError(t, err)

	v, err := p.For("1999-05-01")
	require.NoError(t, err)
	requireDecimal(t, 500, v.Amount)
}

func TestParsePolicySchedule_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "2024-01-01=0", "2024-01-01=-5", "2024-01-01=200,2024-01-15=300", "2024-01-01",
		"0.005", "2024-01-01=200.005", "2024-01-01=200,2024-07-01=99999999"} {
		_, err := ledger.ParsePolicySchedule(in)
		assert.ErrorIs(t, err, ledger.ErrValidation, in)
	}
}
