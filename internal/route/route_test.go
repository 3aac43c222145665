package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	e := NewEngine("sandbox")

	tests := []struct {
		name string
		path string
		want string
	}{
		{"deposit", "/v1.0/transaction/deposit", CodeDeposit},
		{"deposit with suffix", "/v1.0/transaction/deposit/extra", CodeDeposit},
		{"payout", "/v1.0/disbursement/payout", CodePayout},
		{"status", "/v1.0/inquiry-status", CodeStatus},
		{"balance", "/v1.0/inquiry-balance", CodeBalance},
		{"payment passthrough", "/payment/channels", "20"},
		{"no match", "/v2.0/something-else", CodeUnknown},
		{"empty path", "", CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Resolve(tt.path)
			assert.Equal(t, tt.want, got.ServiceCode)
		})
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	// Two entries whose paths are substrings of one another: the
	// earlier-declared entry must always win, even though the later one
	// matches more of the request path.
	table := []ServiceRoute{
		{ServiceCode: "aa", ProductionPath: "/v1.0/pay"},
		{ServiceCode: "bb", ProductionPath: "/v1.0/payout"},
	}
	e := NewEngine("sandbox", WithTable(table))

	got := e.Resolve("/v1.0/payout")
	assert.Equal(t, "aa", got.ServiceCode)
}

func TestEnvironmentFor(t *testing.T) {
	e := NewEngine("sandbox")

	assert.Equal(t, Sandbox, e.EnvironmentFor("sandbox-gateway.paysphere.id"))
	assert.Equal(t, Production, e.EnvironmentFor("gateway.paysphere.id"))
	assert.Equal(t, Production, e.EnvironmentFor(""))
}

func TestRewriteFor(t *testing.T) {
	e := NewEngine("sandbox")
	deposit := e.Resolve("/v1.0/transaction/deposit")

	assert.Equal(t, "/sandbox/v1.0/deposit", RewriteFor(deposit, Sandbox, deposit.ProductionPath))
	assert.Equal(t, "/v1.0/deposit", RewriteFor(deposit, Production, deposit.ProductionPath))

	status := e.Resolve("/v1.0/inquiry-status")
	assert.Equal(t, "/sandbox/v1/inquiryStatus", RewriteFor(status, Sandbox, status.ProductionPath))
	assert.Equal(t, "/v1/inquiryStatus", RewriteFor(status, Production, status.ProductionPath))

	passthrough := e.Resolve("/payment/channels")
	assert.Equal(t, "/payment/channels", RewriteFor(passthrough, Production, "/payment/channels"))
}

func TestMountedFor(t *testing.T) {
	e := NewEngine("sandbox")

	deposit := e.Resolve("/v1.0/transaction/deposit")
	assert.True(t, MountedFor(deposit, Sandbox))
	assert.True(t, MountedFor(deposit, Production))

	passthrough := e.Resolve("/payment/channels")
	assert.False(t, MountedFor(passthrough, Sandbox))
	assert.True(t, MountedFor(passthrough, Production))
}

func TestSignedAccessFlags(t *testing.T) {
	e := NewEngine("sandbox")

	assert.True(t, e.Resolve("/v1.0/disbursement/payout").RequiresPayout)
	assert.False(t, e.Resolve("/v1.0/transaction/deposit").RequiresPayout)
	assert.False(t, e.Resolve("/payment/x").SignedAccess)
	assert.True(t, e.Resolve("/v1.0/inquiry-balance").SignedAccess)
}
