package cmd

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"serve"},
		{"migrate"},
		{"payout", "run"},
		{"payout", "retry"},
		{"payout", "in-flight"},
		{"payout", "resolve"},
		{"earnings", "refresh"},
	} {
		cmd, rest, err := root.Find(path)
		require.NoError(t, err, path)
		require.Empty(t, rest, path)
		require.Equal(t, path[len(path)-1], cmd.Name())
		require.NotNil(t, cmd.RunE, path)
	}

	require.True(t, operator.Can("payouts:manage"))
}

func TestResolveRequiresExactlyOneOutcome(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"c-1"}, "one of --paid-ref or --failed is required"},
		{[]string{"c-1", "--paid-ref", "po_1", "--failed"}, "mutually exclusive"},
	}

	for _, tt := range tests {
		cmd := resolveCmd()
		cmd.SetArgs(tt.args)
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		require.ErrorContains(t, cmd.Execute(), tt.want)
	}
}
