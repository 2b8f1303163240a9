package sgxbuild

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatFlags(t *testing.T) {
	flags := ToolchainFlags{
		"SGX_MODE":    "SIM",
		"SGX_EDGER8R": "/sdk/bin/x64/sgx_edger8r",
		"CC":          "cc",
	}

	require.Equal(t, []string{
		"CC          = cc",
		"SGX_EDGER8R = /sdk/bin/x64/sgx_edger8r",
		"SGX_MODE    = SIM",
	}, FormatFlags(flags, ""))

	require.Equal(t, []string{
		"SGX_EDGER8R = /sdk/bin/x64/sgx_edger8r",
		"SGX_MODE    = SIM",
	}, FormatFlags(flags, "SGX_"))

	require.Empty(t, FormatFlags(flags, "NOPE"))
}

func TestPrintLines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printLines(&buf, []string{"a = 1", "b = 2"}))
	require.Equal(t, "a = 1\nb = 2\n", buf.String())
}
