package activities

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckVectorCount(t *testing.T) {
	require.NoError(t, checkVectorCount("mock", 3, 3))
	require.NoError(t, checkVectorCount("mock", 0, 0))

	err := checkVectorCount("openai", 2, 3)
	require.Error(t, err)
	require.Contains(t, err.Error(), "got 2 vectors for 3 inputs")
}
