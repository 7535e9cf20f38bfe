package capabilities

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// URL validation happens before the browser is touched, so these tests
// never launch one.

func TestWebReader_RequiresURL(t *testing.T) {
	web := NewWebReader(zerolog.Nop())
	defer web.Close()

	_, err := web.Execute(context.Background(), "read", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestWebReader_RejectsBadURLs(t *testing.T) {
	web := NewWebReader(zerolog.Nop())
	defer web.Close()

	for _, raw := range []string{"not a url", "ftp://example.com/file", "/relative/path", "https://"} {
		_, err := web.Execute(context.Background(), "read", map[string]any{"url": raw})
		require.Error(t, err, "url %q should be rejected", raw)
	}
}

func TestWebReader_RejectsUnknownAction(t *testing.T) {
	web := NewWebReader(zerolog.Nop())
	defer web.Close()

	_, err := web.Execute(context.Background(), "screenshot", map[string]any{"url": "https://example.com"})
	require.Error(t, err)
}

func TestWebReader_CloseWithoutLaunchIsNoop(t *testing.T) {
	web := NewWebReader(zerolog.Nop())
	require.NoError(t, web.Close())
	require.NoError(t, web.Close())
}

func TestWebReader_Descriptor(t *testing.T) {
	desc := NewWebReader(zerolog.Nop()).Describe()
	require.NoError(t, desc.Validate())
	assert.Equal(t, "web", desc.Name)

	action, ok := desc.Action("read")
	require.True(t, ok)
	assert.True(t, action.Parameters[0].Required)
}
