package notify

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCaption(t *testing.T) {
	dn, err := NewDesktopNotifier(zaptest.NewLogger(t).Sugar(), "scanmgr", nil)
	require.NoError(t, err)

	assert.Equal(t, "scanmgr", dn.caption(""))
	assert.Equal(t, "scanmgr - Scanning failed", dn.caption("Scanning failed"))
}

func TestIconWrittenToTemp(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	dn, err := NewDesktopNotifier(zaptest.NewLogger(t).Sugar(), "scanmgr-test", []byte{0, 0, 1, 0})
	require.NoError(t, err)
	require.NotEmpty(t, dn.appIconPath)

	b, err := os.ReadFile(dn.appIconPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 1, 0}, b)
}

func TestQuietSuppressesNotify(t *testing.T) {
	dn, err := NewDesktopNotifier(zaptest.NewLogger(t).Sugar(), "scanmgr", nil)
	require.NoError(t, err)

	dn.SetQuiet(true)

	// returns before reaching the desktop backend
	dn.Notify("Document saved", "documents/1")
	assert.True(t, dn.quiet.Load())
}
