package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmux/tunnelmux/internal/domain"
)

func testSession(id, slug string) *session {
	return &session{
		tunnelID: id,
		slug:     slug,
		pending:  map[string]*pendingEntry{},
	}
}

func TestHubRegisterAndLookup(t *testing.T) {
	t.Parallel()

	h := newHub(10)
	sess := testSession("t1", "brave-otter-1")
	require.NoError(t, h.register(sess))

	assert.Equal(t, sess, h.lookup("brave-otter-1"))
	assert.Equal(t, 1, h.count())
}

func TestHubRegisterRejectsSlugCollision(t *testing.T) {
	t.Parallel()

	h := newHub(10)
	require.NoError(t, h.register(testSession("t1", "my-app")))

	err := h.register(testSession("t2", "my-app"))
	assert.ErrorIs(t, err, domain.ErrSlugTaken)
}

func TestHubRegisterEnforcesCapacity(t *testing.T) {
	t.Parallel()

	h := newHub(1)
	require.NoError(t, h.register(testSession("t1", "a")))

	err := h.register(testSession("t2", "b"))
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestHubRemoveClearsSlugIndex(t *testing.T) {
	t.Parallel()

	h := newHub(10)
	sess := testSession("t1", "my-app")
	require.NoError(t, h.register(sess))

	removed := h.remove("t1")
	assert.Equal(t, sess, removed)
	assert.Nil(t, h.lookup("my-app"))
	assert.Equal(t, 0, h.count())
}

func TestHubRemoveUnknownTunnelIsNil(t *testing.T) {
	t.Parallel()

	h := newHub(10)
	assert.Nil(t, h.remove("nope"))
}

func TestHubSlugImmediatelyReusableAfterRemove(t *testing.T) {
	t.Parallel()

	h := newHub(10)
	require.NoError(t, h.register(testSession("t1", "my-app")))
	h.remove("t1")

	require.NoError(t, h.register(testSession("t2", "my-app")))
	assert.Equal(t, "t2", h.lookup("my-app").tunnelID)
}
