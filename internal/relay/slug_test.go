package relay

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var generatedSlugRe = regexp.MustCompile(`^[a-z]+-[a-z]+-[0-9]{1,3}$`)

func TestValidSlug(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidSlug("my-app-1"))
	assert.False(t, ValidSlug(""))
	assert.False(t, ValidSlug("My-App"))
	assert.False(t, ValidSlug("has space"))
	assert.False(t, ValidSlug(string(make([]byte, 64))))
}

func TestAllocateSlugGeneratesMatchingPattern(t *testing.T) {
	t.Parallel()

	h := newHub(10)
	sess := testSession("t1", "")
	require.NoError(t, allocateSlug(h, sess, ""))
	assert.Regexp(t, generatedSlugRe, sess.slug)
}

func TestAllocateSlugAcceptsPreferred(t *testing.T) {
	t.Parallel()

	h := newHub(10)
	sess := testSession("t1", "")
	require.NoError(t, allocateSlug(h, sess, "my-app"))
	assert.Equal(t, "my-app", sess.slug)
}

func TestAllocateSlugFallsBackOnPreferredCollision(t *testing.T) {
	t.Parallel()

	h := newHub(10)
	require.NoError(t, h.register(testSession("t1", "my-app")))

	sess := testSession("t2", "")
	require.NoError(t, allocateSlug(h, sess, "my-app"))
	assert.NotEqual(t, "my-app", sess.slug)
	assert.Regexp(t, generatedSlugRe, sess.slug)
}

func TestAllocateSlugFallsBackOnInvalidPreferred(t *testing.T) {
	t.Parallel()

	h := newHub(10)
	sess := testSession("t1", "")
	require.NoError(t, allocateSlug(h, sess, "Not Valid!"))
	assert.Regexp(t, generatedSlugRe, sess.slug)
}

func TestRandomSlugDistinctAcrossCalls(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		s, err := randomSlug()
		require.NoError(t, err)
		assert.Regexp(t, generatedSlugRe, s)
		seen[s] = true
	}
	assert.Greater(t, len(seen), 1)
}
