package blob

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutAndDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ref, err := store.Put(ctx, "avatars/u1/a.png", strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref, "file://"), ref)

	u, err := url.Parse(ref)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, store.Delete(ctx, ref))
	_, err = os.Stat(filepath.FromSlash(u.Path))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Delete(ctx, ref), "deleting a missing blob is not an error")
}

func TestLocalStoreRejectsForeignRefsAndEscapes(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	assert.ErrorIs(t, store.Delete(ctx, "s3://bucket/avatars/a.png"), ErrForeignRef)
	assert.ErrorIs(t, store.Delete(ctx, "file:///etc/passwd"), ErrForeignRef)

	_, err = store.Put(ctx, "../outside.png", strings.NewReader("x"), "image/png")
	assert.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestLocalStorePutFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "avatars/u1/b.png", failingReader{}, "image/png")
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "avatars", "u1"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestS3RefRoundTrip(t *testing.T) {
	s := &S3Store{bucket: "helpmate-avatars"}
	ref := s.ref("avatars/u1/a.png")
	assert.Equal(t, "s3://helpmate-avatars/avatars/u1/a.png", ref)

	key, err := s.keyFor(ref)
	require.NoError(t, err)
	assert.Equal(t, "avatars/u1/a.png", key)

	_, err = s.keyFor("s3://other-bucket/avatars/u1/a.png")
	assert.ErrorIs(t, err, ErrForeignRef)
	_, err = s.keyFor("file:///tmp/a.png")
	assert.ErrorIs(t, err, ErrForeignRef)
}

func TestExtension(t *testing.T) {
	ext, err := Extension("image/JPEG")
	require.NoError(t, err)
	assert.Equal(t, ".jpg", ext)

	_, err = Extension("application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestNewSelectsStore(t *testing.T) {
	s, err := New(Config{Type: "local", BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = New(Config{Type: "s3"})
	assert.Error(t, err)

	_, err = New(Config{Type: "ftp"})
	assert.Error(t, err)
}
