package memfs

import (
	"context"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/sftpd/internal/protocol/sftp"
)

func backendErrno(t *testing.T, err error) int {
	t.Helper()
	be, ok := err.(*sftp.BackendError)
	require.True(t, ok, "expected *sftp.BackendError, got %T: %v", err, err)
	return be.Errno
}

func TestOpenCreateWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := New()

	h, err := fs.Open(ctx, "/a.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, err)
	require.NoError(t, fs.Write(ctx, h, []byte("hello"), 0))
	require.NoError(t, fs.Close(ctx, h))

	h2, err := fs.Open(ctx, "/a.txt", sftp.OpenMode{Read: true}, sftp.Attrs{})
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := fs.Read(ctx, h2, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestOpenWithoutCreateOnMissingFileIsENOENT(t *testing.T) {
	ctx := context.Background()
	fs := New()

	_, err := fs.Open(ctx, "/missing.txt", sftp.OpenMode{Read: true}, sftp.Attrs{})
	require.Error(t, err)
	assert.Equal(t, int(syscall.ENOENT), backendErrno(t, err))
}

func TestOpenExclOnExistingFileIsEEXIST(t *testing.T) {
	ctx := context.Background()
	fs := New()

	_, err := fs.Open(ctx, "/a.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, err)

	_, err = fs.Open(ctx, "/a.txt", sftp.OpenMode{Create: true, Excl: true, Write: true}, sftp.Attrs{})
	require.Error(t, err)
	assert.Equal(t, int(syscall.EEXIST), backendErrno(t, err))
}

func TestOpenTruncateResetsData(t *testing.T) {
	ctx := context.Background()
	fs := New()

	h, _ := fs.Open(ctx, "/a.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, fs.Write(ctx, h, []byte("longer content"), 0))
	require.NoError(t, fs.Close(ctx, h))

	h2, err := fs.Open(ctx, "/a.txt", sftp.OpenMode{Write: true, Truncate: true}, sftp.Attrs{})
	require.NoError(t, err)
	attrs, err := fs.Fstat(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), attrs.Size)
}

func TestOpenOnDirectoryIsEISDIR(t *testing.T) {
	ctx := context.Background()
	fs := New()

	require.NoError(t, fs.Mkdir(ctx, "/dir", sftp.Attrs{}))
	_, err := fs.Open(ctx, "/dir", sftp.OpenMode{Read: true}, sftp.Attrs{})
	require.Error(t, err)
	assert.Equal(t, int(syscall.EISDIR), backendErrno(t, err))
}

func TestStatAndLstatDifferOnSymlink(t *testing.T) {
	ctx := context.Background()
	fs := New()

	h, _ := fs.Open(ctx, "/target.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, fs.Write(ctx, h, []byte("xy"), 0))
	require.NoError(t, fs.Close(ctx, h))
	require.NoError(t, fs.Symlink(ctx, "/target.txt", "/link.txt"))

	lstatAttrs, err := fs.Lstat(ctx, "/link.txt")
	require.NoError(t, err)
	assert.NotZero(t, lstatAttrs.Permissions&0120000)

	statAttrs, err := fs.Stat(ctx, "/link.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), statAttrs.Size)
}

func TestSetstatTruncatesAndGrows(t *testing.T) {
	ctx := context.Background()
	fs := New()

	h, _ := fs.Open(ctx, "/a.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, fs.Write(ctx, h, []byte("0123456789"), 0))
	require.NoError(t, fs.Close(ctx, h))

	require.NoError(t, fs.Setstat(ctx, "/a.txt", sftp.AttrsFromStat(3, 0, 0, 0644, 0, 0)))
	attrs, err := fs.Stat(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), attrs.Size)

	require.NoError(t, fs.Setstat(ctx, "/a.txt", sftp.AttrsFromStat(10, 0, 0, 0644, 0, 0)))
	attrs, err = fs.Stat(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), attrs.Size)
}

func TestOpendirReaddirPaginatesAndTerminates(t *testing.T) {
	ctx := context.Background()
	fs := New()

	for i := 0; i < readdirBatchSize+50; i++ {
		h, err := fs.Open(ctx, "/f"+strconv.Itoa(i), sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
		require.NoError(t, err)
		require.NoError(t, fs.Close(ctx, h))
	}

	dh, err := fs.Opendir(ctx, "/")
	require.NoError(t, err)

	total := 0
	batch1, more, err := fs.Readdir(ctx, dh)
	require.NoError(t, err)
	require.True(t, more)
	assert.Len(t, batch1, readdirBatchSize)
	total += len(batch1)

	batch2, more, err := fs.Readdir(ctx, dh)
	require.NoError(t, err)
	require.True(t, more)
	assert.Len(t, batch2, 50)
	total += len(batch2)

	assert.Equal(t, readdirBatchSize+50, total)

	// Once exhausted, further calls report no more entries without error.
	batch3, more, err := fs.Readdir(ctx, dh)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Nil(t, batch3)

	batch4, more, err := fs.Readdir(ctx, dh)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Nil(t, batch4)
}

func TestRemoveMkdirRmdir(t *testing.T) {
	ctx := context.Background()
	fs := New()

	require.NoError(t, fs.Mkdir(ctx, "/dir", sftp.Attrs{}))
	err := fs.Mkdir(ctx, "/dir", sftp.Attrs{})
	require.Error(t, err)
	assert.Equal(t, int(syscall.EEXIST), backendErrno(t, err))

	h, _ := fs.Open(ctx, "/dir/f.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, fs.Close(ctx, h))

	err = fs.Rmdir(ctx, "/dir")
	require.Error(t, err)
	assert.Equal(t, int(syscall.ENOTEMPTY), backendErrno(t, err))

	require.NoError(t, fs.Remove(ctx, "/dir/f.txt"))
	require.NoError(t, fs.Rmdir(ctx, "/dir"))

	err = fs.Rmdir(ctx, "/dir")
	require.Error(t, err)
	assert.Equal(t, int(syscall.ENOENT), backendErrno(t, err))
}

func TestRenameRejectsExistingDestination(t *testing.T) {
	ctx := context.Background()
	fs := New()

	h1, _ := fs.Open(ctx, "/a.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, fs.Close(ctx, h1))
	h2, _ := fs.Open(ctx, "/b.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, fs.Close(ctx, h2))

	err := fs.Rename(ctx, "/a.txt", "/b.txt")
	require.Error(t, err)
	assert.Equal(t, int(syscall.EEXIST), backendErrno(t, err))

	require.NoError(t, fs.Rename(ctx, "/a.txt", "/c.txt"))
	_, err = fs.Stat(ctx, "/c.txt")
	require.NoError(t, err)
	_, err = fs.Stat(ctx, "/a.txt")
	require.Error(t, err)
}

func TestSymlinkReadlinkAndLink(t *testing.T) {
	ctx := context.Background()
	fs := New()

	h, _ := fs.Open(ctx, "/real.txt", sftp.OpenMode{Create: true, Write: true}, sftp.Attrs{})
	require.NoError(t, fs.Write(ctx, h, []byte("abc"), 0))
	require.NoError(t, fs.Close(ctx, h))

	require.NoError(t, fs.Symlink(ctx, "/real.txt", "/sym.txt"))
	target, err := fs.Readlink(ctx, "/sym.txt")
	require.NoError(t, err)
	assert.Equal(t, "/real.txt", target)

	_, err = fs.Readlink(ctx, "/real.txt")
	require.Error(t, err)
	assert.Equal(t, int(syscall.EINVAL), backendErrno(t, err))

	require.NoError(t, fs.Link(ctx, "/real.txt", "/hard.txt"))
	attrs, err := fs.Lstat(ctx, "/hard.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), attrs.Size)
}
