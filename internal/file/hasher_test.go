package file

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

func TestHashingReaderChecksum(t *testing.T) {
	t.Parallel()

	content := []byte("BOOT-INF/classes/application.yml")
	hr := NewHashingReader(iotest.OneByteReader(bytes.NewReader(content)))

	got, err := io.ReadAll(hr)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, crc32.ChecksumIEEE(content), hr.Sum32())
}

func TestHashingReaderPartial(t *testing.T) {
	t.Parallel()

	hr := NewHashingReader(bytes.NewReader([]byte("abcdef")))
	buf := make([]byte, 3)
	_, err := io.ReadFull(hr, buf)
	require.NoError(t, err)
	assert.Equal(t, crc32.ChecksumIEEE([]byte("abc")), hr.Sum32())
}

func TestEnsureNoExtra(t *testing.T) {
	t.Parallel()

	readErr := errors.New("inflate: corrupt input")
	tests := []struct {
		name    string
		r       io.Reader
		wantErr error
	}{
		{name: "drained", r: bytes.NewReader(nil)},
		{name: "trailing bytes", r: bytes.NewReader([]byte("tail")), wantErr: jartype.ErrDecompressionFailed},
		{name: "one trailing byte", r: bytes.NewReader([]byte{0}), wantErr: jartype.ErrDecompressionFailed},
		{name: "read error", r: iotest.ErrReader(readErr), wantErr: readErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := EnsureNoExtra(tt.r)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
