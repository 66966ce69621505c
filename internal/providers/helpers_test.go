package providers

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// collect reads a stream to the end and joins its content.
func collect(t *testing.T, s ChatStream) (string, []ChatChunk) {
	t.Helper()
	defer s.Close()

	var sb strings.Builder
	var chunks []ChatChunk
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
		sb.WriteString(chunk.Content)
	}
	return sb.String(), chunks
}

func lastUsage(chunks []ChatChunk) *Usage {
	var u *Usage
	for _, c := range chunks {
		if c.Usage != nil {
			u = c.Usage
		}
	}
	return u
}
