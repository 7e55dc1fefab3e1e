package providers

import (
	"testing"
	"time"

	"github.com/orchestra-mcp/relay/src/types"
	"github.com/stretchr/testify/assert"
)

func TestWSConnRejectsFramesSessionsNeverWrite(t *testing.T) {
	c := &wsConn{writeTimeout: time.Second}

	for _, kind := range []types.FrameKind{types.FrameBinary, types.FrameClose} {
		err := c.WriteFrame(types.Frame{Kind: kind})
		assert.ErrorContains(t, err, "unsupported frame kind "+kind.String())
	}
}
