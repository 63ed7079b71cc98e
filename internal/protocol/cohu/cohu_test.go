// internal/protocol/cohu/cohu_test.go
package cohu

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/fieldcomm/internal/comm"
	"github.com/tamzrod/fieldcomm/internal/comm/commtest"
	"github.com/tamzrod/fieldcomm/internal/framing"
)

func camera(drop int) *comm.Controller {
	return &comm.Controller{Name: "ptz", Link: "l", Drop: drop}
}

func TestResetCameraFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ResetCameraProperty().EncodeStore(camera(5), &buf))
	assert.Equal(t, []byte{0xF8, 5, 0x72, 0x73, framing.Sum7([]byte{5, 0x72, 0x73})}, buf.Bytes())
}

func TestResetCameraNoAck(t *testing.T) {
	m := &commtest.Messenger{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	op := ResetCamera(camera(1))
	require.NoError(t, commtest.Run(ctx, m, op))
	assert.True(t, op.Succeeded())
	require.Len(t, m.Requests(), 1)
	assert.Equal(t, byte(0xF8), m.Requests()[0][0])
}

func TestStorePreset(t *testing.T) {
	op, err := StorePreset(camera(9), 12)
	require.NoError(t, err)
	assert.Equal(t, comm.PriorityCommand, op.Priority)

	m := &commtest.Messenger{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, commtest.Run(ctx, m, op))
	assert.Equal(t, []byte{0xF8, 9, 'P', 12, framing.Sum7([]byte{9, 'P', 12})}, m.Requests()[0])

	_, err = StorePreset(camera(9), 0)
	assert.Error(t, err)
}

func TestQueryUnsupported(t *testing.T) {
	var buf bytes.Buffer
	err := ResetCameraProperty().EncodeQuery(camera(1), &buf)
	assert.ErrorIs(t, err, comm.KindUnsupported)
}

func TestDropRange(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, ResetCameraProperty().EncodeStore(camera(0), &buf))
	assert.Zero(t, buf.Len())
}
