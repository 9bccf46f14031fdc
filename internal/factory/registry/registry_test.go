package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/factory/runtime"
)

func TestListRefreshesStatus(t *testing.T) {
	fake := runtime.NewFake()
	cid, err := fake.RunContainer(context.Background(), runtime.RunSpec{ContainerPort: 8080, HostPort: 8081})
	require.NoError(t, err)

	reg := New(fake, zap.NewNop())
	reg.Create(&Instance{InstanceID: "a", ContainerID: cid, Status: StatusCreating})

	list := reg.List(context.Background())
	require.Len(t, list, 1)
	assert.Equal(t, StatusRunning, list[0].Status)
}

func TestGetUnknownInstance(t *testing.T) {
	reg := New(runtime.NewFake(), zap.NewNop())
	_, ok := reg.Get(context.Background(), "ghost")
	assert.False(t, ok)
}

func TestRefreshMapsExitedToStopped(t *testing.T) {
	fake := runtime.NewFake()
	cid, err := fake.RunContainer(context.Background(), runtime.RunSpec{})
	require.NoError(t, err)
	fake.SetStatus(cid, runtime.StatusExited)

	reg := New(fake, zap.NewNop())
	reg.Create(&Instance{InstanceID: "a", ContainerID: cid})

	inst, ok := reg.Get(context.Background(), "a")
	require.True(t, ok)
	assert.Equal(t, StatusStopped, inst.Status)
}

func TestRefreshMapsMissingToError(t *testing.T) {
	fake := runtime.NewFake()
	reg := New(fake, zap.NewNop())
	reg.Create(&Instance{InstanceID: "a", ContainerID: "does-not-exist"})

	inst, ok := reg.Get(context.Background(), "a")
	require.True(t, ok)
	assert.Equal(t, StatusError, inst.Status)
}

func TestStopMarksInstanceStopped(t *testing.T) {
	fake := runtime.NewFake()
	cid, err := fake.RunContainer(context.Background(), runtime.RunSpec{})
	require.NoError(t, err)

	reg := New(fake, zap.NewNop())
	reg.Create(&Instance{InstanceID: "a", ContainerID: cid})

	require.NoError(t, reg.Stop(context.Background(), "a", 5*time.Second))
	inst, ok := reg.Get(context.Background(), "a")
	require.True(t, ok)
	assert.Equal(t, StatusStopped, inst.Status)
}

func TestDeleteRemovesInstance(t *testing.T) {
	reg := New(runtime.NewFake(), zap.NewNop())
	reg.Create(&Instance{InstanceID: "a"})
	reg.Delete("a")
	_, ok := reg.Get(context.Background(), "a")
	assert.False(t, ok)
}

func TestLogsTailBounded(t *testing.T) {
	fake := runtime.NewFake()
	reg := New(fake, zap.NewNop())
	reg.Create(&Instance{InstanceID: "a"})
	reg.MarkStatus("a", StatusRunning, "line1")
	reg.MarkStatus("a", StatusRunning, "line2")
	reg.MarkStatus("a", StatusRunning, "line3")

	tail, err := reg.LogsTail(context.Background(), "a", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"line2", "line3"}, tail)
}
