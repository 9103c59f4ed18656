package client

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldlink/pkg/component"
)

func TestNamerAllocate(t *testing.T) {
	n := newNamer()

	assert.Equal(t, "cube", n.allocate("cube"))
	assert.Equal(t, "cube_1", n.allocate("cube"))
	assert.Equal(t, "cube_2", n.allocate("cube"))
	assert.Equal(t, "entity_1", n.allocate(""))
	assert.Equal(t, "entity_2", n.allocate(""))

	n.release("cube_1")
	assert.Equal(t, "cube_1", n.allocate("cube"))

	// A preferred name shaped like a generated one blocks the generator.
	assert.Equal(t, "entity_3", n.allocate("entity_3"))
	assert.Equal(t, "entity_4", n.allocate(""))

	n.reset()
	assert.Equal(t, "cube", n.allocate("cube"))
}

func TestNamerConcurrentAllocationsAreUnique(t *testing.T) {
	n := newNamer()
	const workers = 64

	names := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names <- n.allocate("drone")
		}()
	}
	wg.Wait()
	close(names)

	seen := make(map[string]bool, workers)
	for name := range names {
		require.False(t, seen[name], name)
		seen[name] = true
	}
	assert.Len(t, seen, workers)
	assert.True(t, seen["drone"])
}

func TestNameComponents(t *testing.T) {
	w := &World{namer: newNamer()}

	out, name := w.nameComponents([]component.Component{component.NewTransform3d(component.Vec3{})})
	assert.Equal(t, "entity_1", name)
	require.Len(t, out, 2)
	assert.Equal(t, component.NewName("entity_1"), out[0])

	in := []component.Component{component.NewTransform3d(component.Vec3{}), component.NewName("cube")}
	out, name = w.nameComponents(in)
	assert.Equal(t, "cube", name)
	assert.Equal(t, in, out)

	out, name = w.nameComponents(in)
	assert.Equal(t, "cube_1", name)
	assert.Equal(t, component.NewName("cube_1"), out[1])
	assert.Equal(t, component.NewName("cube"), in[1], "caller slice is left untouched")

	plain := &World{}
	out, name = plain.nameComponents(in)
	assert.Empty(t, name)
	assert.Equal(t, in, out)
}
