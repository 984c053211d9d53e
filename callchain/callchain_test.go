package callchain

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/scriptenv/script"
)

func ref(name string) *script.Reference {
	return script.New(name, script.Bytes(""))
}

func names(chain []*script.Reference) []string {
	result := make([]string, 0, len(chain))
	for _, r := range chain {
		result = append(result, r.Name())
	}
	return result
}

func TestPushPop(t *testing.T) {
	tr := NewTracker()
	id := NewContextID()
	a, b := ref("a"), ref("b")

	_, ok := tr.Current(id)
	require.False(t, ok)

	tr.EnterTopLevel(id)
	require.Nil(t, tr.PushFrame(id, a))
	require.Nil(t, tr.PushFrame(id, b))

	cur, ok := tr.Current(id)
	require.True(t, ok)
	require.Equal(t, b, cur)

	require.Nil(t, tr.PopFrame(id))
	cur, ok = tr.Current(id)
	require.True(t, ok)
	require.Equal(t, a, cur)

	require.Nil(t, tr.PopFrame(id))
	tr.LeaveTopLevel(id)

	_, ok = tr.Current(id)
	require.False(t, ok)
	_, ok = tr.Chain(id)
	require.False(t, ok)
	require.Equal(t, 0, tr.Len())
}

func TestReentrantRestoresSuspendedChain(t *testing.T) {
	tr := NewTracker()
	id := NewContextID()

	tr.EnterTopLevel(id)
	require.Nil(t, tr.PushFrame(id, ref("A")))

	tr.EnterTopLevel(id)
	chain, ok := tr.Chain(id)
	require.True(t, ok)
	require.Empty(t, chain)

	require.Nil(t, tr.PushFrame(id, ref("C")))
	chain, _ = tr.Chain(id)
	require.Equal(t, []string{"C"}, names(chain))
	require.Nil(t, tr.PopFrame(id))
	tr.LeaveTopLevel(id)

	chain, ok = tr.Chain(id)
	require.True(t, ok)
	require.Equal(t, []string{"A"}, names(chain))

	require.Nil(t, tr.PopFrame(id))
	tr.LeaveTopLevel(id)
	require.Equal(t, 0, tr.Len())
}

func TestDeepReentry(t *testing.T) {
	tr := NewTracker()
	id := NewContextID()
	for i := 0; i < 5; i++ {
		tr.EnterTopLevel(id)
		require.Nil(t, tr.PushFrame(id, ref(fmt.Sprintf("s%d", i))))
	}
	for i := 4; i >= 0; i-- {
		cur, ok := tr.Current(id)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("s%d", i), cur.Name())
		require.Nil(t, tr.PopFrame(id))
		tr.LeaveTopLevel(id)
	}
	require.Equal(t, 0, tr.Len())
}

func TestFrameOpsWithoutChain(t *testing.T) {
	tr := NewTracker()
	id := NewContextID()
	require.ErrorIs(t, tr.PushFrame(id, ref("a")), ErrNoChain)
	require.ErrorIs(t, tr.PopFrame(id), ErrNoChain)

	tr.EnterTopLevel(id)
	require.ErrorIs(t, tr.PopFrame(id), ErrNoChain)
	tr.LeaveTopLevel(id)
}

func TestInherit(t *testing.T) {
	tr := NewTracker()
	parent, child := NewContextID(), NewContextID()

	require.ErrorIs(t, tr.Inherit(child, parent), ErrNoSourceChain)

	tr.EnterTopLevel(parent)
	require.Nil(t, tr.PushFrame(parent, ref("main")))
	require.Nil(t, tr.PushFrame(parent, ref("lib")))

	require.Nil(t, tr.Inherit(child, parent))
	chain, ok := tr.Chain(child)
	require.True(t, ok)
	require.Equal(t, []string{"main", "lib"}, names(chain))

	// The copy is by value.
	require.Nil(t, tr.PushFrame(child, ref("worker")))
	chain, _ = tr.Chain(parent)
	require.Equal(t, []string{"main", "lib"}, names(chain))

	tr.Release(child)
	require.Nil(t, tr.PopFrame(parent))
	require.Nil(t, tr.PopFrame(parent))
	tr.LeaveTopLevel(parent)
	require.Equal(t, 0, tr.Len())
}

func TestInheritOnInitializedContext(t *testing.T) {
	tr := NewTracker()
	parent, child := NewContextID(), NewContextID()

	tr.EnterTopLevel(parent)
	require.Nil(t, tr.PushFrame(parent, ref("p")))
	tr.EnterTopLevel(child)
	require.Nil(t, tr.PushFrame(child, ref("c")))

	require.ErrorIs(t, tr.Inherit(child, parent), ErrAlreadyInitialized)

	chain, ok := tr.Chain(child)
	require.True(t, ok)
	require.Equal(t, []string{"c"}, names(chain))
}

func TestContextCarrier(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	id := NewContextID()
	got, ok := FromContext(WithContext(context.Background(), id))
	require.True(t, ok)
	require.Equal(t, id, got)
	require.NotEqual(t, id, NewContextID())
}

func TestConcurrentContexts(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := NewContextID()
			for j := 0; j < 100; j++ {
				tr.EnterTopLevel(id)
				r := ref(fmt.Sprintf("w%d-%d", i, j))
				if err := tr.PushFrame(id, r); err != nil {
					t.Error(err)
					return
				}
				if cur, ok := tr.Current(id); !ok || cur != r {
					t.Errorf("unexpected current reference on context %s", id)
				}
				_ = tr.PopFrame(id)
				tr.LeaveTopLevel(id)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, tr.Len())
}
