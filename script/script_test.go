package script

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDynamicReferenceNaming(t *testing.T) {
	a := Dynamic("var x = 1;")
	b := Dynamic("var x = 1;")
	c := Dynamic("var x = 2;")

	require.True(t, a.IsDynamic())
	require.Equal(t, a.Name(), b.Name())
	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Name(), c.Name())
	require.Regexp(t, `^string:///DynamicJS-[0-9a-f]{64}\.js$`, a.Name())

	data, err := a.Content(context.Background())
	require.Nil(t, err)
	require.Equal(t, "var x = 1;", string(data))
}

func TestReferenceOptions(t *testing.T) {
	ref := New("lib/util.js", Bytes("1"),
		WithPath(PathFile, "/srv/scripts/lib/util.js"),
		WithPath(PathClasspath, "/lib/util.js"),
		WithCachable(true),
		WithSecure(true))

	require.False(t, ref.IsDynamic())
	require.True(t, ref.Cachable())
	require.True(t, ref.Secure())
	require.Equal(t, "", ref.Hash())
	require.Equal(t, []PathKind{PathClasspath, PathFile}, ref.Kinds())

	p, ok := ref.Path(PathFile)
	require.True(t, ok)
	require.Equal(t, "/srv/scripts/lib/util.js", p)
	_, ok = ref.Path(PathStore)
	require.False(t, ok)
}

func TestReferenceWithoutSource(t *testing.T) {
	_, err := New("empty", nil).Content(context.Background())
	require.Error(t, err)
}

func TestRewriteImports(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{
			`<import resource="classpath:lib/util.js"/>`,
			`importScript("classpath", "/lib/util.js", true);`,
		},
		{
			`<import resource="classpath:/lib/util.js">`,
			`importScript("classpath", "/lib/util.js", true);`,
		},
		{
			`<import resource="common/helpers.js" />`,
			`importScript("storePath", "common/helpers.js", true);`,
		},
		{
			"var a = 1;",
			"var a = 1;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.expected, RewriteImports(tt.in))
		})
	}
}

func TestRelative(t *testing.T) {
	base := New("a", nil, WithPath(PathStore, "app/scripts/main.js"))

	require.Equal(t, "app/scripts/lib.js", Relative(base, PathStore, "lib.js"))
	require.Equal(t, "app/shared/x.js", Relative(base, PathStore, "../shared/x.js"))
	require.Equal(t, "/abs/x.js", Relative(base, PathStore, "/abs/x.js"))
	require.Equal(t, "lib.js", Relative(base, PathFile, "lib.js"))
	require.Equal(t, "lib.js", Relative(nil, PathFile, "./lib.js"))
}

func TestLocators(t *testing.T) {
	mem := LoaderFunc(func(ctx context.Context, p string) (*Reference, error) {
		if p == "known.js" {
			return New("mem:"+p, Bytes("1")), nil
		}
		return nil, ErrNotFound
	})
	fallback := LoaderFunc(func(ctx context.Context, p string) (*Reference, error) {
		return New("default:"+p, Bytes("2")), nil
	})

	locators := NewLocators("file")
	_, err := locators.Resolve(context.Background(), "x.js")
	require.True(t, errors.Is(err, ErrNotFound))

	locators.Register("memory", mem)
	locators.Register("file", fallback)
	require.Equal(t, []string{"file", "memory"}, locators.Names())

	ref, err := locators.Resolve(context.Background(), "memory:known.js")
	require.Nil(t, err)
	require.Equal(t, "mem:known.js", ref.Name())

	_, err = locators.Resolve(context.Background(), "memory:unknown.js")
	require.True(t, errors.Is(err, ErrNotFound))

	ref, err = locators.Resolve(context.Background(), "other:thing.js")
	require.Nil(t, err)
	require.Equal(t, "default:other:thing.js", ref.Name())
}
