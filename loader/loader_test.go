package loader

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/scriptenv/script"
)

func content(t *testing.T, ref *script.Reference) string {
	t.Helper()
	data, err := ref.Content(context.Background())
	require.Nil(t, err)
	return string(data)
}

func TestFS(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.Nil(t, afero.WriteFile(fsys, "/srv/scripts/lib/util.js", []byte("var util = 1;"), 0o644))
	require.Nil(t, fsys.MkdirAll("/srv/scripts/empty", 0o755))
	require.Nil(t, afero.WriteFile(fsys, "/srv/secret.js", []byte("secret"), 0o644))

	l := NewFS(fsys, "/srv/scripts", WithSecure(true))
	ref, err := l.Resolve(context.Background(), "lib/util.js")
	require.Nil(t, err)
	require.Equal(t, "lib/util.js", ref.Name())
	require.True(t, ref.Secure())
	require.True(t, ref.Cachable())
	p, ok := ref.Path(script.PathFile)
	require.True(t, ok)
	require.Equal(t, "/srv/scripts/lib/util.js", p)
	require.Equal(t, "var util = 1;", content(t, ref))

	_, err = l.Resolve(context.Background(), "missing.js")
	require.True(t, errors.Is(err, script.ErrNotFound))
	_, err = l.Resolve(context.Background(), "empty")
	require.True(t, errors.Is(err, script.ErrNotFound))

	// Paths cannot climb out of the root.
	_, err = l.Resolve(context.Background(), "../secret.js")
	require.True(t, errors.Is(err, script.ErrNotFound))
}

func TestEmbedded(t *testing.T) {
	l := NewEmbedded(fstest.MapFS{
		"lib/util.js": {Data: []byte("1 + 1")},
	})
	ref, err := l.Resolve(context.Background(), "/lib/util.js")
	require.Nil(t, err)
	require.Equal(t, "classpath:/lib/util.js", ref.Name())
	require.True(t, ref.Secure())
	p, ok := ref.Path(script.PathClasspath)
	require.True(t, ok)
	require.Equal(t, "/lib/util.js", p)
	require.Equal(t, "1 + 1", content(t, ref))

	_, err = l.Resolve(context.Background(), "nope.js")
	require.True(t, errors.Is(err, script.ErrNotFound))
	_, err = l.Resolve(context.Background(), "lib")
	require.True(t, errors.Is(err, script.ErrNotFound))
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	m.Put("a.js", "1")
	m.Put("b.js", "2", WithCachable(false), WithSecure(true))
	require.Equal(t, []string{"a.js", "b.js"}, m.Paths())

	a, err := m.Resolve(context.Background(), "a.js")
	require.Nil(t, err)
	require.True(t, a.Cachable())
	require.False(t, a.Secure())

	b, err := m.Resolve(context.Background(), "b.js")
	require.Nil(t, err)
	require.False(t, b.Cachable())
	require.True(t, b.Secure())
	require.Equal(t, "2", content(t, b))

	m.Remove("a.js")
	_, err = m.Resolve(context.Background(), "a.js")
	require.True(t, errors.Is(err, script.ErrNotFound))
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = r.values[i].(string)
		case *bool:
			*d = r.values[i].(bool)
		}
	}
	return nil
}

type fakeQuerier struct {
	rows    map[string]fakeRow
	queries []string
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.queries = append(q.queries, sql)
	if row, ok := q.rows[args[0].(string)]; ok {
		return row
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func TestPostgres(t *testing.T) {
	q := &fakeQuerier{rows: map[string]fakeRow{
		"reports/daily.js": {values: []any{"var total = 0;", true, false}},
		"broken.js":        {err: errors.New("connection reset")},
	}}
	l := NewPostgres(q, "")

	ref, err := l.Resolve(context.Background(), "reports/daily.js")
	require.Nil(t, err)
	require.True(t, ref.Secure())
	require.False(t, ref.Cachable())
	require.Equal(t, "var total = 0;", content(t, ref))
	p, ok := ref.Path(script.PathStore)
	require.True(t, ok)
	require.Equal(t, "reports/daily.js", p)
	require.Equal(t, `SELECT content, secure, cachable FROM "scripts" WHERE path = $1`, q.queries[0])

	_, err = l.Resolve(context.Background(), "missing.js")
	require.True(t, errors.Is(err, script.ErrNotFound))

	_, err = l.Resolve(context.Background(), "broken.js")
	require.Error(t, err)
	require.False(t, errors.Is(err, script.ErrNotFound))
}

type fakeS3 struct {
	objects  map[string]string
	metadata map[string]map[string]string
	gets     int
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: f.metadata[aws.ToString(in.Key)]}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3(t *testing.T) {
	client := &fakeS3{
		objects: map[string]string{
			"scripts/main.js":  "main()",
			"scripts/admin.js": "admin()",
		},
		metadata: map[string]map[string]string{
			"scripts/admin.js": {"secure": "true"},
		},
	}
	l := NewS3(client, "bucket", "/scripts/")

	ref, err := l.Resolve(context.Background(), "main.js")
	require.Nil(t, err)
	require.Equal(t, "s3://bucket/scripts/main.js", ref.Name())
	require.False(t, ref.Secure())
	require.Equal(t, 0, client.gets)
	require.Equal(t, "main()", content(t, ref))
	require.Equal(t, 1, client.gets)

	admin, err := l.Resolve(context.Background(), "admin.js")
	require.Nil(t, err)
	require.True(t, admin.Secure())

	_, err = l.Resolve(context.Background(), "gone.js")
	require.True(t, errors.Is(err, script.ErrNotFound))
}
