package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/property"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()

	require.NoError(t, r.RegisterDecl(converter.Simple("image.png-to-webp",
		property.NewPattern().WithEq("format", "png"),
		property.NewPattern().WithEq("format", "webp"))))
	require.NoError(t, r.RegisterDecl(converter.Simple("image.png-to-jpg",
		property.NewPattern().WithEq("format", "png"),
		property.NewPattern().WithEq("format", "jpg"))))
	require.NoError(t, r.RegisterDecl(converter.Simple("image.jpg-to-webp",
		property.NewPattern().WithEq("format", "jpg"),
		property.NewPattern().WithEq("format", "webp"))))
	require.NoError(t, r.RegisterDecl(converter.NewDecl("video.frames-to-gif").
		WithInput("frames", converter.ListPort(property.NewPattern().WithEq("format", "png"))).
		WithOutput("out", converter.SinglePort(property.NewPattern().WithEq("format", "gif")))))

	return r
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := testRegistry(t)
	err := r.RegisterDecl(converter.Simple("image.png-to-webp",
		property.NewPattern().WithEq("format", "png"),
		property.NewPattern().WithEq("format", "webp")))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestApplicable(t *testing.T) {
	r := testRegistry(t)

	ids := func(decls []*converter.Decl) []string {
		out := make([]string, len(decls))
		for i, d := range decls {
			out[i] = d.ID
		}
		return out
	}

	got := ids(r.Applicable(property.New().With("format", "png")))
	assert.Equal(t, []string{"image.png-to-jpg", "image.png-to-webp", "video.frames-to-gif"}, got)

	assert.Empty(t, r.Applicable(property.New().With("format", "bmp")))
}

func TestDeclsSortedById(t *testing.T) {
	r := testRegistry(t)
	decls := r.Decls()
	for i := 1; i < len(decls); i++ {
		assert.Less(t, decls[i-1].ID, decls[i].ID)
	}
}

func TestReplaceOverrides(t *testing.T) {
	r := testRegistry(t)
	override := converter.Simple("image.png-to-webp",
		property.NewPattern().WithEq("format", "png"),
		property.NewPattern().WithEq("format", "webp")).
		WithDescription("replacement")

	require.NoError(t, r.Replace(declOnly{override}))

	d, ok := r.Decl("image.png-to-webp")
	require.True(t, ok)
	assert.Equal(t, "replacement", d.Description)
}

func TestRelevantKeys(t *testing.T) {
	r := testRegistry(t)
	keys := r.RelevantKeys("width")
	assert.Contains(t, keys, "format")
	assert.Contains(t, keys, "width")
}

// declOnly adapts a bare declaration into the Converter interface for
// registry tests.
type declOnly struct {
	decl *converter.Decl
}

func (d declOnly) Decl() *converter.Decl { return d.decl }

func (d declOnly) Convert(ctx context.Context, inputs converter.Payload, options property.Properties) (converter.Payload, error) {
	return nil, nil
}
