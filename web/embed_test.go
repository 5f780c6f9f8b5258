package web

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetsRootedBelowStatic(t *testing.T) {
	assets, err := Assets()
	require.NoError(t, err)

	_, err = fs.Stat(assets, "css/app.css")
	assert.NoError(t, err)
	_, err = fs.Stat(assets, "static/css/app.css")
	assert.Error(t, err)
}

func TestTemplateGlobsCoverEveryTemplate(t *testing.T) {
	var matched int
	for _, glob := range TemplateGlobs {
		names, err := fs.Glob(Templates, glob)
		require.NoError(t, err)
		require.NotEmpty(t, names, glob)
		matched += len(names)
	}

	var total int
	require.NoError(t, fs.WalkDir(Templates, "templates", func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			total++
		}
		return err
	}))
	assert.Equal(t, total, matched)

	_, err := fs.Stat(Templates, "templates/pages/login.html")
	assert.NoError(t, err)
}
