package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTableIsValid(t *testing.T) {
	t.Parallel()

	table := DefaultTable()
	require.NoError(t, table.Validate())
	require.Len(t, table.Fields(), len(knownFields))
	require.Equal(t, "h1.vtex-store-components-3-x-productNameContainer", table[FieldProductName][0].Selector)
}

func TestLoadTableOverridesField(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	content := []byte(`
price:
  - name: custom
    selector: span.precio
sku:
  - name: data-attr
    selector: "[data-product-id]"
    attr: data-product-id
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	table, err := LoadTable(path)
	require.NoError(t, err)
	require.Equal(t, []Strategy{{Name: "custom", Selector: "span.precio"}}, table[FieldPrice])
	require.Equal(t, "data-product-id", table[FieldSKU][0].Attr)
	require.Equal(t, DefaultTable()[FieldBrand], table[FieldBrand])
}

func TestLoadTableRejectsUnknownField(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("colour:\n  - selector: .c\n"), 0o600))

	_, err := LoadTable(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestLoadTableRejectsEmptySelector(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("brand:\n  - name: blank\n"), 0o600))

	_, err := LoadTable(path)
	require.Error(t, err)
}

func TestLoadTableMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
