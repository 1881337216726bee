package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalog = `[
	{"id": "42", "title": "Mug", "price": "150.00", "tags": ["kitchen"]},
	{"id": "5", "title": "Notebook", "price": "99.99"}
]`

func TestParseProducts(t *testing.T) {
	products, err := parseProducts(strings.NewReader(catalog))
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "42", products[0].ID)
	assert.Equal(t, "Mug", products[0].Title)
	assert.Equal(t, "150", products[0].Price.String())
	assert.Equal(t, "99.99", products[1].Price.String())
}

func TestParseProducts_Invalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		in   string
	}{
		{name: "NotArray", in: `{"id": "1"}`},
		{name: "EmptyID", in: `[{"title": "x", "price": "1.00"}]`},
		{name: "BadPrice", in: `[{"id": "1", "price": "cheap"}]`},
		{name: "NegativePrice", in: `[{"id": "1", "price": "-1.00"}]`},
		{name: "NumericPrice", in: `[{"id": "1", "price": 1.5}]`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseProducts(strings.NewReader(tt.in))
			assert.Error(t, err)
		})
	}
}

func TestReadProducts_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := pgzip.NewWriter(f)
	_, err = zw.Write([]byte(catalog))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	products, err := readProducts(path)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestReadProducts_SeedFile(t *testing.T) {
	products, err := readProducts(filepath.Join("..", "..", "db", "seed", "products.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, products)
}
