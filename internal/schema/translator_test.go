package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/mutator/internal/core"
)

func postsSchema() *core.Schema {
	return &core.Schema{
		TableName:  "posts",
		PrimaryKey: "id",
		Columns: []core.Column{
			{Name: "id", Type: "bigint"},
			{Name: "title", Type: "varchar(255)"},
			{Name: "views", Type: "int", Nullable: true},
			{Name: "published", Type: "tinyint(1)", Default: "0"},
			{Name: "tags", Type: "json", Nullable: true},
			{Name: "created_at", Type: "datetime", Nullable: true},
		},
	}
}

type scanRow struct {
	values []interface{}
	err    error
}

func (r scanRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*interface{})) = r.values[i]
	}
	return nil
}

func TestTranslator_ToInsert(t *testing.T) {
	tr := NewTranslator()

	query, args, err := tr.ToInsert(core.Record{"title": "Hello", "views": 3.0, "published": true}, postsSchema())
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `posts` (`title`, `views`, `published`) VALUES (?, ?, ?)", query)
	assert.Equal(t, []interface{}{"Hello", int64(3), true}, args)
}

func TestTranslator_ToInsertEncodesJSON(t *testing.T) {
	tr := NewTranslator()

	_, args, err := tr.ToInsert(core.Record{"id": 1, "title": "Hello", "tags": []interface{}{"a", "b"}}, postsSchema())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), "Hello", `["a","b"]`}, args)
}

func TestTranslator_ToInsertValidation(t *testing.T) {
	tr := NewTranslator()

	_, _, err := tr.ToInsert(core.Record{"views": 1}, postsSchema())
	assert.ErrorContains(t, err, "'title' cannot be NULL")

	_, _, err = tr.ToInsert(core.Record{"title": "x", "unknown": 1}, postsSchema())
	assert.ErrorContains(t, err, "unknown column")

	_, _, err = tr.ToInsert(core.Record{"title": "x", "views": "many"}, postsSchema())
	assert.ErrorContains(t, err, "type mismatch")

	_, _, err = tr.ToInsert(core.Record{"title": "x"}, nil)
	assert.Error(t, err)
}

func TestTranslator_ToUpdate(t *testing.T) {
	tr := NewTranslator()

	query, args, err := tr.ToUpdate("7", core.Record{"views": 10, "title": "World"}, postsSchema())
	require.NoError(t, err)
	assert.Equal(t, "UPDATE `posts` SET `title` = ?, `views` = ? WHERE `id` = ?", query)
	assert.Equal(t, []interface{}{"World", int64(10), int64(7)}, args)
}

func TestTranslator_ToUpdateIgnoresUnchangedPrimaryKey(t *testing.T) {
	tr := NewTranslator()

	query, args, err := tr.ToUpdate(7, core.Record{"id": "7", "title": "World"}, postsSchema())
	require.NoError(t, err)
	assert.Equal(t, "UPDATE `posts` SET `title` = ? WHERE `id` = ?", query)
	assert.Equal(t, []interface{}{"World", int64(7)}, args)

	_, _, err = tr.ToUpdate(7, core.Record{"id": 8}, postsSchema())
	assert.ErrorContains(t, err, "cannot update primary key")
}

func TestTranslator_ToUpdateRejectsBadInput(t *testing.T) {
	tr := NewTranslator()

	_, _, err := tr.ToUpdate(nil, core.Record{"title": "x"}, postsSchema())
	assert.ErrorContains(t, err, "invalid primary key")

	_, _, err = tr.ToUpdate(1, core.Record{}, postsSchema())
	assert.ErrorContains(t, err, "cannot be empty")

	_, _, err = tr.ToUpdate(1, core.Record{"title": nil}, postsSchema())
	assert.ErrorContains(t, err, "cannot be NULL")
}

func TestTranslator_ToSelect(t *testing.T) {
	tr := NewTranslator()
	cols := "`id`, `title`, `views`, `published`, `tags`, `created_at`"

	query, args, err := tr.ToSelect(postsSchema())
	require.NoError(t, err)
	assert.Equal(t, "SELECT "+cols+" FROM `posts` ORDER BY `id`", query)
	assert.Empty(t, args)

	query, args, err = tr.ToSelect(postsSchema(), 1)
	require.NoError(t, err)
	assert.Equal(t, "SELECT "+cols+" FROM `posts` WHERE `id` = ?", query)
	assert.Equal(t, []interface{}{int64(1)}, args)

	query, args, err = tr.ToSelect(postsSchema(), 1, "2")
	require.NoError(t, err)
	assert.Equal(t, "SELECT "+cols+" FROM `posts` WHERE `id` IN (?, ?)", query)
	assert.Equal(t, []interface{}{int64(1), int64(2)}, args)
}

func TestTranslator_ToDelete(t *testing.T) {
	tr := NewTranslator()

	query, args, err := tr.ToDelete(postsSchema(), 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `posts` WHERE `id` IN (?, ?, ?)", query)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, args)

	_, _, err = tr.ToDelete(postsSchema())
	assert.Error(t, err)

	_, _, err = tr.ToDelete(postsSchema(), 1, nil)
	assert.Error(t, err)
}

func TestTranslator_FromRow(t *testing.T) {
	tr := NewTranslator()
	row := scanRow{values: []interface{}{
		[]byte("7"),
		[]byte("Hello"),
		nil,
		int64(1),
		[]byte(`{"a":1}`),
		time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}

	record, err := tr.FromRow(row, postsSchema())
	require.NoError(t, err)
	assert.Equal(t, core.Record{
		"id":         int64(7),
		"title":      "Hello",
		"views":      nil,
		"published":  true,
		"tags":       map[string]interface{}{"a": float64(1)},
		"created_at": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}, record)
}

func TestTranslator_FromRowScanError(t *testing.T) {
	tr := NewTranslator()

	_, err := tr.FromRow(scanRow{err: errors.New("boom")}, postsSchema())
	assert.ErrorContains(t, err, "boom")
}

func TestTypeMapper_Conversions(t *testing.T) {
	tm := NewTypeMapper()

	_, err := tm.ConvertToDBValue(2.5, "int")
	assert.Error(t, err)

	v, err := tm.ConvertToDBValue("12.50", "decimal(10,2)")
	require.NoError(t, err)
	assert.Equal(t, "12.50", v)

	v, err = tm.ConvertToDBValue("2024-01-02 03:04:05", "timestamp")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), v)

	v, err = tm.ConvertFromDBValue([]byte("1.5"), "double")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	_, err = tm.ConvertToDBValue("yes", "bool")
	assert.Error(t, err)
}
