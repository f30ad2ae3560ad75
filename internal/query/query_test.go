package query

import (
	"testing"

	"github.com/VochanecA/TextDBX/internal/filter"
	"github.com/VochanecA/TextDBX/internal/record"
	"github.com/stretchr/testify/require"
)

func sample() record.Collection {
	return record.Collection{
		{"a": float64(1), "b": "x"},
		{"a": float64(2), "b": "y"},
		{"a": float64(3), "b": "x"},
	}
}

func TestFilterCombinatorScenario(t *testing.T) {
	got, err := Run(sample(), Options{
		Filter: filter.Filter{"$or": []interface{}{
			map[string]interface{}{"a": map[string]interface{}{"$gt": float64(2)}},
			map[string]interface{}{"b": "y"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, float64(2), got[0]["a"])
	require.Equal(t, float64(3), got[1]["a"])
}

func TestSkipAndLimit(t *testing.T) {
	got, err := Run(sample(), Options{Skip: 1, Limit: 1, HasLimit: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, float64(2), got[0]["a"])
}

func TestSortAscendingNullsFirst(t *testing.T) {
	records := record.Collection{
		{"a": float64(2)},
		{"a": nil},
		{"a": float64(1)},
	}
	got, err := Run(records, Options{Sort: []SortKey{{Field: "a", Direction: 1}}})
	require.NoError(t, err)
	require.Nil(t, got[0]["a"])
	require.Equal(t, float64(1), got[1]["a"])
	require.Equal(t, float64(2), got[2]["a"])
}

func TestSortDescendingNullsLast(t *testing.T) {
	records := record.Collection{
		{"a": float64(1)},
		{"a": nil},
		{"a": float64(2)},
	}
	got, err := Run(records, Options{Sort: []SortKey{{Field: "a", Direction: -1}}})
	require.NoError(t, err)
	require.Equal(t, float64(2), got[0]["a"])
	require.Equal(t, float64(1), got[1]["a"])
	require.Nil(t, got[2]["a"])
}

func TestProjectionKeepsOnlyNamedPresentFields(t *testing.T) {
	records := record.Collection{{"a": float64(1), "b": "x"}}
	got, err := Run(records, Options{Projection: []string{"a", "missing"}})
	require.NoError(t, err)
	require.Equal(t, record.Record{"a": float64(1)}, got[0])
}

func TestNegativeLimitRejected(t *testing.T) {
	_, err := Run(sample(), Options{Limit: -1, HasLimit: true})
	require.Error(t, err)
}
