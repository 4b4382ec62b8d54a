package patricia

import "sort"
import "testing"

import "github.com/stretchr/testify/require"


// TestOrderedIteration covers S7: keys come back from SeekFirst/Next in strict
// lexicographic order, and SeekLowerBound lands on the correct resume point.
func TestOrderedIteration(t *testing.T) {
	tr := openTestTrie(t, SingleThreadStrict)
	tok := tr.AcquireWriter()
	defer tok.Dispose()

	keys := []string{"banana", "apple", "app", "apply", "band", "bandana", "", "z"}
	for _, k := range keys {
		_, _, err := tr.Insert(tok, []byte(k), val8(k))
		require.NoError(t, err)
	}

	want := append([]string(nil), keys...)
	sort.Strings(want)

	it := tr.Iterator(tok)
	got := make([]string, 0, len(keys))
	for ok := it.SeekFirst(); ok; ok = it.Next() {
		got = append(got, string(it.Key()))
		require.Equal(t, val8(string(it.Key())), it.Value())
	}

	require.Equal(t, want, got)
}

func TestSeekLowerBound(t *testing.T) {
	tr := openTestTrie(t, SingleThreadStrict)
	tok := tr.AcquireWriter()
	defer tok.Dispose()

	for _, k := range []string{"apple", "banana", "cherry", "date"} {
		_, _, err := tr.Insert(tok, []byte(k), val8(k))
		require.NoError(t, err)
	}

	it := tr.Iterator(tok)
	require.True(t, it.SeekLowerBound([]byte("b")))
	require.Equal(t, "banana", string(it.Key()))

	it2 := tr.Iterator(tok)
	require.True(t, it2.SeekLowerBound([]byte("banana")))
	require.Equal(t, "banana", string(it2.Key()))

	it3 := tr.Iterator(tok)
	require.False(t, it3.SeekLowerBound([]byte("zzz")))
}

func TestIteratorReverse(t *testing.T) {
	tr := openTestTrie(t, SingleThreadStrict)
	tok := tr.AcquireWriter()
	defer tok.Dispose()

	for _, k := range []string{"a", "b", "c", "d"} {
		_, _, err := tr.Insert(tok, []byte(k), val8(k))
		require.NoError(t, err)
	}

	it := tr.Iterator(tok)
	require.True(t, it.SeekLast())
	require.Equal(t, "d", string(it.Key()))

	require.True(t, it.Prev())
	require.Equal(t, "c", string(it.Key()))

	require.True(t, it.Prev())
	require.Equal(t, "b", string(it.Key()))

	require.True(t, it.Next())
	require.Equal(t, "c", string(it.Key()))
}

func TestCountAndForEachPrefix(t *testing.T) {
	tr := openTestTrie(t, SingleThreadStrict)
	tok := tr.AcquireWriter()
	defer tok.Dispose()

	for _, k := range []string{"car", "cart", "care", "cat", "dog"} {
		_, _, err := tr.Insert(tok, []byte(k), val8(k))
		require.NoError(t, err)
	}

	require.Equal(t, 4, tr.CountPrefix(tok, []byte("ca")))
	require.Equal(t, 1, tr.CountPrefix(tok, []byte("dog")))
	require.Equal(t, 0, tr.CountPrefix(tok, []byte("zzz")))

	var seen []string
	tr.ForEachPrefix(tok, []byte("car"), func(key, value []byte) bool {
		seen = append(seen, string(key))
		return true
	})
	sort.Strings(seen)
	require.Equal(t, []string{"car", "care", "cart"}, seen)
}
