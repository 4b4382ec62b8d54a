package patricia

import "fmt"
import "sync"
import "testing"

import "github.com/stretchr/testify/require"
import "golang.org/x/sync/errgroup"


// TestConcurrentInserts covers S5: many writer goroutines inserting disjoint keys under
// MultiWriteMultiRead must all land, with no key lost to a lost CAS race.
func TestConcurrentInserts(t *testing.T) {
	tr := openTestTrie(t, MultiWriteMultiRead)

	const goroutines = 16
	const perGoroutine = 64

	var g errgroup.Group
	for w := 0; w < goroutines; w++ {
		w := w
		g.Go(func() error {
			tok := tr.AcquireWriter()
			defer tok.Dispose()

			for i := 0; i < perGoroutine; i++ {
				key := []byte(fmt.Sprintf("w%02d-k%04d", w, i))
				if _, _, err := tr.Insert(tok, key, val8(key)); err != nil { return err }
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())

	tok := tr.AcquireReader()
	defer tok.Dispose()

	for w := 0; w < goroutines; w++ {
		for i := 0; i < perGoroutine; i++ {
			key := []byte(fmt.Sprintf("w%02d-k%04d", w, i))
			v, ok := tr.Lookup(tok, key)
			require.True(t, ok, "missing key %s", key)
			require.Equal(t, val8(key), v)
		}
	}

	require.EqualValues(t, goroutines*perGoroutine, tr.Stats().NumWords)
}

// TestConcurrentReadersDuringWrites covers readers never observing a torn node: every
// value a concurrent reader sees for a key must be one of the values actually written
// for it, never a mix of old and new bytes.
func TestConcurrentReadersDuringWrites(t *testing.T) {
	tr := openTestTrie(t, MultiWriteMultiRead)

	writer := tr.AcquireWriter()
	defer writer.Dispose()

	key := []byte("shared")
	_, _, err := tr.Insert(writer, key, val8("v0"))
	require.NoError(t, err)

	written := map[string]bool{string(val8("v0")): true}
	for i := 1; i <= 50; i++ { written[string(val8(fmt.Sprintf("v%d", i)))] = true }

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			tok := tr.AcquireReader()
			defer tok.Dispose()

			for {
				select {
					case <-stop:
						return
					default:
				}

				v, ok := tr.Lookup(tok, key)
				if !ok { continue }
				if !written[string(v)] { t.Errorf("torn read: %v", v); return }
			}
		}()
	}

	for i := 1; i <= 50; i++ {
		_, _, err := tr.Insert(writer, key, val8(fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
	}

	close(stop)
	wg.Wait()
}
