package alerts

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func item(kind Kind) Item {
	return Item{SampleID: uuid.New(), Kind: kind}
}

func TestTracker_DiffReportsOnce(t *testing.T) {
	tr := NewTracker(10)
	a, b := item(KindResults), item(KindResults)

	assert.Equal(t, []Item{a, b}, tr.Diff([]Item{a, b}))
	assert.Empty(t, tr.Diff([]Item{a, b}))

	c := item(KindResults)
	assert.Equal(t, []Item{c}, tr.Diff([]Item{a, c, b}))
	assert.Equal(t, 3, tr.Len())
}

func TestTracker_SameSampleDifferentKind(t *testing.T) {
	tr := NewTracker(10)
	r := item(KindResults)
	rej := r
	rej.Kind = KindRejections

	assert.Len(t, tr.Diff([]Item{r}), 1)
	assert.Len(t, tr.Diff([]Item{rej}), 1)

	again := r
	again.Status = "approved"
	assert.Empty(t, tr.Diff([]Item{again}))
}

func TestTracker_DuplicatesWithinBatch(t *testing.T) {
	tr := NewTracker(10)
	a := item(KindRejections)
	assert.Equal(t, []Item{a}, tr.Diff([]Item{a, a}))
}

func TestTracker_EvictsOldest(t *testing.T) {
	tr := NewTracker(2)
	a, b, c := item(KindResults), item(KindResults), item(KindResults)

	tr.Diff([]Item{a, b})
	tr.Diff([]Item{c})
	assert.Equal(t, 2, tr.Len())

	// a was evicted, b and c are still known.
	assert.Empty(t, tr.Diff([]Item{b, c}))
	assert.Equal(t, []Item{a}, tr.Diff([]Item{a}))
	// Remembering a evicted b.
	assert.Equal(t, []Item{b}, tr.Diff([]Item{b}))
}

func TestTracker_DefaultCapacity(t *testing.T) {
	tr := NewTracker(0)
	assert.Len(t, tr.ring, DefaultTrackerCapacity)
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker(1000)
	shared := item(KindResults)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := len(tr.Diff([]Item{shared, item(KindResults)}))
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 21, total)
	assert.Equal(t, 21, tr.Len())
}
