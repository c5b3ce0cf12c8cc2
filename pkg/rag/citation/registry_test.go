package citation

import (
	"encoding/json"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AssignIsStable(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 1, reg.Assign("D2"))
	assert.Equal(t, 2, reg.Assign("D4"))
	assert.Equal(t, 1, reg.Assign("D2"))
	assert.Equal(t, 3, reg.Assign("D7"))

	n, ok := reg.Lookup("D4")
	assert.True(t, ok)
	assert.Equal(t, 2, n)

	_, ok = reg.Lookup("D9")
	assert.False(t, ok)

	assert.True(t, reg.HasNumber(3))
	assert.False(t, reg.HasNumber(0))
	assert.False(t, reg.HasNumber(4))
	assert.Equal(t, []Entry{{"D2", 1}, {"D4", 2}, {"D7", 3}}, reg.Entries())
}

func TestRegistry_Remap(t *testing.T) {
	reg := NewRegistry()
	reg.Assign("D2")
	reg.Assign("D4")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "single", in: "Lowers glucose [D2].", want: "Lowers glucose [1]."},
		{name: "grouped", in: "Shown twice [D4, D2].", want: "Shown twice [2, 1]."},
		{name: "semicolon group", in: "Shown [D2; D4].", want: "Shown [1, 2]."},
		{name: "unmapped dropped from group", in: "Mixed [D2, D9].", want: "Mixed [1]."},
		{name: "unmapped marker removed", in: "Unknown [D9].", want: "Unknown."},
		{name: "duplicate ids collapse", in: "Twice [D2, D2].", want: "Twice [1]."},
		{name: "display markers untouched", in: "Already [1] and [2, 3].", want: "Already [1] and [2, 3]."},
		{name: "non id brackets untouched", in: "See [Note] and [x].", want: "See [Note] and [x]."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.Remap(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, reg.Remap(got), "remap must be idempotent")
		})
	}
}

func TestRegistry_Canonicalize(t *testing.T) {
	reg := NewRegistry()
	reg.Assign("D1")
	assert.Equal(t, "A [D1]. B. C [D1].", reg.Canonicalize("A [D1]. B [D5]. C [D1, D5, D1]."))
}

func TestRegistry_CloneIsIndependent(t *testing.T) {
	reg := NewRegistry()
	reg.Assign("D1")
	c := reg.Clone()
	c.Assign("D2")
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 2, c.Len())
}

func TestRegistry_JSON(t *testing.T) {
	reg := NewRegistry()
	reg.Assign("D3")
	reg.Assign("D1")

	data, err := json.Marshal(reg)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"document_id":"D3","display_number":1},{"document_id":"D1","display_number":2}]`, string(data))

	restored := NewRegistry()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, 3, restored.Assign("D8"))
	assert.Equal(t, 1, restored.Assign("D3"))
}

// Numbers issued for a document never change no matter how turns interleave
func TestRegistry_StableUnderRandomInterleavings(t *testing.T) {
	docs := []string{"D1", "D2", "D3", "D4", "D5", "D6", "D7", "D8"}

	for seed := int64(0); seed < 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		reg := NewRegistry()
		var mu sync.Mutex
		first := make(map[string]int)

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			picks := make([]string, 30)
			for i := range picks {
				picks[i] = docs[rng.Intn(len(docs))]
			}
			wg.Add(1)
			go func(picks []string) {
				defer wg.Done()
				for _, id := range picks {
					mu.Lock()
					n := reg.Assign(id)
					if prev, ok := first[id]; ok {
						assert.Equal(t, prev, n)
					} else {
						first[id] = n
					}
					mu.Unlock()
				}
			}(picks)
		}
		wg.Wait()

		seen := make(map[int]bool)
		for _, e := range reg.Entries() {
			assert.False(t, seen[e.DisplayNumber], "number reused")
			seen[e.DisplayNumber] = true
		}
		for n := 1; n <= reg.Len(); n++ {
			assert.True(t, seen[n], "gap at %d", n)
		}
	}
}
