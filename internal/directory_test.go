package internal_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/koopa0/system-design/trivia-rooms/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_Create(t *testing.T) {
	tests := []struct {
		name     string
		roomName string
		wantOK   bool
	}{
		{"valid name", "Trivia", true},
		{"trimmed name", "  Movies  ", true},
		{"empty name", "", false},
		{"blank name", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := internal.NewDirectory(internal.NewRegistry())

			id, ok := d.Create(tt.roomName, "desc", "player1")
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Empty(t, id)
				assert.Equal(t, 0, d.Count())
				return
			}

			assert.True(t, strings.HasPrefix(id, "room_"))
			view, found := d.Get(id)
			require.True(t, found)
			assert.Equal(t, strings.TrimSpace(tt.roomName), view.Name)
			assert.Equal(t, "desc", view.Description)
			assert.Equal(t, "player1", view.CreatedBy)
			assert.False(t, view.CreatedAt.IsZero())
			assert.Equal(t, 0, view.UserCount)
			assert.Empty(t, view.Users)
		})
	}
}

func TestDirectory_UniqueIDs(t *testing.T) {
	d := internal.NewDirectory(internal.NewRegistry())

	seen := make(map[string]bool)
	for i := range 500 {
		id, ok := d.Create(fmt.Sprintf("room %d", i), "", "x")
		require.True(t, ok)
		require.False(t, seen[id], "duplicate room id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 500, d.Count())
}

func TestDirectory_GetDerivesOccupancy(t *testing.T) {
	reg := internal.NewRegistry()
	d := internal.NewDirectory(reg)
	id, _ := d.Create("Trivia", "", "x")

	a := reg.Register("a")
	b := reg.Register("b")
	reg.Register("c")
	reg.SetRoom("a", id)
	reg.SetRoom("b", id)

	view, ok := d.Get(id)
	require.True(t, ok)
	assert.Equal(t, 2, view.UserCount)
	assert.ElementsMatch(t, []string{a.Username, b.Username}, view.Users)

	// 人數永遠等於 RoomID 指向此房間的連線數
	reg.SetRoom("a", "")
	view, _ = d.Get(id)
	assert.Equal(t, 1, view.UserCount)

	_, ok = d.Get("missing")
	assert.False(t, ok)
}

func TestDirectory_ListAllOrdersByOccupancy(t *testing.T) {
	reg := internal.NewRegistry()
	d := internal.NewDirectory(reg)

	counts := []int{3, 1, 5}
	ids := make([]string, len(counts))
	conn := 0
	for i, n := range counts {
		ids[i], _ = d.Create(fmt.Sprintf("room-%d", n), "", "x")
		for range n {
			connID := fmt.Sprintf("c%d", conn)
			conn++
			reg.Register(connID)
			reg.SetRoom(connID, ids[i])
		}
	}

	rooms := d.ListAll()
	require.Len(t, rooms, 3)

	got := make([]int, len(rooms))
	for i, r := range rooms {
		got[i] = r.UserCount
	}
	assert.Equal(t, []int{5, 3, 1}, got)
	assert.Equal(t, ids[2], rooms[0].ID)
}
