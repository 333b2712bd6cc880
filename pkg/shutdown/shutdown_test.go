package shutdown

import "testing"

func TestHooksRunNewestFirstOnce(t *testing.T) {
	h := &Hooks{}
	var order []string
	h.Register("store", func() { order = append(order, "store") })
	h.Register("scheduler", func() { order = append(order, "scheduler") })
	h.Register("server", func() { order = append(order, "server") })

	h.Run()
	h.Run() // second call is a no-op

	want := []string{"server", "scheduler", "store"}
	if len(order) != len(want) {
		t.Fatalf("steps ran %d times: %v", len(order), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("wrong order: %v", order)
		}
	}
}
