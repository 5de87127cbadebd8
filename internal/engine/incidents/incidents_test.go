package incidents

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/persistence/kv"
)

func sample(i int) Entry {
	f := finding.Finding{
		Offender:    "Alice",
		Identity:    "alice",
		Category:    finding.ContainerExploitA,
		Description: "minecraft:bundle",
		Location:    probe.Vec3i{X: i, Y: 64, Z: -3},
		Dimension:   "overworld",
	}
	return FromFinding(f, int64(i)*1000, []string{"Bob"}, i, i)
}

func TestRingKeepsNewestAndExportsNewestFirst(t *testing.T) {
	l := New(kv.NewMemory(0), Options{Max: 3})
	for i := 1; i <= 5; i++ {
		l.Append(sample(i))
	}
	got := l.Newest(0)
	if len(got) != 3 || got[0].Location.X != 5 || got[2].Location.X != 3 {
		t.Fatalf("got %+v", got)
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Fatalf("entries need distinct ids")
	}
	if top := l.Newest(1); len(top) != 1 || top[0].Location.X != 5 {
		t.Fatalf("limit ignored: %+v", top)
	}
	if n := l.Clear(); n != 3 || l.Len() != 0 {
		t.Fatalf("clear=%d len=%d", n, l.Len())
	}
}

func TestTextFormat(t *testing.T) {
	e := sample(2)
	want := "1970-01-01T00:00:02.000Z | Alice | Hopper Bundle Dupe | minecraft:bundle | 2, 64, -3 | nearby: Bob"
	if got := e.Text(); got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
	e.Nearby = nil
	if !strings.HasSuffix(e.Text(), "nearby: None") {
		t.Fatalf("empty nearby list should read None: %q", e.Text())
	}
	if Export(nil) != "No dupe logs." {
		t.Fatalf("empty export")
	}
}

func TestPersistedWithinCap(t *testing.T) {
	mem := kv.NewMemory(0)
	l := New(mem, Options{Cap: 2000})
	for i := 0; i < 100; i++ {
		e := sample(i)
		e.Description = fmt.Sprintf("%s-%03d", strings.Repeat("d", 40), i)
		l.Append(e)
	}
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}
	raw, _, _ := mem.Get(Key)
	if len(raw) > 2000 {
		t.Fatalf("stored %d bytes", len(raw))
	}
	var stored []Entry
	if err := json.Unmarshal(raw, &stored); err != nil || len(stored) == 0 {
		t.Fatalf("stored=%d err=%v", len(stored), err)
	}
	if stored[len(stored)-1].Location.X != 99 {
		t.Fatalf("newest entry should survive trimming")
	}

	reloaded := New(mem, Options{Cap: 2000})
	if reloaded.Newest(1)[0].Location.X != 99 {
		t.Fatalf("reload lost newest entry")
	}
}

func TestLoadClampsToMax(t *testing.T) {
	mem := kv.NewMemory(0)
	big := New(mem, Options{Max: 10})
	for i := 0; i < 10; i++ {
		big.Append(sample(i))
	}
	_ = big.Flush()
	small := New(mem, Options{Max: 4})
	if small.Len() != 4 || small.Newest(1)[0].Location.X != 9 {
		t.Fatalf("len=%d", small.Len())
	}
}

func TestDescriptionTrimKeepsValidUTF8(t *testing.T) {
	es := []Entry{{Description: "x" + strings.Repeat("é", 20)}}
	if !trimStages()[1](&es) {
		t.Fatalf("long description not trimmed")
	}
	d := es[0].Description
	if len(d) > descTrimLen || !utf8.ValidString(d) {
		t.Fatalf("description=%q (%d bytes)", d, len(d))
	}
}
